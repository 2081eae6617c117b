package report

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/gateway"
	"github.com/ent0n29/companion/internal/reliability"
)

var fixedKeyOrder = []string{
	"report_date",
	"user_id",
	"conversation_summary",
	"keyword_analysis",
	"emotional_physical_state",
	"meal_status",
	"requested_items",
	"family_talking_points",
}

func TestAssembleDailyFillsDefaultsInFixedOrder(t *testing.T) {
	analysis := map[string]json.RawMessage{
		"conversation_summary": json.RawMessage(`{"text":"Talked about lunch."}`),
		"meal_status":          json.RawMessage(`"ate well"`),
		"requested_items":      json.RawMessage(`["socks"]`),
		"keyword_analysis":     json.RawMessage(`null`),
		"surprise_key":         json.RawMessage(`1`),
	}
	rep, defaulted := AssembleDaily("2024-05-01", "u1", analysis)

	assert.ElementsMatch(t, []string{"keyword_analysis", "emotional_physical_state", "family_talking_points"}, defaulted)

	body, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.Equal(t, fixedKeyOrder, topLevelKeys(t, body))
	assert.JSONEq(t, `{
		"report_date": "2024-05-01",
		"user_id": "u1",
		"conversation_summary": {"text":"Talked about lunch."},
		"keyword_analysis": {},
		"emotional_physical_state": {},
		"meal_status": "ate well",
		"requested_items": ["socks"],
		"family_talking_points": []
	}`, string(body))
}

func TestAssembleDailyKeepsValuesOfUnexpectedType(t *testing.T) {
	analysis := map[string]json.RawMessage{
		"conversation_summary":  json.RawMessage(`"Talked about the garden."`),
		"family_talking_points": json.RawMessage(`"ask about the roses"`),
	}
	rep, defaulted := AssembleDaily("2024-05-01", "u1", analysis)

	assert.NotContains(t, defaulted, "conversation_summary")
	assert.NotContains(t, defaulted, "family_talking_points")
	assert.JSONEq(t, `"Talked about the garden."`, string(rep.ConversationSummary))
	assert.JSONEq(t, `"ask about the roses"`, string(rep.FamilyTalkingPoints))
	assert.JSONEq(t, `[]`, string(rep.RequestedItems))
}

func TestAssembleDailyEmptyAnalysis(t *testing.T) {
	rep, defaulted := AssembleDaily("2024-05-01", "u1", nil)
	assert.Len(t, defaulted, len(AnalysisKeys()))
	body, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.Equal(t, fixedKeyOrder, topLevelKeys(t, body))
}

func TestDailyGeneratorUpsertsPerDay(t *testing.T) {
	ctx := context.Background()
	kst := time.FixedZone("KST", 9*60*60)
	turns := conversation.NewInMemoryStore()
	store := NewInMemoryStore()
	appendTurn(t, turns, "u1", "I need new slippers", time.Date(2024, 5, 1, 10, 0, 0, 0, kst))
	appendTurn(t, turns, "u1", "tomorrow's turn", time.Date(2024, 5, 2, 10, 0, 0, 0, kst))

	var calls atomic.Int32
	completer := &gateway.MockCompleter{Respond: func(p string, opts gateway.CompletionOptions) (string, error) {
		calls.Add(1)
		assert.True(t, opts.JSON)
		assert.NotContains(t, p, "tomorrow's turn")
		return `{"requested_items":["slippers"],"conversation_summary":{"text":"v` + string(rune('0'+calls.Load())) + `"}}`, nil
	}}
	g := NewDailyGenerator(turns, store, completer, reportPrompt, kst)

	day, err := g.ParseDay("2024-05-01")
	require.NoError(t, err)

	rep, found, err := g.Generate(ctx, "u1", day)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `["slippers"]`, string(rep.RequestedItems))

	_, _, err = g.Generate(ctx, "u1", day)
	require.NoError(t, err)

	stored, err := store.List(ctx, "u1", KindDaily, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "2024-05-01", stored[0].PeriodKey)
	assert.Contains(t, stored[0].Summary, `"text":"v2"`)
	assert.True(t, strings.HasPrefix(stored[0].Summary, `{"report_date":"2024-05-01","user_id":"u1",`))
}

func TestDailyGeneratorSkipsEmptyDay(t *testing.T) {
	completer := &gateway.MockCompleter{}
	g := NewDailyGenerator(conversation.NewInMemoryStore(), NewInMemoryStore(), completer, reportPrompt, time.UTC)
	_, found, err := g.Generate(context.Background(), "u1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, completer.Prompts())
}

func TestDailyGeneratorInvalidJSONFailsClosed(t *testing.T) {
	ctx := context.Background()
	turns := conversation.NewInMemoryStore()
	store := NewInMemoryStore()
	appendTurn(t, turns, "u1", "hi", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	completer := &gateway.MockCompleter{Respond: func(string, gateway.CompletionOptions) (string, error) {
		return "Sure! Here's the report: ...", nil
	}}
	g := NewDailyGenerator(turns, store, completer, reportPrompt, time.UTC)

	_, _, err := g.Generate(ctx, "u1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, gateway.ErrInvalidJSON)
	stored, err := store.List(ctx, "u1", KindDaily, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestDailyGeneratorRetriesRetryableFailures(t *testing.T) {
	ctx := context.Background()
	turns := conversation.NewInMemoryStore()
	appendTurn(t, turns, "u1", "hi", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	var calls atomic.Int32
	completer := &gateway.MockCompleter{Respond: func(string, gateway.CompletionOptions) (string, error) {
		if calls.Add(1) < 3 {
			return "", reliability.RetryableGateway("complete", errors.New("429"))
		}
		return `{}`, nil
	}}
	g := NewDailyGenerator(turns, NewInMemoryStore(), completer, reportPrompt, time.UTC,
		WithDailyBackoff(func(int) time.Duration { return time.Millisecond }))

	_, found, err := g.Generate(ctx, "u1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGenerateForAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	turns := conversation.NewInMemoryStore()
	for _, u := range []string{"alice", "bob", "carol"} {
		appendTurn(t, turns, u, "hello from "+u, day.Add(9*time.Hour))
	}
	completer := &gateway.MockCompleter{Respond: func(p string, _ gateway.CompletionOptions) (string, error) {
		if strings.Contains(p, "bob") {
			return "", errors.New("provider down")
		}
		return `{"family_talking_points":["garden"]}`, nil
	}}
	store := NewInMemoryStore()
	g := NewDailyGenerator(turns, store, completer, reportPrompt, time.UTC)

	res, err := g.GenerateForAll(ctx, day, 2)
	require.NoError(t, err)
	sort.Strings(res.Generated)
	assert.Equal(t, []string{"alice", "carol"}, res.Generated)
	require.Contains(t, res.Failed, "bob")
	assert.True(t, reliability.IsKind(res.Failed["bob"], reliability.KindGateway))

	stored, err := store.List(ctx, "carol", KindDaily, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestYesterdayUsesReportTimezone(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	// 2024-05-02 01:00 KST is still 2024-05-01 in UTC.
	now := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)
	g := NewDailyGenerator(nil, nil, nil, reportPrompt, kst, WithDailyClock(func() time.Time { return now }))
	assert.Equal(t, "2024-05-01", g.Yesterday().Format(DateLayout))
}

func topLevelKeys(t *testing.T, body []byte) []string {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(string(body)))
	tok, err := dec.Token()
	require.NoError(t, err)
	require.Equal(t, json.Delim('{'), tok)
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		require.NoError(t, err)
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		require.NoError(t, dec.Decode(&skip))
	}
	return keys
}
