package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/companion/internal/gateway"
	"github.com/ent0n29/companion/internal/reliability"
)

func summaryPrompt(transcript string) (string, error) {
	return "summarise:\n" + transcript, nil
}

func newTestWriter(c gateway.Completer, e *fakeEmbedder, idx *fakeIndex) *Writer {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewWriter(e, c, idx, summaryPrompt, WithWriterClock(func() time.Time { return fixed }))
}

func TestWriterEmptySessionIsNoop(t *testing.T) {
	c := &gateway.MockCompleter{}
	e := &fakeEmbedder{}
	idx := &fakeIndex{}

	_, found, err := newTestWriter(c, e, idx).Write(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, c.Prompts())
	assert.Empty(t, e.calls)
	assert.Empty(t, idx.upserts)
}

func TestWriterStoresShortSessionVerbatim(t *testing.T) {
	c := &gateway.MockCompleter{}
	e := &fakeEmbedder{}
	idx := &fakeIndex{}
	log := []string{"user: hi", "ai: hello", "user: bye"}

	rec, found, err := newTestWriter(c, e, idx).Write(context.Background(), "u1", log)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, KindUtterance, rec.Kind)
	assert.Equal(t, "user: hi\nai: hello\nuser: bye", rec.Text)
	assert.Empty(t, c.Prompts())
	assert.Equal(t, []string{rec.Text}, e.calls)
	require.Len(t, idx.upserts, 1)
	assert.NotEmpty(t, idx.upserts[0].ID)
	assert.Equal(t, "u1", idx.upserts[0].Metadata()[MetaUserID])
	assert.Equal(t, "2024-03-01T12:00:00Z", idx.upserts[0].Metadata()[MetaTimestamp])
}

func TestWriterSummarisesFromFourLines(t *testing.T) {
	var gotOpts gateway.CompletionOptions
	c := &gateway.MockCompleter{Respond: func(_ string, opts gateway.CompletionOptions) (string, error) {
		gotOpts = opts
		return "  User talked about Busan with Mina.  ", nil
	}}
	e := &fakeEmbedder{}
	idx := &fakeIndex{}
	log := []string{"user: I went to Busan", "ai: nice", "user: with Mina", "ai: lovely"}

	rec, found, err := newTestWriter(c, e, idx).Write(context.Background(), "u1", log)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, KindSummary, rec.Kind)
	assert.Equal(t, "User talked about Busan with Mina.", rec.Text)
	assert.Equal(t, 200, gotOpts.MaxTokens)
	assert.InDelta(t, 0.3, gotOpts.Temperature, 1e-9)
	require.Len(t, c.Prompts(), 1)
	assert.Contains(t, c.Prompts()[0], "user: I went to Busan\nai: nice")
	assert.Equal(t, []string{"User talked about Busan with Mina."}, e.calls)
	assert.Len(t, idx.upserts, 1)
}

func TestWriterFailuresAreClassified(t *testing.T) {
	log := []string{"a", "b", "c", "d"}

	c := &gateway.MockCompleter{Respond: func(string, gateway.CompletionOptions) (string, error) { return "", errBoom }}
	idx := &fakeIndex{}
	_, _, err := newTestWriter(c, &fakeEmbedder{}, idx).Write(context.Background(), "u1", log)
	assert.True(t, reliability.IsKind(err, reliability.KindGateway))
	assert.Empty(t, idx.upserts)

	blank := &gateway.MockCompleter{Respond: func(string, gateway.CompletionOptions) (string, error) { return "  ", nil }}
	_, _, err = newTestWriter(blank, &fakeEmbedder{}, idx).Write(context.Background(), "u1", log)
	assert.ErrorIs(t, err, gateway.ErrEmptyOutput)
	assert.Empty(t, idx.upserts)

	_, _, err = newTestWriter(&gateway.MockCompleter{}, &fakeEmbedder{err: errBoom}, idx).Write(context.Background(), "u1", log[:1])
	assert.True(t, reliability.IsKind(err, reliability.KindGateway))

	failing := &fakeIndex{upsertErr: errBoom}
	_, _, err = newTestWriter(&gateway.MockCompleter{}, &fakeEmbedder{}, failing).Write(context.Background(), "u1", log[:1])
	assert.True(t, reliability.IsKind(err, reliability.KindIndex))
	assert.ErrorIs(t, err, errBoom)
}
