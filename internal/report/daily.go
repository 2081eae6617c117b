package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/gateway"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/reliability"
)

const (
	DateLayout = "2006-01-02"

	dailyReportMaxTokens   = 1200
	dailyReportTemperature = 0.3
	dailyMaxAttempts       = 3
)

// DailyReport is the structured daily record. Field order is the persisted
// key order. Every analysis field is always present.
type DailyReport struct {
	ReportDate             string          `json:"report_date"`
	UserID                 string          `json:"user_id"`
	ConversationSummary    json.RawMessage `json:"conversation_summary"`
	KeywordAnalysis        json.RawMessage `json:"keyword_analysis"`
	EmotionalPhysicalState json.RawMessage `json:"emotional_physical_state"`
	MealStatus             json.RawMessage `json:"meal_status"`
	RequestedItems         json.RawMessage `json:"requested_items"`
	FamilyTalkingPoints    json.RawMessage `json:"family_talking_points"`
}

type fieldType int

const (
	objectField fieldType = iota
	listField
)

func (t fieldType) defaultValue() json.RawMessage {
	if t == listField {
		return json.RawMessage(`[]`)
	}
	return json.RawMessage(`{}`)
}

// present reports whether the model supplied a usable value. Any valid JSON
// other than null is kept as returned, whatever its type.
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && json.Valid(raw) && !bytes.Equal(raw, []byte("null"))
}

// analysisFields lists the model-produced keys in persisted order.
var analysisFields = []struct {
	key string
	typ fieldType
	set func(*DailyReport, json.RawMessage)
}{
	{"conversation_summary", objectField, func(r *DailyReport, v json.RawMessage) { r.ConversationSummary = v }},
	{"keyword_analysis", objectField, func(r *DailyReport, v json.RawMessage) { r.KeywordAnalysis = v }},
	{"emotional_physical_state", objectField, func(r *DailyReport, v json.RawMessage) { r.EmotionalPhysicalState = v }},
	{"meal_status", objectField, func(r *DailyReport, v json.RawMessage) { r.MealStatus = v }},
	{"requested_items", listField, func(r *DailyReport, v json.RawMessage) { r.RequestedItems = v }},
	{"family_talking_points", listField, func(r *DailyReport, v json.RawMessage) { r.FamilyTalkingPoints = v }},
}

// AnalysisKeys returns the keys the model is asked to produce, in order.
func AnalysisKeys() []string {
	keys := make([]string, len(analysisFields))
	for i, f := range analysisFields {
		keys[i] = f.key
	}
	return keys
}

// AssembleDaily builds the final record from a model analysis. Keys that are
// missing or null get their field's default (list fields [], others {});
// keys the schema does not know are dropped. It returns the keys that were
// defaulted.
func AssembleDaily(day, userID string, analysis map[string]json.RawMessage) (DailyReport, []string) {
	rep := DailyReport{ReportDate: day, UserID: userID}
	var defaulted []string
	for _, f := range analysisFields {
		v, ok := analysis[f.key]
		if !ok || !present(v) {
			v = f.typ.defaultValue()
			defaulted = append(defaulted, f.key)
		}
		f.set(&rep, bytes.TrimSpace(v))
	}
	return rep, defaulted
}

// DailyGenerator produces structured daily reports.
type DailyGenerator struct {
	turns     conversation.Store
	store     Store
	completer gateway.Completer
	prompt    TranscriptPrompt
	loc       *time.Location
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
	backoff   func(attempt int) time.Duration
}

type DailyOption func(*DailyGenerator)

func WithDailyClock(now func() time.Time) DailyOption {
	return func(g *DailyGenerator) { g.now = now }
}

func WithDailyMetrics(m *observability.Metrics) DailyOption {
	return func(g *DailyGenerator) { g.metrics = m }
}

func WithDailyLogger(l *zap.Logger) DailyOption {
	return func(g *DailyGenerator) { g.logger = l }
}

// WithDailyBackoff overrides the wait between retries of a retryable gateway failure.
func WithDailyBackoff(f func(attempt int) time.Duration) DailyOption {
	return func(g *DailyGenerator) { g.backoff = f }
}

func NewDailyGenerator(turns conversation.Store, store Store, completer gateway.Completer, prompt TranscriptPrompt, loc *time.Location, opts ...DailyOption) *DailyGenerator {
	if loc == nil {
		loc = time.UTC
	}
	g := &DailyGenerator{
		turns:     turns,
		store:     store,
		completer: completer,
		prompt:    prompt,
		loc:       loc,
		now:       time.Now,
		backoff: func(attempt int) time.Duration {
			return reliability.ExponentialBackoff(attempt, 500*time.Millisecond, 8*time.Second)
		},
	}
	for _, o := range opts {
		o(g)
	}
	g.logger = observability.OrNop(g.logger)
	return g
}

// ParseDay parses a YYYY-MM-DD date as midnight in the generator's timezone.
func (g *DailyGenerator) ParseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, g.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse report date %q: %w", s, err)
	}
	return d, nil
}

// Yesterday returns the previous calendar day in the generator's timezone.
func (g *DailyGenerator) Yesterday() time.Time {
	start, _ := conversation.DayBounds(g.now().In(g.loc))
	return start.AddDate(0, 0, -1)
}

// Generate builds and upserts the user's report for day. found is false
// when the user had no turns that day.
func (g *DailyGenerator) Generate(ctx context.Context, userID string, day time.Time) (DailyReport, bool, error) {
	day = day.In(g.loc)
	date := day.Format(DateLayout)
	log := g.logger.With(zap.String("user_id", userID), zap.String("date", date))

	turns, err := g.turns.Fetch(ctx, userID, conversation.Day(day))
	if err != nil {
		return DailyReport{}, false, reliability.Persistence("fetch daily turns", err)
	}
	if len(turns) == 0 {
		g.metrics.IncReportEvent(string(KindDaily), "no_turns")
		log.Debug("no turns for daily report")
		return DailyReport{}, false, nil
	}

	prompt, err := g.prompt(Transcript(turns))
	if err != nil {
		return DailyReport{}, false, reliability.Configuration("render daily report prompt", err)
	}
	analysis, err := g.completeWithRetry(ctx, prompt)
	if err != nil {
		g.metrics.IncReportEvent(string(KindDaily), "error")
		return DailyReport{}, false, err
	}

	rep, defaulted := AssembleDaily(date, userID, analysis)
	if len(defaulted) > 0 {
		log.Warn("daily report fields defaulted", zap.Strings("fields", defaulted))
	}
	body, err := json.Marshal(rep)
	if err != nil {
		return DailyReport{}, false, fmt.Errorf("encode daily report: %w", err)
	}
	if err := g.store.Upsert(ctx, Report{
		UserID:    userID,
		Kind:      KindDaily,
		PeriodKey: date,
		Summary:   string(body),
		CreatedAt: g.now().UTC(),
	}); err != nil {
		g.metrics.IncReportEvent(string(KindDaily), "error")
		return DailyReport{}, false, reliability.Persistence("upsert daily report", err)
	}
	g.metrics.IncReportEvent(string(KindDaily), "created")
	log.Info("daily report stored", zap.Int("turns", len(turns)))
	return rep, true, nil
}

func (g *DailyGenerator) completeWithRetry(ctx context.Context, prompt string) (map[string]json.RawMessage, error) {
	opts := gateway.CompletionOptions{MaxTokens: dailyReportMaxTokens, Temperature: dailyReportTemperature}
	var lastErr error
	for attempt := 0; attempt < dailyMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, reliability.Gateway("complete daily report", ctx.Err())
			case <-time.After(g.backoff(attempt - 1)):
			}
		}
		analysis, err := gateway.CompleteJSON(ctx, g.completer, prompt, opts)
		if err == nil {
			return analysis, nil
		}
		lastErr = err
		if !reliability.IsRetryable(err) {
			break
		}
	}
	return nil, reliability.Gateway("complete daily report", lastErr)
}

// BatchResult summarises one batch run. Failed maps user IDs to their error.
type BatchResult struct {
	Date      string           `json:"date"`
	Generated []string         `json:"generated"`
	Skipped   []string         `json:"skipped"`
	Failed    map[string]error `json:"-"`
}

// GenerateForAll runs Generate for every user active on day with at most
// concurrency reports in flight. One user's failure never stops the others.
func (g *DailyGenerator) GenerateForAll(ctx context.Context, day time.Time, concurrency int) (BatchResult, error) {
	day = day.In(g.loc)
	res := BatchResult{Date: day.Format(DateLayout), Failed: make(map[string]error)}

	users, err := g.turns.DistinctUsersActiveOn(ctx, day)
	if err != nil {
		return res, reliability.Persistence("list active users", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for _, userID := range users {
		userID := userID
		eg.Go(func() error {
			_, found, err := g.Generate(egCtx, userID, day)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed[userID] = err
				g.logger.Error("daily report failed", zap.String("user_id", userID), zap.Error(err))
			case found:
				res.Generated = append(res.Generated, userID)
			default:
				res.Skipped = append(res.Skipped, userID)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return res, nil
}
