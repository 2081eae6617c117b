package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/gateway"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/reliability"
)

const (
	// Sessions shorter than this are stored verbatim instead of summarised.
	SummaryThreshold   = 4
	summaryTemperature = 0.3
	summaryMaxTokens   = 200
)

// SummaryPrompt renders the summarisation prompt for a newline-joined session transcript.
type SummaryPrompt func(transcript string) (string, error)

type Writer struct {
	embedder  gateway.Embedder
	completer gateway.Completer
	index     Index
	prompt    SummaryPrompt
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

type WriterOption func(*Writer)

func WithWriterClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

func WithWriterMetrics(m *observability.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

func WithWriterLogger(l *zap.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

func NewWriter(embedder gateway.Embedder, completer gateway.Completer, index Index, prompt SummaryPrompt, opts ...WriterOption) *Writer {
	w := &Writer{
		embedder:  embedder,
		completer: completer,
		index:     index,
		prompt:    prompt,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(w)
	}
	w.logger = observability.OrNop(w.logger)
	return w
}

// Write turns one closed session into at most one memory record. An empty
// session writes nothing and reports found=false.
func (w *Writer) Write(ctx context.Context, userID string, sessionLog []string) (Record, bool, error) {
	if len(sessionLog) == 0 {
		return Record{}, false, nil
	}
	transcript := strings.Join(sessionLog, "\n")

	rec := Record{
		ID:        w.newID(),
		UserID:    userID,
		Text:      transcript,
		Kind:      KindUtterance,
		CreatedAt: w.now().UTC(),
	}
	if len(sessionLog) >= SummaryThreshold {
		prompt, err := w.prompt(transcript)
		if err != nil {
			return Record{}, false, reliability.Configuration("render summary prompt", err)
		}
		summary, err := w.completer.Complete(ctx, prompt, gateway.CompletionOptions{
			MaxTokens:   summaryMaxTokens,
			Temperature: summaryTemperature,
		})
		if err != nil {
			return Record{}, false, reliability.Gateway("summarise session", err)
		}
		summary = strings.TrimSpace(summary)
		if summary == "" {
			return Record{}, false, reliability.Gateway("summarise session", gateway.ErrEmptyOutput)
		}
		rec.Text = summary
		rec.Kind = KindSummary
	}

	vec, err := w.embedder.Embed(ctx, rec.Text)
	if err != nil {
		return Record{}, false, reliability.Gateway("embed memory", err)
	}
	rec.Embedding = vec

	if err := w.index.Upsert(ctx, rec); err != nil {
		return Record{}, false, reliability.Index("upsert memory", err)
	}

	w.metrics.IncMemoryWrite(string(rec.Kind))
	w.logger.Info("memory written",
		zap.String("user_id", userID),
		zap.String("memory_id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.Int("session_lines", len(sessionLog)),
	)
	return rec, true, nil
}
