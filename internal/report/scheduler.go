package report

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/gateway"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/reliability"
)

const (
	liveReportMaxTokens   = 150
	liveReportTemperature = 0.7
)

// TranscriptPrompt renders a report prompt around a newline-joined transcript.
type TranscriptPrompt func(transcript string) (string, error)

// Scheduler produces live reports. MaybeGenerate is safe to call any number
// of times: each period is covered at most once, and the next report starts
// after the newest turn the latest one summarised.
type Scheduler struct {
	turns     conversation.Store
	store     Store
	completer gateway.Completer
	policy    Policy
	prompt    TranscriptPrompt
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

type SchedulerOption func(*Scheduler)

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func WithSchedulerMetrics(m *observability.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

func NewScheduler(turns conversation.Store, store Store, completer gateway.Completer, policy Policy, prompt TranscriptPrompt, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		turns:     turns,
		store:     store,
		completer: completer,
		policy:    policy,
		prompt:    prompt,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = observability.OrNop(s.logger)
	return s
}

func (s *Scheduler) Policy() Policy { return s.policy }

// MaybeGenerate creates the user's live report when one is due and there are
// turns it has not yet covered. created reports whether a report was stored.
func (s *Scheduler) MaybeGenerate(ctx context.Context, userID string) (Report, bool, error) {
	log := s.logger.With(zap.String("user_id", userID), zap.String("policy", s.policy.Name()))

	last, hasLast, err := s.store.Latest(ctx, userID, KindLive)
	if err != nil {
		s.metrics.IncReportEvent(string(KindLive), "error")
		return Report{}, false, reliability.Persistence("load latest report", err)
	}
	if !s.policy.Due(s.now(), last, hasLast) {
		s.metrics.IncReportEvent(string(KindLive), "not_due")
		log.Debug("live report not due")
		return Report{}, false, nil
	}

	var since time.Time
	if hasLast {
		since = last.Coverage()
	}
	turns, err := s.turns.Fetch(ctx, userID, conversation.After(since))
	if err != nil {
		s.metrics.IncReportEvent(string(KindLive), "error")
		return Report{}, false, reliability.Persistence("fetch turns for report", err)
	}
	if len(turns) == 0 {
		s.metrics.IncReportEvent(string(KindLive), "no_turns")
		log.Debug("no new turns for live report")
		return Report{}, false, nil
	}

	prompt, err := s.prompt(Transcript(turns))
	if err != nil {
		return Report{}, false, reliability.Configuration("render report prompt", err)
	}
	summary, err := s.completer.Complete(ctx, prompt, gateway.CompletionOptions{
		MaxTokens:   liveReportMaxTokens,
		Temperature: liveReportTemperature,
	})
	if err != nil {
		s.metrics.IncReportEvent(string(KindLive), "error")
		return Report{}, false, reliability.Gateway("complete live report", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		s.metrics.IncReportEvent(string(KindLive), "error")
		return Report{}, false, reliability.Gateway("complete live report", gateway.ErrEmptyOutput)
	}

	// Turns appended while the completion ran are newer than the last
	// fetched one and stay eligible for the next report.
	now := s.now().UTC()
	rep := Report{
		UserID:       userID,
		Kind:         KindLive,
		PeriodKey:    s.policy.PeriodKey(now),
		Summary:      summary,
		CreatedAt:    now,
		CoveredUntil: turns[len(turns)-1].CreatedAt,
	}
	inserted, err := s.store.Insert(ctx, rep)
	if err != nil {
		s.metrics.IncReportEvent(string(KindLive), "error")
		return Report{}, false, reliability.Persistence("insert live report", err)
	}
	if !inserted {
		s.metrics.IncReportEvent(string(KindLive), "conflict")
		log.Info("live report period already covered", zap.String("period", rep.PeriodKey))
		return Report{}, false, nil
	}

	s.metrics.IncReportEvent(string(KindLive), "created")
	log.Info("live report created", zap.String("period", rep.PeriodKey), zap.Int("turns", len(turns)))
	return rep, true, nil
}

// Transcript renders turns one per line as "speaker: message".
func Transcript(turns []conversation.Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.Line()
	}
	return strings.Join(lines, "\n")
}
