package assistant

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/session"
)

// closeSession ends the session and runs the memory writer and the report
// scheduler for it. The two run concurrently and fail independently. A new
// session for the same user waits on the teardown gate until both finish.
func (o *Orchestrator) closeSession(parent context.Context, s *session.Session, buf *session.Buffer, log *zap.Logger) {
	finish := o.Sessions.BeginTeardown(s.UserID)
	defer finish()
	_, _ = o.Sessions.End(s.ID)
	o.Metrics.IncSessionEvent("closed")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.TeardownTimeout)
	defer cancel()

	lines := buf.Lines()
	var g errgroup.Group
	g.Go(func() error {
		start := time.Now()
		rec, written, err := o.Writer.Write(ctx, s.UserID, lines)
		o.Metrics.ObserveStage(observability.StageMemoryWrite, time.Since(start))
		switch {
		case err != nil:
			o.Metrics.IncSessionEvent("memory_write_failed")
			log.Error("memory write failed", zap.Error(err), zap.Int("session_lines", len(lines)))
		case written:
			log.Debug("session memory stored", zap.String("memory_id", rec.ID))
		}
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		rep, created, err := o.Scheduler.MaybeGenerate(ctx, s.UserID)
		o.Metrics.ObserveStage(observability.StageReport, time.Since(start))
		switch {
		case err != nil:
			o.Metrics.IncSessionEvent("report_failed")
			log.Error("live report failed", zap.Error(err))
		case created:
			log.Debug("live report stored", zap.String("period", rep.PeriodKey))
		}
		return nil
	})
	_ = g.Wait()
	log.Info("session closed", zap.Int("session_lines", len(lines)))
}
