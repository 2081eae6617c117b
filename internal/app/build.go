package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/assistant"
	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/httpapi"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/policy"
	"github.com/ent0n29/companion/internal/prompts"
	"github.com/ent0n29/companion/internal/report"
	"github.com/ent0n29/companion/internal/session"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *assistant.Orchestrator
	Retriever    *memory.Retriever
	Writer       *memory.Writer
	Scheduler    *report.Scheduler
	Daily        *report.DailyGenerator
	Turns        conversation.Store
	Reports      report.Store
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	// StorageMode is postgres, badger or memory.
	StorageMode string

	pruner memory.Pruner

	// Cleanup should be called on shutdown to release external resources (DB, caches, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	logger = observability.OrNop(logger)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	set, err := prompts.Load(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}

	gw, err := resolveGateways(cfg)
	if err != nil {
		return nil, err
	}

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		gw.close()
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	pol, err := report.NewPolicy(cfg.ReportPolicy, cfg.ReportWindow, cfg.ReportHour, cfg.ReportLocation())
	if err != nil {
		gw.close()
		_ = st.close()
		return nil, err
	}

	writer := memory.NewWriter(gw.embedder, gw.completer, st.index, set.RenderMemorySummary,
		memory.WithWriterMetrics(metrics),
		memory.WithWriterLogger(logger.Named("memory")),
	)
	retriever := memory.NewRetriever(gw.embedder, st.index,
		memory.WithLimits(cfg.MemoryTopK, cfg.MemoryTopN),
		memory.WithDecayWindow(cfg.MemoryDecayWindow),
		memory.WithRetrieverMetrics(metrics),
		memory.WithRetrieverLogger(logger.Named("memory")),
	)
	scheduler := report.NewScheduler(st.turns, st.reports, gw.completer, pol, set.RenderLiveReport,
		report.WithSchedulerMetrics(metrics),
		report.WithSchedulerLogger(logger.Named("report")),
	)
	daily := report.NewDailyGenerator(st.turns, st.reports, gw.completer,
		set.DailyReportRenderer(report.AnalysisKeys()), cfg.ReportLocation(),
		report.WithDailyMetrics(metrics),
		report.WithDailyLogger(logger.Named("report")),
	)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.IncSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
		logger.Info("session expired", zap.String("session_id", s.ID), zap.String("user_id", s.UserID))
	})

	orchestrator := assistant.NewOrchestrator(assistant.Deps{
		Sessions:        sessions,
		Prompts:         set,
		Transcriber:     gw.transcriber,
		Completer:       gw.completer,
		Retriever:       retriever,
		Writer:          writer,
		Scheduler:       scheduler,
		Turns:           st.turns,
		Redactor:        policy.Redactor{Enabled: cfg.RedactPII},
		Metrics:         metrics,
		Logger:          logger.Named("assistant"),
		TeardownTimeout: cfg.TeardownTimeout,
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Memories:     retriever,
		Reports:      st.reports,
		Live:         scheduler,
		Daily:        daily,
		Metrics:      metrics,
		Logger:       logger.Named("http"),
		Ready:        st.ready,
	})

	var pruner memory.Pruner
	if p, ok := st.index.(memory.Pruner); ok {
		pruner = p
	} else if cfg.MemoryRetention > 0 {
		logger.Warn("MEMORY_RETENTION is set but the memory index cannot prune; records are kept")
	}

	logger.Info("components ready",
		zap.String("storage", st.mode),
		zap.String("embedding_provider", gw.embedProvider),
		zap.String("completion_provider", gw.completeProvider),
		zap.String("report_policy", pol.Name()),
	)

	cleanup := func() error {
		gw.close()
		return st.close()
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Retriever:    retriever,
		Writer:       writer,
		Scheduler:    scheduler,
		Daily:        daily,
		Turns:        st.turns,
		Reports:      st.reports,
		Metrics:      metrics,
		Logger:       logger,
		StorageMode:  st.mode,
		pruner:       pruner,
		Cleanup:      cleanup,
	}, nil
}

// StartBackground launches the session janitor and, when configured, the
// memory retention janitor. Both stop with ctx.
func (b *BuildResult) StartBackground(ctx context.Context) {
	b.Sessions.StartJanitor(ctx, 0)
	startRetentionJanitor(ctx, b.pruner, b.Config.MemoryRetention, retentionSweepInterval, b.Logger.Named("retention"))
}
