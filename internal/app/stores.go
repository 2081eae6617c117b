package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/reliability"
	"github.com/ent0n29/companion/internal/report"
	"github.com/ent0n29/companion/internal/storage/badgerdb"
)

// storage bundles the persistence backends. pool and db are shared by the
// stores built on them and closed last.
type storage struct {
	pool    *pgxpool.Pool
	db      *badger.DB
	turns   conversation.Store
	reports report.Store
	index   memory.Index
	mode    string
	closers []func() error
}

// openStorage picks postgres when DATABASE_URL is set, badger under DATA_DIR
// otherwise, and in-memory stores as the last resort. The memory index
// follows MEMORY_INDEX.
func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *storage, err error) {
	st := &storage{mode: "memory"}
	defer func() {
		if err != nil {
			_ = st.close()
		}
	}()

	switch {
	case cfg.DatabaseURL != "":
		st.pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, reliability.Configuration("connect postgres", err)
		}
		st.closers = append(st.closers, func() error { st.pool.Close(); return nil })
		st.mode = "postgres"
	case cfg.DataDir != "":
		st.db, err = badgerdb.Open(badgerdb.Options{Dir: filepath.Join(cfg.DataDir, "badger"), Logger: logger})
		if err != nil {
			return nil, reliability.Persistence("open badger", err)
		}
		st.closers = append(st.closers, st.db.Close)
		st.mode = "badger"
	}

	if st.turns, err = conversation.NewStore(ctx, st.pool, st.db); err != nil {
		return nil, err
	}
	st.closers = append(st.closers, st.turns.Close)

	if st.reports, err = report.NewStore(ctx, st.pool, st.db); err != nil {
		return nil, err
	}
	st.closers = append(st.closers, st.reports.Close)

	if st.index, err = openIndex(ctx, cfg, st.pool); err != nil {
		return nil, err
	}
	st.closers = append(st.closers, st.index.Close)
	return st, nil
}

func openIndex(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (memory.Index, error) {
	mode := cfg.MemoryIndex
	if mode == "auto" || mode == "" {
		mode = "chromem"
		if pool != nil {
			mode = "postgres"
		}
	}
	switch mode {
	case "postgres":
		if pool == nil {
			return nil, reliability.Configuration("open memory index", errors.New("postgres index requires DATABASE_URL"))
		}
		return memory.NewPostgresIndex(ctx, pool, cfg.MemoryEmbeddingDim)
	case "chromem":
		dir := ""
		if cfg.DataDir != "" {
			dir = filepath.Join(cfg.DataDir, "memory")
		}
		return memory.NewChromemIndex(dir)
	default:
		return nil, reliability.Configuration("open memory index", fmt.Errorf("unknown memory index %q", mode))
	}
}

// ready checks that the shared backends are reachable.
func (st *storage) ready(ctx context.Context) error {
	if st.pool != nil {
		return st.pool.Ping(ctx)
	}
	if st.db != nil && st.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

// close releases stores before the pool or database they share.
func (st *storage) close() error {
	var errs []error
	for i := len(st.closers) - 1; i >= 0; i-- {
		if err := st.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	st.closers = nil
	return errors.Join(errs...)
}
