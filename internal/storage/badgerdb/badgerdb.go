// Package badgerdb opens the embedded key-value store used when no
// PostgreSQL database is configured.
package badgerdb

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/observability"
)

type Options struct {
	// Dir holds the data files. Required unless InMemory is set.
	Dir      string
	InMemory bool
	Logger   *zap.Logger
}

func Open(opts Options) (*badger.DB, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badgerdb: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(zapLogger{l: observability.OrNop(opts.Logger).Named("badger").Sugar()})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Dir, err)
	}
	return db, nil
}

// zapLogger adapts zap to badger.Logger, dropping badger's chatty info and debug output.
type zapLogger struct {
	l *zap.SugaredLogger
}

func (z zapLogger) Errorf(f string, v ...interface{})   { z.l.Errorf(f, v...) }
func (z zapLogger) Warningf(f string, v ...interface{}) { z.l.Warnf(f, v...) }
func (zapLogger) Infof(string, ...interface{})          {}
func (zapLogger) Debugf(string, ...interface{})         {}
