package report

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStore picks postgres when a pool is given, then badger, then in-memory.
func NewStore(ctx context.Context, pool *pgxpool.Pool, db *badger.DB) (Store, error) {
	switch {
	case pool != nil:
		return NewPostgresStore(ctx, pool)
	case db != nil:
		return NewBadgerStore(db), nil
	default:
		return NewInMemoryStore(), nil
	}
}
