package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/companion/internal/reliability"
)

// PostgresStore keeps live and daily reports in one table, unique per
// (user_id, kind, period_key).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore shares pool. Close leaves the pool open.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initSchema(ctx, pool); err != nil {
		return nil, reliability.Persistence("init reports schema", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			period_key TEXT NOT NULL,
			summary TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, kind, period_key)
		);`,
		`ALTER TABLE reports ADD COLUMN IF NOT EXISTS covered_until TIMESTAMPTZ;`,
		`CREATE INDEX IF NOT EXISTS idx_reports_user_kind_created ON reports (user_id, kind, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const (
	reportColumns = `user_id, kind, period_key, summary, created_at, covered_until`
	selectColumns = `user_id, kind, period_key, summary, created_at, COALESCE(covered_until, created_at)`
)

func (s *PostgresStore) Latest(ctx context.Context, userID string, kind Kind) (Report, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM reports
		 WHERE user_id = $1 AND kind = $2 ORDER BY created_at DESC LIMIT 1`,
		userID, string(kind),
	)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, reliability.Persistence("latest report", err)
	}
	return r, true, nil
}

func (s *PostgresStore) Insert(ctx context.Context, r Report) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO reports (`+reportColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, kind, period_key) DO NOTHING`,
		r.UserID, string(r.Kind), r.PeriodKey, r.Summary, r.CreatedAt, coveredUntil(r),
	)
	if err != nil {
		return false, reliability.Persistence("insert report", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, r Report) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (`+reportColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, kind, period_key) DO UPDATE SET
			summary=EXCLUDED.summary,
			created_at=EXCLUDED.created_at,
			covered_until=EXCLUDED.covered_until`,
		r.UserID, string(r.Kind), r.PeriodKey, r.Summary, r.CreatedAt, coveredUntil(r),
	)
	if err != nil {
		return reliability.Persistence("upsert report", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, kind Kind, limit int) ([]Report, error) {
	query := `SELECT ` + selectColumns + ` FROM reports WHERE user_id = $1 AND kind = $2 ORDER BY created_at DESC`
	args := []any{userID, string(kind)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, reliability.Persistence("list reports", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, reliability.Persistence("scan report row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, reliability.Persistence("iterate report rows", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error { return nil }

func scanReport(row pgx.Row) (Report, error) {
	var r Report
	var kind string
	if err := row.Scan(&r.UserID, &kind, &r.PeriodKey, &r.Summary, &r.CreatedAt, &r.CoveredUntil); err != nil {
		return Report{}, err
	}
	r.Kind = Kind(kind)
	if r.CoveredUntil.Equal(r.CreatedAt) {
		r.CoveredUntil = time.Time{}
	}
	return r, nil
}

// coveredUntil maps an untracked coverage to NULL.
func coveredUntil(r Report) any {
	if r.CoveredUntil.IsZero() {
		return nil
	}
	return r.CoveredUntil
}
