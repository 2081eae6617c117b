package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/companion/internal/reliability"
)

// PostgresIndex stores memory records in PostgreSQL with pgvector.
type PostgresIndex struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPostgresIndex shares an existing pool. Close leaves the pool open.
func NewPostgresIndex(ctx context.Context, pool *pgxpool.Pool, dim int) (*PostgresIndex, error) {
	if dim <= 0 {
		return nil, reliability.Configuration("memory index", fmt.Errorf("embedding dimension must be positive"))
	}
	if err := initSchema(ctx, pool, dim); err != nil {
		return nil, reliability.Index("init memory schema", err)
	}
	return &PostgresIndex{pool: pool, dim: dim}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('utterance', 'summary')),
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, dim),
		`CREATE INDEX IF NOT EXISTS idx_memory_records_user_created ON memory_records (user_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (p *PostgresIndex) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Embedding) != p.dim {
		return reliability.Index("upsert", fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Embedding), p.dim))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO memory_records (id, user_id, text, kind, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5::vector, $6)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID,
		rec.UserID,
		rec.Text,
		string(rec.Kind),
		vectorLiteral(rec.Embedding),
		rec.CreatedAt,
	)
	if err != nil {
		return reliability.Index("upsert", err)
	}
	return nil
}

func (p *PostgresIndex) Query(ctx context.Context, userID string, vec []float32, topK int) ([]Candidate, error) {
	if len(vec) != p.dim {
		return nil, reliability.Index("query", fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), p.dim))
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, text, kind, created_at, 1 - (embedding <=> $2::vector) AS similarity
		 FROM memory_records WHERE user_id = $1
		 ORDER BY embedding <=> $2::vector LIMIT $3`,
		userID,
		vectorLiteral(vec),
		topK,
	)
	if err != nil {
		return nil, reliability.Index("query", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var kind string
		if err := rows.Scan(&c.ID, &c.Text, &kind, &c.Timestamp, &c.Similarity); err != nil {
			return nil, reliability.Index("scan memory row", err)
		}
		c.Kind = Kind(kind)
		c.Similarity = clamp01(c.Similarity)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, reliability.Index("iterate memory rows", err)
	}
	return out, nil
}

// PruneBefore deletes records created before cutoff.
func (p *PostgresIndex) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM memory_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, reliability.Index("prune", err)
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to the caller.
func (p *PostgresIndex) Close() error { return nil }

// vectorLiteral formats vec in pgvector's text input form, "[0.1,0.2]".
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec) * 10)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
