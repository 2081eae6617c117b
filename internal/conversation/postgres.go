package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/companion/internal/reliability"
)

// PostgresStore persists the conversation log in PostgreSQL, one row per turn.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore shares an existing pool. Close leaves the pool open.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initSchema(ctx, pool); err != nil {
		return nil, reliability.Persistence("init conversations schema", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			speaker TEXT NOT NULL CHECK (speaker IN ('user', 'ai')),
			message TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_created ON conversations (user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, turn Turn) error {
	if err := validate(turn); err != nil {
		return reliability.Persistence("append turn", err)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (user_id, speaker, message, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		turn.UserID,
		string(turn.Speaker),
		turn.Message,
		turn.PIIRedacted,
		turn.CreatedAt,
	)
	if err != nil {
		return reliability.Persistence("append turn", err)
	}
	return nil
}

func (s *PostgresStore) Fetch(ctx context.Context, userID string, r Range) ([]Turn, error) {
	query, args := buildFetchQuery(userID, r)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, reliability.Persistence("fetch turns", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var speaker string
		if err := rows.Scan(&t.UserID, &speaker, &t.Message, &t.PIIRedacted, &t.CreatedAt); err != nil {
			return nil, reliability.Persistence("scan turn row", err)
		}
		t.Speaker = Speaker(speaker)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, reliability.Persistence("iterate turn rows", err)
	}
	return turns, nil
}

func buildFetchQuery(userID string, r Range) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT user_id, speaker, message, pii_redacted, created_at FROM conversations WHERE user_id = $1`)
	args := []any{userID}
	if !r.Start.IsZero() {
		args = append(args, r.Start)
		op := ">="
		if r.StartExclusive {
			op = ">"
		}
		fmt.Fprintf(&b, " AND created_at %s $%d", op, len(args))
	}
	if !r.End.IsZero() {
		args = append(args, r.End)
		fmt.Fprintf(&b, " AND created_at < $%d", len(args))
	}
	b.WriteString(" ORDER BY created_at ASC, id ASC")
	return b.String(), args
}

func (s *PostgresStore) DistinctUsersActiveOn(ctx context.Context, day time.Time) ([]string, error) {
	start, end := DayBounds(day)
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM conversations
		 WHERE created_at >= $1 AND created_at < $2 ORDER BY user_id`,
		start, end,
	)
	if err != nil {
		return nil, reliability.Persistence("distinct active users", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, reliability.Persistence("scan active user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, reliability.Persistence("iterate active users", err)
	}
	return users, nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }
