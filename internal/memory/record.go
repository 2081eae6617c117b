// Package memory holds the long-term, per-user memory: one embedded record
// per closed session, ranked at query time by similarity blended with recency.
package memory

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	// KindUtterance stores a short session verbatim.
	KindUtterance Kind = "utterance"
	// KindSummary stores a model-written summary of a longer session.
	KindSummary Kind = "summary"
)

// Metadata keys written alongside every indexed record.
const (
	MetaUserID    = "user_id"
	MetaText      = "text"
	MetaKind      = "kind"
	MetaTimestamp = "timestamp"
)

var ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

// Record is immutable once written.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Kind      Kind      `json:"kind"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Metadata renders the record's index metadata.
func (r Record) Metadata() map[string]string {
	return map[string]string{
		MetaUserID:    r.UserID,
		MetaText:      r.Text,
		MetaKind:      string(r.Kind),
		MetaTimestamp: r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Candidate is a nearest-neighbour hit. Timestamp is zero when the index
// holds no usable timestamp for the record.
type Candidate struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Kind       Kind      `json:"kind"`
	Similarity float64   `json:"similarity"`
	Timestamp  time.Time `json:"timestamp"`
}

// Index is the vector store behind long-term memory.
type Index interface {
	Upsert(ctx context.Context, rec Record) error
	// Query returns up to topK of the user's records nearest to vec, with
	// cosine similarity clamped to [0,1].
	Query(ctx context.Context, userID string, vec []float32, topK int) ([]Candidate, error)
	Close() error
}

// Pruner is implemented by indexes that can enforce a retention window.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
