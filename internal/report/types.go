// Package report distills conversation turns into periodic reports: a
// free-text live report produced at session close, and a structured daily
// report produced in batch.
package report

import (
	"context"
	"time"
)

type Kind string

const (
	KindLive  Kind = "live"
	KindDaily Kind = "daily"
)

// Report is unique per (UserID, Kind, PeriodKey).
type Report struct {
	UserID    string    `json:"user_id" msgpack:"u"`
	Kind      Kind      `json:"kind" msgpack:"k"`
	PeriodKey string    `json:"period_key" msgpack:"p"`
	Summary   string    `json:"summary" msgpack:"s"`
	CreatedAt time.Time `json:"created_at" msgpack:"t"`
	// CoveredUntil is the creation time of the newest turn a live report
	// summarised. Zero for reports that do not track coverage.
	CoveredUntil time.Time `json:"covered_until,omitempty" msgpack:"c,omitempty"`
}

// Coverage returns the instant after which turns are not yet reported.
func (r Report) Coverage() time.Time {
	if r.CoveredUntil.IsZero() {
		return r.CreatedAt
	}
	return r.CoveredUntil
}

type Store interface {
	// Latest returns the user's most recently created report of kind.
	Latest(ctx context.Context, userID string, kind Kind) (Report, bool, error)
	// Insert stores r unless its period is already covered. It reports
	// whether r was inserted.
	Insert(ctx context.Context, r Report) (bool, error)
	// Upsert stores r, replacing any report for the same period.
	Upsert(ctx context.Context, r Report) error
	// List returns up to limit reports of kind, newest first. limit <= 0 means all.
	List(ctx context.Context, userID string, kind Kind, limit int) ([]Report, error)
	Close() error
}
