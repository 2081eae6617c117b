// Package conversation is the append-only log of dialogue turns.
package conversation

import (
	"context"
	"errors"
	"time"
)

type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

var ErrInvalidTurn = errors.New("conversation: invalid turn")

// Turn is one utterance. Turns are immutable once appended.
type Turn struct {
	UserID      string    `json:"user_id" msgpack:"u"`
	Speaker     Speaker   `json:"speaker" msgpack:"s"`
	Message     string    `json:"message" msgpack:"m"`
	PIIRedacted bool      `json:"pii_redacted,omitempty" msgpack:"r,omitempty"`
	CreatedAt   time.Time `json:"created_at" msgpack:"t"`
}

// Line renders the turn as a transcript line, "user: hello".
func (t Turn) Line() string {
	return string(t.Speaker) + ": " + t.Message
}

// Range bounds a fetch by creation time. A zero Start or End leaves that
// side open. End is always exclusive.
type Range struct {
	Start          time.Time
	End            time.Time
	StartExclusive bool
}

// After selects turns created strictly after t.
func After(t time.Time) Range {
	return Range{Start: t, StartExclusive: true}
}

// Day selects the calendar day containing day, in day's location.
func Day(day time.Time) Range {
	start, end := DayBounds(day)
	return Range{Start: start, End: end}
}

// DayBounds returns [midnight, next midnight) for day in its own location.
func DayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}

func (r Range) Contains(t time.Time) bool {
	if !r.Start.IsZero() {
		if r.StartExclusive && !t.After(r.Start) {
			return false
		}
		if !r.StartExclusive && t.Before(r.Start) {
			return false
		}
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// Store persists conversation turns. There is no update or delete.
type Store interface {
	Append(ctx context.Context, turn Turn) error
	// Fetch returns the user's turns within r, oldest first.
	Fetch(ctx context.Context, userID string, r Range) ([]Turn, error)
	// DistinctUsersActiveOn lists users with at least one turn on the calendar
	// day containing day, in day's location.
	DistinctUsersActiveOn(ctx context.Context, day time.Time) ([]string, error)
	Close() error
}

func validate(turn Turn) error {
	if turn.UserID == "" {
		return errors.Join(ErrInvalidTurn, errors.New("user_id is required"))
	}
	if turn.Speaker != SpeakerUser && turn.Speaker != SpeakerAI {
		return errors.Join(ErrInvalidTurn, errors.New("speaker must be user or ai"))
	}
	return nil
}
