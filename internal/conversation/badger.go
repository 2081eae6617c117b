package conversation

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ent0n29/companion/internal/reliability"
)

// Key layout:
//
//	conv/t/<user>\x00<unix-nanos><seq>  -> msgpack Turn
//	conv/d/<unix-nanos>\x00<user>       -> empty, drives DistinctUsersActiveOn
const (
	turnPrefix  = "conv/t/"
	dayPrefix   = "conv/d/"
	sequenceKey = "conv/seq"
)

// BadgerStore keeps the conversation log in an embedded badger database.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		return nil, reliability.Persistence("open turn sequence", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func nanosKey(t time.Time) string {
	n := t.UnixNano()
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("%020d", n)
}

func userTurnPrefix(userID string) []byte {
	return []byte(turnPrefix + userID + "\x00")
}

func (s *BadgerStore) Append(_ context.Context, turn Turn) error {
	if err := validate(turn); err != nil {
		return reliability.Persistence("append turn", err)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	n, err := s.seq.Next()
	if err != nil {
		return reliability.Persistence("append turn", err)
	}
	val, err := msgpack.Marshal(turn)
	if err != nil {
		return reliability.Persistence("encode turn", err)
	}
	ts := nanosKey(turn.CreatedAt)
	turnKey := append(userTurnPrefix(turn.UserID), fmt.Sprintf("%s%010d", ts, n)...)
	dayKey := []byte(dayPrefix + ts + "\x00" + turn.UserID)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(turnKey, val); err != nil {
			return err
		}
		return txn.Set(dayKey, nil)
	})
	if err != nil {
		return reliability.Persistence("append turn", err)
	}
	return nil
}

func (s *BadgerStore) Fetch(_ context.Context, userID string, r Range) ([]Turn, error) {
	prefix := userTurnPrefix(userID)
	seek := prefix
	if !r.Start.IsZero() {
		seek = append(append([]byte(nil), prefix...), nanosKey(r.Start)...)
	}

	var turns []Turn
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var t Turn
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &t)
			}); err != nil {
				return err
			}
			if !r.End.IsZero() && !t.CreatedAt.Before(r.End) {
				break
			}
			if r.Contains(t.CreatedAt) {
				turns = append(turns, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, reliability.Persistence("fetch turns", err)
	}
	return turns, nil
}

func (s *BadgerStore) DistinctUsersActiveOn(_ context.Context, day time.Time) ([]string, error) {
	start, end := DayBounds(day)
	prefix := []byte(dayPrefix)
	seek := []byte(dayPrefix + nanosKey(start))
	stop := []byte(dayPrefix + nanosKey(end))

	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if bytes.Compare(key, stop) >= 0 {
				break
			}
			if i := bytes.IndexByte(key, 0); i >= 0 {
				seen[string(key[i+1:])] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, reliability.Persistence("distinct active users", err)
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Close releases the sequence lease. The database is owned by the caller.
func (s *BadgerStore) Close() error {
	return s.seq.Release()
}
