package report

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ent0n29/companion/internal/reliability"
)

// Keys are report/<kind>/<user>\x00<period> -> msgpack Report.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore uses db without taking ownership of it.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func userPrefix(userID string, kind Kind) []byte {
	return []byte("report/" + string(kind) + "/" + userID + "\x00")
}

func reportKey(r Report) []byte {
	return append(userPrefix(r.UserID, r.Kind), r.PeriodKey...)
}

func (s *BadgerStore) scan(userID string, kind Kind) ([]Report, error) {
	prefix := userPrefix(userID, kind)
	var out []Report
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r Report
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Latest(_ context.Context, userID string, kind Kind) (Report, bool, error) {
	reports, err := s.scan(userID, kind)
	if err != nil {
		return Report{}, false, reliability.Persistence("latest report", err)
	}
	reports = newestFirst(reports, 1)
	if len(reports) == 0 {
		return Report{}, false, nil
	}
	return reports[0], true, nil
}

func (s *BadgerStore) Insert(_ context.Context, r Report) (bool, error) {
	val, err := msgpack.Marshal(r)
	if err != nil {
		return false, reliability.Persistence("encode report", err)
	}
	inserted := false
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(reportKey(r))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		inserted = true
		return txn.Set(reportKey(r), val)
	})
	// A concurrent insert for the same key won the race.
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, reliability.Persistence("insert report", err)
	}
	return inserted, nil
}

func (s *BadgerStore) Upsert(_ context.Context, r Report) error {
	val, err := msgpack.Marshal(r)
	if err != nil {
		return reliability.Persistence("encode report", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(reportKey(r), val)
	}); err != nil {
		return reliability.Persistence("upsert report", err)
	}
	return nil
}

func (s *BadgerStore) List(_ context.Context, userID string, kind Kind, limit int) ([]Report, error) {
	reports, err := s.scan(userID, kind)
	if err != nil {
		return nil, reliability.Persistence("list reports", err)
	}
	return newestFirst(reports, limit), nil
}

func (s *BadgerStore) Close() error { return nil }
