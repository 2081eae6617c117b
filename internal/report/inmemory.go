package report

import (
	"context"
	"sort"
	"sync"
)

type storeKey struct {
	userID string
	kind   Kind
	period string
}

type InMemoryStore struct {
	mu      sync.RWMutex
	reports map[storeKey]Report
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{reports: make(map[storeKey]Report)}
}

func keyOf(r Report) storeKey {
	return storeKey{userID: r.UserID, kind: r.Kind, period: r.PeriodKey}
}

func (s *InMemoryStore) Latest(_ context.Context, userID string, kind Kind) (Report, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest Report
	found := false
	for k, r := range s.reports {
		if k.userID != userID || k.kind != kind {
			continue
		}
		if !found || r.CreatedAt.After(latest.CreatedAt) {
			latest, found = r, true
		}
	}
	return latest, found, nil
}

func (s *InMemoryStore) Insert(_ context.Context, r Report) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[keyOf(r)]; exists {
		return false, nil
	}
	s.reports[keyOf(r)] = r
	return true, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[keyOf(r)] = r
	return nil
}

func (s *InMemoryStore) List(_ context.Context, userID string, kind Kind, limit int) ([]Report, error) {
	s.mu.RLock()
	var out []Report
	for k, r := range s.reports {
		if k.userID == userID && k.kind == kind {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	return newestFirst(out, limit), nil
}

func (s *InMemoryStore) Close() error { return nil }

func newestFirst(reports []Report, limit int) []Report {
	sort.Slice(reports, func(i, j int) bool { return reports[i].CreatedAt.After(reports[j].CreatedAt) })
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports
}
