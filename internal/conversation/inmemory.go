package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/companion/internal/reliability"
)

// InMemoryStore is a simple in-process conversation log for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[string][]Turn)}
}

func (s *InMemoryStore) Append(_ context.Context, turn Turn) error {
	if err := validate(turn); err != nil {
		return reliability.Persistence("append turn", err)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.turns[turn.UserID], turn)
	sort.SliceStable(arr, func(i, j int) bool { return arr[i].CreatedAt.Before(arr[j].CreatedAt) })
	s.turns[turn.UserID] = arr
	return nil
}

func (s *InMemoryStore) Fetch(_ context.Context, userID string, r Range) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Turn
	for _, t := range s.turns[userID] {
		if r.Contains(t.CreatedAt) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *InMemoryStore) DistinctUsersActiveOn(_ context.Context, day time.Time) ([]string, error) {
	r := Day(day)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []string
	for user, turns := range s.turns {
		for _, t := range turns {
			if r.Contains(t.CreatedAt) {
				users = append(users, user)
				break
			}
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *InMemoryStore) Close() error { return nil }
