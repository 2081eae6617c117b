package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session ended")
)

type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// teardown tracks in-flight end-of-session work for one user. done is closed
// when the last pending teardown finishes.
type teardown struct {
	pending int
	done    chan struct{}
}

// userLease serialises the connection loops of one user. slot holds a token
// while a loop owns the user; refs counts holders and waiters.
type userLease struct {
	slot chan struct{}
	refs int
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	ended             map[string]chan struct{}
	sessionByUser     map[string]string
	teardowns         map[string]*teardown
	leases            map[string]*userLease
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		ended:             make(map[string]chan struct{}),
		sessionByUser:     make(map[string]string),
		teardowns:         make(map[string]*teardown),
		leases:            make(map[string]*userLease),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// InactivityTimeout reports how long a session may stay idle before the
// janitor ends it.
func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

// Create starts a session for userID. A user has at most one active session:
// the previous one, if any, is ended and its connection loop winds down.
func (m *Manager) Create(userID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.ended[s.ID] = make(chan struct{})
	if userID != "" {
		if prevID, ok := m.sessionByUser[userID]; ok {
			if prev, ok := m.sessions[prevID]; ok {
				m.endLocked(prev, now)
			}
		}
		m.sessionByUser[userID] = s.ID
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// ActiveForUser returns the user's most recently created active session.
func (m *Manager) ActiveForUser(userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionByUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusActive {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Done returns a channel closed once the session ends, either explicitly or
// through inactivity expiry.
func (m *Manager) Done(sessionID string) (<-chan struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.ended[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return ch, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// StartTurn records a new conversational turn on the session.
func (m *Manager) StartTurn(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.TurnCount++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	m.endLocked(s, time.Now().UTC())
	return clone(s), nil
}

func (m *Manager) endLocked(s *Session, now time.Time) {
	if s.Status == StatusEnded {
		return
	}
	s.Status = StatusEnded
	s.LastActivityAt = now
	if s.UserID != "" && m.sessionByUser[s.UserID] == s.ID {
		delete(m.sessionByUser, s.UserID)
	}
	if ch, ok := m.ended[s.ID]; ok {
		close(ch)
	}
}

// AcquireUser blocks until no other connection loop holds userID, then
// holds it until the returned release func is called. Turns and teardown of
// one user never overlap across sessions.
func (m *Manager) AcquireUser(ctx context.Context, userID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.leases[userID]
	if !ok {
		l = &userLease{slot: make(chan struct{}, 1)}
		m.leases[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		m.dropLease(userID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.slot
			m.dropLease(userID, l)
		})
	}, nil
}

func (m *Manager) dropLease(userID string, l *userLease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 && m.leases[userID] == l {
		delete(m.leases, userID)
	}
}

// BeginTeardown marks end-of-session work as in flight for userID. The
// returned func must be called exactly once when that work completes.
func (m *Manager) BeginTeardown(userID string) func() {
	m.mu.Lock()
	td, ok := m.teardowns[userID]
	if !ok {
		td = &teardown{done: make(chan struct{})}
		m.teardowns[userID] = td
	}
	td.pending++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			td.pending--
			if td.pending == 0 {
				close(td.done)
				if m.teardowns[userID] == td {
					delete(m.teardowns, userID)
				}
			}
		})
	}
}

// WaitTeardown blocks until no teardown is in flight for userID, so a new
// session observes the memory and report writes of the previous one.
func (m *Manager) WaitTeardown(ctx context.Context, userID string) error {
	m.mu.RLock()
	td, ok := m.teardowns[userID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-td.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
				m.forgetEnded()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		m.endLocked(s, now)
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

// forgetEnded drops sessions that ended more than one inactivity window ago.
func (m *Manager) forgetEnded() {
	cutoff := time.Now().UTC().Add(-m.inactivityTimeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.Status == StatusEnded && s.LastActivityAt.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.ended, id)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
