// Package session tracks relay sessions that are currently in flight.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Entry is a snapshot of one in-flight relay.
type Entry struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	State          string    `json:"state"`
	Transitions    int       `json:"transitions"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	staleAfter time.Duration
	onExpire   func(*Entry)
}

// NewManager returns a tracker that reaps entries idle for longer than
// staleAfter once the janitor runs.
func NewManager(staleAfter time.Duration) *Manager {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Manager{
		entries:    make(map[string]*Entry),
		staleAfter: staleAfter,
	}
}

func (m *Manager) SetExpireHook(hook func(*Entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Begin starts tracking a relay session. Registering an id twice replaces
// the earlier entry.
func (m *Manager) Begin(sessionID, userID, state string) *Entry {
	now := time.Now().UTC()
	e := &Entry{
		SessionID:      sessionID,
		UserID:         userID,
		State:          state,
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = e
	return clone(e)
}

func (m *Manager) Get(sessionID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

// Update records a state transition for a tracked session.
func (m *Manager) Update(sessionID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.State = state
	e.Transitions++
	e.LastActivityAt = time.Now().UTC()
	return nil
}

// End stops tracking a session and returns its final snapshot.
func (m *Manager) End(sessionID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.entries, sessionID)
	e.LastActivityAt = time.Now().UTC()
	return clone(e), nil
}

// List returns in-flight sessions, oldest first.
func (m *Manager) List() []Entry {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
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
				m.expireStale()
			}
		}
	}()
}

func (m *Manager) expireStale() {
	now := time.Now().UTC()
	var expired []*Entry

	m.mu.Lock()
	for id, e := range m.entries {
		if now.Sub(e.LastActivityAt) < m.staleAfter {
			continue
		}
		delete(m.entries, id)
		expired = append(expired, clone(e))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, e := range expired {
			hook(e)
		}
	}
}

func clone(e *Entry) *Entry {
	c := *e
	return &c
}
