package triage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelpay/triage/internal/realtime"
)

// SessionStore keeps sessions in memory. Terminal sessions are retained for
// a bounded window for post-hoc inspection, then evicted by the sweeper.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Put inserts a session.
func (s *SessionStore) Put(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

// Get returns a snapshot of the session, or ErrSessionNotFound.
func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return snapshot(sess), nil
}

// Update applies fn to the session under the store lock and returns a
// snapshot of the result. Mutations and event appends go through here so
// readers never observe a half-applied step.
func (s *SessionStore) Update(id string, fn func(*Session)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	fn(sess)
	sess.UpdatedAt = time.Now()
	return snapshot(sess), nil
}

// Size returns the number of stored sessions.
func (s *SessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep evicts terminal sessions older than retention and returns how many
// were removed.
func (s *SessionStore) Sweep(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Terminal() && sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartRetentionSweep evicts expired terminal sessions periodically until
// ctx is cancelled.
func (s *SessionStore) StartRetentionSweep(ctx context.Context, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(retention / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(retention); n > 0 {
				logger.Debug("evicted expired sessions", "count", n)
			}
		}
	}
}

// snapshot copies a session deeply enough that callers can't race with the
// orchestrator's mutations. Events themselves are immutable once emitted.
func snapshot(sess *Session) *Session {
	cp := *sess
	cp.Steps = append([]StepResult(nil), sess.Steps...)
	cp.Events = append([]*realtime.Event(nil), sess.Events...)
	cp.FallbacksUsed = append([]string(nil), sess.FallbacksUsed...)
	cp.ProposedActions = append([]string(nil), sess.ProposedActions...)
	return &cp
}
