package app

import (
	"sync"
	"time"
)

// SessionRegistry tracks connected MCP operator sessions and the user each one
// acts for. Multiple sessions may act for the same user.
type SessionRegistry struct {
	mu           sync.RWMutex
	users        map[string]string    // sessionID → userID
	lastActivity map[string]time.Time // sessionID → last activity timestamp
	now          func() time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		users:        make(map[string]string),
		lastActivity: make(map[string]time.Time),
		now:          time.Now,
	}
}

// SetUser binds a session to a user, replacing any previous binding.
func (r *SessionRegistry) SetUser(sessionID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[sessionID] = userID
	r.lastActivity[sessionID] = r.now()
}

// GetUser returns the user bound to a session, or "" if none.
func (r *SessionRegistry) GetUser(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[sessionID]
}

// TouchSession records activity for a bound session.
func (r *SessionRegistry) TouchSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[sessionID]; ok {
		r.lastActivity[sessionID] = r.now()
	}
}

// LastActivity returns the last activity time of a session, or zero if unknown.
func (r *SessionRegistry) LastActivity(sessionID string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity[sessionID]
}

// RemoveSession unregisters a session (e.g. on disconnect).
func (r *SessionRegistry) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, sessionID)
	delete(r.lastActivity, sessionID)
}

// PruneIdle removes sessions idle for longer than maxIdle and returns how many were removed.
func (r *SessionRegistry) PruneIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxIdle)
	removed := 0
	for sid, last := range r.lastActivity {
		if last.Before(cutoff) {
			delete(r.users, sid)
			delete(r.lastActivity, sid)
			removed++
		}
	}
	return removed
}

// Count returns the number of bound sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
