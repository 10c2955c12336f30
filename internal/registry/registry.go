// Package registry tracks one live Session per connected client. A Session
// is created when the socket is upgraded, bound to a user identity when the
// client first identifies itself (join_matching or
// register_for_notifications), and destroyed on disconnect. The registry is
// the single owner of session state and of the user -> sessions index used
// for multi-device notification fan-out.
package registry

import (
	"sync"
	"time"

	"github.com/anichat/server/internal/matching"
)

// Session states. A session is queued while it waits in the matching queue
// and paired while it participates in a conversation.
const (
	StateIdle   = "idle"
	StateQueued = "queued"
	StatePaired = "paired"
)

// Session represents one logical connected client: one socket plus an
// optional user identity. The zero UserID means the client has not
// identified itself yet.
type Session struct {
	ID          string
	UserID      string
	Profile     matching.Profile
	State       string
	ConnectedAt time.Time
}

// Registry is the thread-safe owner of all live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]bool // user_id -> set of session IDs
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]bool),
	}
}

// Create registers a new unbound session for a freshly upgraded connection.
func (r *Registry) Create(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = &Session{
		ID:          sessionID,
		State:       StateIdle,
		ConnectedAt: time.Now(),
	}
}

// Bind associates a user identity and display profile with a session,
// updating the per-user session index. It returns the previously bound user
// ID (empty if the session was unbound) and false if the session does not
// exist. Rebinding to the same user just refreshes the profile.
func (r *Registry) Bind(sessionID, userID string, profile matching.Profile) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}

	prev := s.UserID
	if prev != "" && prev != userID {
		r.unindexLocked(prev, sessionID)
	}
	s.UserID = userID
	s.Profile = profile

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]bool)
		r.byUser[userID] = set
	}
	set[sessionID] = true

	return prev, true
}

// Remove destroys a session and returns its final snapshot. The boolean is
// false when the session was already gone, which lets racing cleanup paths
// (read error vs heartbeat eviction) settle on a single winner.
func (r *Registry) Remove(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, sessionID)
	if s.UserID != "" {
		r.unindexLocked(s.UserID, sessionID)
	}
	return *s, true
}

// Get returns a snapshot of the session, or false if it does not exist.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// SetState transitions a session to the given state. Unknown sessions are
// ignored; the caller races against disconnect and the disconnect wins.
func (r *Registry) SetState(sessionID, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.State = state
	}
}

// SessionsForUser returns the IDs of all live sessions bound to the user,
// supporting multi-device fan-out. The order is unspecified.
func (r *Registry) SessionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// SessionIDs returns the IDs of every live session, used for broadcasts.
func (r *Registry) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// RefCount returns the number of live sessions bound to the user. Presence
// is defined as RefCount > 0.
func (r *Registry) RefCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Count returns the total number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// unindexLocked removes a session from a user's session set. Caller must
// hold r.mu.
func (r *Registry) unindexLocked(userID, sessionID string) {
	set, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}
