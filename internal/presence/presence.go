// Package presence maintains the process-wide set of currently-online user
// IDs. A user is online while at least one of their sessions is connected;
// the tracker refcounts sessions per user so multiple tabs or devices do
// not flap the online state. The set is not persisted — it is rebuilt from
// live connections after a restart.
package presence

import "sync"

// Tracker is the single owner of the online-users set.
type Tracker struct {
	mu     sync.RWMutex
	counts map[string]int // user_id -> live session count
}

// NewTracker returns an empty presence tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// MarkOnline records one more live session for the user. It returns true on
// the 0 -> 1 transition, which is when callers broadcast user_online.
func (t *Tracker) MarkOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[userID]++
	return t.counts[userID] == 1
}

// MarkOffline records one less live session for the user. It returns true
// on the 1 -> 0 transition, which is when callers broadcast user_offline.
// Calling it for a user with no recorded sessions is a no-op.
func (t *Tracker) MarkOffline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.counts[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(t.counts, userID)
		return true
	}
	t.counts[userID] = n - 1
	return false
}

// IsOnline reports whether the user has at least one live session.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[userID] > 0
}

// Snapshot returns the current set of online user IDs. The order is
// unspecified.
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make([]string, 0, len(t.counts))
	for id := range t.counts {
		users = append(users, id)
	}
	return users
}

// Count returns the number of distinct online users.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.counts)
}
