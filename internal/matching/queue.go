package matching

import (
	"sort"
	"sync"
	"time"
)

// Entry represents one waiting session in the matching queue.
type Entry struct {
	SessionID  string
	Profile    Profile
	Filter     Filter
	EnqueuedAt time.Time

	timeoutSent bool // search_timeout already emitted for this entry
}

// Pair is the result of a successful pairing pass: two entries removed from
// the queue in a single critical section, with the compatibility score
// computed once at pairing time.
type Pair struct {
	A     Entry
	B     Entry
	Score int
}

// Queue holds waiting sessions in FIFO arrival order and pairs mutually
// compatible entries. All operations are serialized by a single mutex so
// that no entry can ever be part of two pairs: removal of both sides of a
// pair is one atomic step.
type Queue struct {
	mu      sync.Mutex
	order   []*Entry          // FIFO arrival order
	entries map[string]*Entry // session_id -> entry
	now     func() time.Time  // swappable clock for tests
}

// NewQueue returns an empty matching queue.
func NewQueue() *Queue {
	return &Queue{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Enqueue adds a session to the tail of the queue. If the session is
// already queued, its profile and filter are replaced but its queue
// position and wait time are preserved.
func (q *Queue) Enqueue(sessionID string, profile Profile, filter Filter) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[sessionID]; ok {
		e.Profile = profile
		e.Filter = filter
		return
	}

	e := &Entry{
		SessionID:  sessionID,
		Profile:    profile,
		Filter:     filter,
		EnqueuedAt: q.now(),
	}
	q.entries[sessionID] = e
	q.order = append(q.order, e)
}

// Restore puts a previously popped entry back in the queue, keeping its
// original EnqueuedAt so the session does not lose FIFO seniority when a
// pairing is undone. The entry is inserted at its timestamp-sorted position.
// If the session re-queued itself in the meantime, the newer entry wins.
func (q *Queue) Restore(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[e.SessionID]; ok {
		return
	}

	restored := e
	q.entries[restored.SessionID] = &restored
	i := sort.Search(len(q.order), func(i int) bool {
		return q.order[i].EnqueuedAt.After(restored.EnqueuedAt)
	})
	q.order = append(q.order, nil)
	copy(q.order[i+1:], q.order[i:])
	q.order[i] = &restored
}

// Cancel removes a session's entry if it is still queued. It returns false
// when the entry is already gone, which happens when pairing won the race
// against cancellation; callers treat that as a no-op.
func (q *Queue) Cancel(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(sessionID)
}

// Contains reports whether the session currently has a queue entry.
func (q *Queue) Contains(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[sessionID]
	return ok
}

// EntryFor returns a copy of the session's queue entry, or false if the
// session is not queued.
func (q *Queue) EntryFor(sessionID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[sessionID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// SessionIDs returns the queued session IDs in FIFO order.
func (q *Queue) SessionIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.order))
	for i, e := range q.order {
		ids[i] = e.SessionID
	}
	return ids
}

// PopPairFor attempts to pair the given session against the other waiting
// entries, scanning from the head so the longest-waiting compatible partner
// wins. On success both entries are removed atomically and the pair is
// returned; otherwise nil, with the session left queued.
func (q *Queue) PopPairFor(sessionID string) *Pair {
	q.mu.Lock()
	defer q.mu.Unlock()

	self, ok := q.entries[sessionID]
	if !ok {
		return nil
	}
	return q.popPairLocked(self)
}

// PopNextPair runs one pairing pass over the whole queue: it scans from the
// oldest entry and returns the first compatible pair found, removing both
// entries atomically. It returns nil when no two waiting entries are
// mutually compatible. Callers drain the queue by invoking it repeatedly.
func (q *Queue) PopNextPair() *Pair {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.order {
		if p := q.popPairLocked(e); p != nil {
			return p
		}
	}
	return nil
}

// popPairLocked scans from the head for the first entry mutually compatible
// with self. Caller must hold q.mu.
func (q *Queue) popPairLocked(self *Entry) *Pair {
	for _, cand := range q.order {
		if cand.SessionID == self.SessionID {
			continue
		}
		score, ok := Compatible(self, cand)
		if !ok {
			continue
		}
		// Oldest of the two becomes side A so the pair is deterministic.
		a, b := cand, self
		if self.EnqueuedAt.Before(cand.EnqueuedAt) {
			a, b = self, cand
		}
		pair := &Pair{A: *a, B: *b, Score: score}
		q.removeLocked(a.SessionID)
		q.removeLocked(b.SessionID)
		return pair
	}
	return nil
}

// TimedOut returns the sessions that have been waiting longer than the
// given duration and have not yet been flagged, marking each so the
// search_timeout event is emitted at most once per entry. The entries stay
// queued; the timeout is informational.
func (q *Queue) TimedOut(wait time.Duration) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-wait)
	var out []string
	for _, e := range q.order {
		if !e.timeoutSent && e.EnqueuedAt.Before(cutoff) {
			e.timeoutSent = true
			out = append(out, e.SessionID)
		}
	}
	return out
}

// AverageWait returns the mean wait time of all queued entries, rounded to
// the second. Used for the matching_stats broadcast.
func (q *Queue) AverageWait() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return 0
	}
	var total time.Duration
	now := q.now()
	for _, e := range q.order {
		total += now.Sub(e.EnqueuedAt)
	}
	return (total / time.Duration(len(q.order))).Round(time.Second)
}

// removeLocked deletes an entry from both the map and the order slice.
// Caller must hold q.mu.
func (q *Queue) removeLocked(sessionID string) bool {
	if _, ok := q.entries[sessionID]; !ok {
		return false
	}
	delete(q.entries, sessionID)
	for i, e := range q.order {
		if e.SessionID == sessionID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}
