package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anichat/server/internal/matching"
)

// Manager is the thread-safe owner of all active conversations. Creation
// and teardown are single critical sections, so a conversation can never be
// half-created or torn down twice, and a session can never participate in
// two conversations at once.
type Manager struct {
	mu        sync.Mutex
	byID      map[string]*Conversation
	bySession map[string]*Conversation
	logs      *transientLog
}

// NewManager returns an empty conversation manager.
func NewManager() *Manager {
	return &Manager{
		byID:      make(map[string]*Conversation),
		bySession: make(map[string]*Conversation),
		logs:      newTransientLog(),
	}
}

// Create starts a conversation between the two sides of a matched pair. The
// compatibility score and shared universe were computed once at pairing
// time and are stored verbatim. It fails with ErrAlreadyPaired if either
// session is already in an active conversation.
func (m *Manager) Create(a, b matching.Entry, score int, universe matching.Universe) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.bySession[a.SessionID]; busy {
		return Conversation{}, ErrAlreadyPaired
	}
	if _, busy := m.bySession[b.SessionID]; busy {
		return Conversation{}, ErrAlreadyPaired
	}

	c := &Conversation{
		ID:        uuid.New().String(),
		SessionA:  a.SessionID,
		SessionB:  b.SessionID,
		ProfileA:  a.Profile,
		ProfileB:  b.Profile,
		Score:     score,
		Universe:  universe,
		StartedAt: time.Now(),
	}
	m.byID[c.ID] = c
	m.bySession[c.SessionA] = c
	m.bySession[c.SessionB] = c
	return *c, nil
}

// ForSession returns the active conversation the session participates in.
func (m *Manager) ForSession(sessionID string) (Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.bySession[sessionID]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// Get returns the active conversation with the given ID.
func (m *Manager) Get(conversationID string) (Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// EndForSession tears down the conversation the session participates in and
// returns its final snapshot. The teardown is terminal and idempotent:
// racing teardown paths (skip vs disconnect) settle on a single winner and
// the loser sees ok=false. The transient message log dies with the
// conversation.
func (m *Manager) EndForSession(sessionID string) (Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.bySession[sessionID]
	if !ok {
		return Conversation{}, false
	}
	m.endLocked(c)
	return *c, true
}

// End tears down the conversation by ID. Same semantics as EndForSession.
func (m *Manager) End(conversationID string) (Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[conversationID]
	if !ok {
		return Conversation{}, false
	}
	m.endLocked(c)
	return *c, true
}

// Append records a relayed message in the conversation's transient log.
// Messages for ended conversations are dropped.
func (m *Manager) Append(conversationID string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[conversationID]; !ok {
		return
	}
	m.logs.add(conversationID, msg)
}

// Recent returns the last few messages of an active conversation in
// chronological order, used to attach context to abuse reports.
func (m *Manager) Recent(conversationID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs.get(conversationID)
}

// Active returns the number of active conversations.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// endLocked removes all traces of a conversation. Caller must hold m.mu.
func (m *Manager) endLocked(c *Conversation) {
	delete(m.byID, c.ID)
	delete(m.bySession, c.SessionA)
	delete(m.bySession, c.SessionB)
	m.logs.remove(c.ID)
}
