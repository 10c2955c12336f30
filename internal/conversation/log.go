package conversation

// maxLogMessages is the number of recent messages retained per conversation.
// The log exists only to give abuse reports a little context; it is never
// replayed to clients and dies with the conversation.
const maxLogMessages = 10

// transientLog stores the last N messages per conversation. Callers hold
// the Manager lock, so the log itself is unsynchronized.
type transientLog struct {
	rings map[string]*ring // conversation ID -> ring buffer
}

type ring struct {
	items []Message
	pos   int
	count int
}

func newTransientLog() *transientLog {
	return &transientLog{rings: make(map[string]*ring)}
}

// add appends a message, overwriting the oldest once the ring is full.
func (l *transientLog) add(conversationID string, msg Message) {
	r, ok := l.rings[conversationID]
	if !ok {
		r = &ring{items: make([]Message, maxLogMessages)}
		l.rings[conversationID] = r
	}
	r.items[r.pos] = msg
	r.pos = (r.pos + 1) % maxLogMessages
	if r.count < maxLogMessages {
		r.count++
	}
}

// get returns the retained messages oldest first.
func (l *transientLog) get(conversationID string) []Message {
	r, ok := l.rings[conversationID]
	if !ok {
		return []Message{}
	}
	out := make([]Message, r.count)
	start := (r.pos - r.count + maxLogMessages) % maxLogMessages
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%maxLogMessages]
	}
	return out
}

func (l *transientLog) remove(conversationID string) {
	delete(l.rings, conversationID)
}
