// Package conversation owns the active paired-chat sessions. A Conversation
// is created atomically when the matching queue pairs two sessions and is
// destroyed the moment either side leaves, skips, or disconnects. Messages
// are relayed, never persisted: the transient log only retains the last few
// messages so abuse reports can attach context, and it dies with the
// conversation.
package conversation

import (
	"errors"
	"time"

	"github.com/anichat/server/internal/matching"
)

// ErrAlreadyPaired is returned when a session that already participates in
// an active conversation is offered a second one.
var ErrAlreadyPaired = errors.New("conversation: session already in an active conversation")

// Conversation is one active ephemeral chat between exactly two sessions.
type Conversation struct {
	ID        string
	SessionA  string
	SessionB  string
	ProfileA  matching.Profile
	ProfileB  matching.Profile
	Score     int
	Universe  matching.Universe
	StartedAt time.Time
}

// IsParticipant reports whether the session is one of the two sides.
func (c Conversation) IsParticipant(sessionID string) bool {
	return sessionID == c.SessionA || sessionID == c.SessionB
}

// Partner returns the other side's session ID, or "" if the given session
// is not a participant.
func (c Conversation) Partner(sessionID string) string {
	switch sessionID {
	case c.SessionA:
		return c.SessionB
	case c.SessionB:
		return c.SessionA
	}
	return ""
}

// ProfileOf returns the display profile bound to the given participant.
func (c Conversation) ProfileOf(sessionID string) matching.Profile {
	if sessionID == c.SessionA {
		return c.ProfileA
	}
	return c.ProfileB
}

// Message is one relayed chat message retained in the transient log.
type Message struct {
	From string `json:"from"` // sender's user ID
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}
