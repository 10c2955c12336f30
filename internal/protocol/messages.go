// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator, mirroring the named-event contract the web client speaks.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/anichat/server/internal/matching"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinMatching             = "join_matching"
	TypeCancelMatching           = "cancel_matching"
	TypeSkipPartner              = "skip_partner"
	TypeLeaveChat                = "leave_chat"
	TypeSendMessage              = "send_message"
	TypeTypingStart              = "typing_start"
	TypeTypingStop               = "typing_stop"
	TypeSendFriendRequest        = "send_friend_request"
	TypeRegisterForNotifications = "register_for_notifications"
	TypeGetOnlineUsers           = "get_online_users"
	TypeReportPartner            = "report_partner"
	TypePing                     = "ping"
)

// Server -> Client message types.
const (
	TypeConnected            = "connected"
	TypeSearching            = "searching"
	TypeMatchFound           = "match_found"
	TypeSearchTimeout        = "search_timeout"
	TypeMatchingCancelled    = "matching_cancelled"
	TypeMatchingStats        = "matching_stats"
	TypeReceiveMessage       = "receive_message"
	TypeMessageSent          = "message_sent"
	TypePartnerTypingStart   = "partner_typing_start"
	TypePartnerTypingStop    = "partner_typing_stop"
	TypePartnerDisconnected  = "partner_disconnected"
	TypePartnerLeft          = "partner_left"
	TypePartnerSkipped       = "partner_skipped"
	TypeYouWereSkipped       = "you_were_skipped"
	TypeChatEnded            = "chat_ended"
	TypeUserOnline           = "user_online"
	TypeUserOffline          = "user_offline"
	TypeOnlineUsersUpdate    = "online_users_update"
	TypeFriendRequestReceived = "friend_request_received"
	TypeFriendRequestAccepted = "friend_request_accepted"
	TypeNotificationRegistered = "notification_registration_success"
	TypePremiumLimitReached  = "premium_limit_reached"
	TypeRateLimited          = "rate_limited"
	TypeReportSubmitted      = "report_submitted"
	TypeError                = "error"
	TypePong                 = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMatchingMsg is sent by the client to enter the matching queue with its
// display profile and partner filters.
type JoinMatchingMsg struct {
	Type     string           `json:"type"`
	UserID   string           `json:"user_id"`
	UserData matching.Profile `json:"user_data"`
	Filters  matching.Filter  `json:"filters"`
}

// CancelMatchingMsg is sent by the client to leave the matching queue.
type CancelMatchingMsg struct {
	Type string `json:"type"`
}

// SkipPartnerMsg ends the current conversation and immediately re-enters
// the matching queue.
type SkipPartnerMsg struct {
	Type string `json:"type"`
}

// LeaveChatMsg ends the current conversation without re-queueing.
type LeaveChatMsg struct {
	Type string `json:"type"`
}

// SendMessageMsg is a chat message sent within the active conversation.
// Image is an optional attachment reference (data URL or upload key).
type SendMessageMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`
}

// TypingStartMsg signals the client started typing.
type TypingStartMsg struct {
	Type string `json:"type"`
}

// TypingStopMsg signals the client stopped typing.
type TypingStopMsg struct {
	Type string `json:"type"`
}

// SendFriendRequestMsg asks the server to relay a friend request to the
// current chat partner. The durable request lives in the REST service; this
// only triggers the realtime notification.
type SendFriendRequestMsg struct {
	Type string `json:"type"`
}

// RegisterForNotificationsMsg binds a user identity to the connection so
// presence and friend notifications can be delivered without joining the
// matching queue.
type RegisterForNotificationsMsg struct {
	Type     string           `json:"type"`
	UserID   string           `json:"user_id"`
	UserData matching.Profile `json:"user_data"`
}

// GetOnlineUsersMsg requests a full snapshot of online user IDs.
type GetOnlineUsersMsg struct {
	Type string `json:"type"`
}

// ReportPartnerMsg reports the current chat partner for abuse.
type ReportPartnerMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg greets a freshly upgraded connection with its session ID.
type ConnectedMsg struct {
	Type string `json:"type"`
	SID  string `json:"sid"`
}

// SearchingMsg confirms the client entered the matching queue.
type SearchingMsg struct {
	Type string `json:"type"`
}

// MatchFoundMsg is sent to both users when a compatible partner is found.
type MatchFoundMsg struct {
	Type           string            `json:"type"`
	Partner        matching.Profile  `json:"partner"`
	Compatibility  int               `json:"compatibility"`
	SharedUniverse matching.Universe `json:"shared_universe"`
}

// SearchTimeoutMsg tells a waiting client the search is taking longer than
// usual. Informational only; the client stays queued.
type SearchTimeoutMsg struct {
	Type string `json:"type"`
}

// MatchingCancelledMsg acknowledges a cancel_matching request.
type MatchingCancelledMsg struct {
	Type string `json:"type"`
}

// MatchingStatsMsg carries the periodic queue statistics broadcast to
// everyone currently searching.
type MatchingStatsMsg struct {
	Type           string `json:"type"`
	TotalUsers     int    `json:"totalUsers"`
	ActiveMatchers int    `json:"activeMatchers"`
	AvgWaitTime    int    `json:"avgWaitTime"` // seconds
}

// ChatMessageMsg is the relayed chat payload. The same shape is used for
// receive_message (to the partner) and message_sent (echo to the sender);
// the UI renders the two differently.
type ChatMessageMsg struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Image     string `json:"image,omitempty"`
	From      string `json:"from"` // sender's user ID
	Timestamp string `json:"timestamp"`
	IsSpoiler bool   `json:"is_spoiler"`
}

// PartnerTypingStartMsg relays that the partner started typing.
type PartnerTypingStartMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// PartnerTypingStopMsg relays that the partner stopped typing.
type PartnerTypingStopMsg struct {
	Type string `json:"type"`
}

// PartnerDisconnectedMsg tells the remaining user their partner's
// connection dropped.
type PartnerDisconnectedMsg struct {
	Type string `json:"type"`
}

// PartnerLeftMsg tells the remaining user their partner left the chat.
type PartnerLeftMsg struct {
	Type string `json:"type"`
}

// PartnerSkippedMsg tells the remaining user their partner skipped them.
type PartnerSkippedMsg struct {
	Type string `json:"type"`
}

// YouWereSkippedMsg is the legacy analog of partner_skipped; both are
// emitted so older clients keep working.
type YouWereSkippedMsg struct {
	Type string `json:"type"`
}

// ChatEndedMsg acknowledges leave_chat to the leaver.
type ChatEndedMsg struct {
	Type string `json:"type"`
}

// UserOnlineMsg announces a user's first session coming online.
type UserOnlineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// UserOfflineMsg announces a user's last session going offline.
type UserOfflineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// OnlineUsersUpdateMsg is the full presence snapshot sent on request.
type OnlineUsersUpdateMsg struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// FriendRequestReceivedMsg notifies a user of an incoming friend request.
type FriendRequestReceivedMsg struct {
	Type     string           `json:"type"`
	FromUser matching.Profile `json:"from_user"`
}

// FriendRequestAcceptedMsg notifies a user their friend request was accepted.
// Acceptance happens over the REST profile service, not a WebSocket event, so
// this server never constructs the message itself: the profile service
// publishes it on the per-user notification subject and the hub relays it to
// the requester's live sessions like any other user-directed event.
type FriendRequestAcceptedMsg struct {
	Type   string           `json:"type"`
	Friend matching.Profile `json:"friend"`
}

// NotificationRegisteredMsg acknowledges register_for_notifications.
type NotificationRegisteredMsg struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// PremiumLimitReachedMsg is sent when a free user exceeds the daily match
// quota.
type PremiumLimitReachedMsg struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	Feature      string `json:"feature"`
	CurrentCount int    `json:"current_count"`
	MaxCount     int    `json:"max_count"`
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ReportSubmittedMsg acknowledges a report_partner event.
type ReportSubmittedMsg struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the server to communicate an error condition to the
// offending session only.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinMatching:
		var m JoinMatchingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelMatching:
		var m CancelMatchingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSkipPartner:
		var m SkipPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart:
		var m TypingStartMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStop:
		var m TypingStopMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendFriendRequest:
		var m SendFriendRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRegisterForNotifications:
		var m RegisterForNotificationsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetOnlineUsers:
		var m GetOnlineUsersMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReportPartner:
		var m ReportPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
