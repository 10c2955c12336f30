// Package notify fans realtime events out to every live session of a target
// user. Delivery is best-effort: a user with no live sessions simply misses
// the event, and durable notification state belongs to the REST service.
//
// When a NATS bus is configured, events are published on the bus and
// delivered locally by whichever instance holds sessions for the target, so
// fan-out works across server instances. Without a bus the hub delivers
// directly, which is correct for a single-instance deployment.
package notify

import (
	"log"

	"github.com/anichat/server/internal/messaging"
	"github.com/anichat/server/internal/protocol"
	"github.com/anichat/server/internal/registry"
)

// Sender delivers wire bytes to one local session. The WebSocket server
// implements it; tests substitute a recorder.
type Sender interface {
	Send(sessionID string, data []byte) error
}

// Hub routes per-user notifications and presence announcements.
type Hub struct {
	registry *registry.Registry
	sender   Sender
	bus      *messaging.NATSClient // nil when running single-instance
}

// NewHub creates a Hub. bus may be nil; when set, the hub subscribes to the
// bus so events published by other instances reach local sessions.
func NewHub(reg *registry.Registry, sender Sender, bus *messaging.NATSClient) (*Hub, error) {
	h := &Hub{registry: reg, sender: sender, bus: bus}

	if bus != nil {
		if err := bus.SubscribeNotify(h.deliverLocal); err != nil {
			return nil, err
		}
		if err := bus.SubscribePresence(h.deliverPresence); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// NotifyUser sends a server message to every live session the user has.
// Users with no live sessions are silently skipped.
func (h *Hub) NotifyUser(userID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[notify] encode %s for %s: %v", msgType, userID, err)
		return
	}

	if h.bus != nil {
		// Delivery happens on receipt, including on this instance.
		if err := h.bus.PublishNotify(userID, data); err != nil {
			log.Printf("[notify] publish %s for %s: %v", msgType, userID, err)
		}
		return
	}
	h.deliverLocal(userID, data)
}

// AnnouncePresence broadcasts a user's presence transition ("online" or
// "offline") to every connected session.
func (h *Hub) AnnouncePresence(transition, userID string) {
	if h.bus != nil {
		if err := h.bus.PublishPresence(transition, userID); err != nil {
			log.Printf("[notify] publish presence %s %s: %v", transition, userID, err)
		}
		return
	}
	h.deliverPresence(transition, userID)
}

// deliverLocal pushes wire bytes to each local session of the user.
func (h *Hub) deliverLocal(userID string, data []byte) {
	for _, sid := range h.registry.SessionsForUser(userID) {
		if err := h.sender.Send(sid, data); err != nil {
			log.Printf("[notify] send to session %s: %v", sid, err)
		}
	}
}

// deliverPresence broadcasts user_online/user_offline to all local sessions.
func (h *Hub) deliverPresence(transition, userID string) {
	msgType := protocol.TypeUserOnline
	payload := interface{}(protocol.UserOnlineMsg{UserID: userID})
	if transition == "offline" {
		msgType = protocol.TypeUserOffline
		payload = protocol.UserOfflineMsg{UserID: userID}
	}

	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[notify] encode %s: %v", msgType, err)
		return
	}
	for _, sid := range h.registry.SessionIDs() {
		if err := h.sender.Send(sid, data); err != nil {
			log.Printf("[notify] send to session %s: %v", sid, err)
		}
	}
}
