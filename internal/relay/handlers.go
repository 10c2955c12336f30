package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/anichat/server/internal/conversation"
	"github.com/anichat/server/internal/matching"
	"github.com/anichat/server/internal/metrics"
	"github.com/anichat/server/internal/protocol"
	"github.com/anichat/server/internal/ratelimit"
	"github.com/anichat/server/internal/registry"
	"github.com/anichat/server/internal/report"
	"github.com/anichat/server/internal/spoiler"
	"github.com/anichat/server/internal/ws"
)

// Register wires every client event type to its Coordinator handler on the
// given dispatcher.
func (c *Coordinator) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeJoinMatching, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.JoinMatchingMsg); ok {
			conn.BindUser(m.UserID)
			c.HandleJoinMatching(conn.ID, m)
		}
	})
	d.Register(protocol.TypeCancelMatching, func(conn *ws.Connection, msg interface{}) {
		c.HandleCancelMatching(conn.ID)
	})
	d.Register(protocol.TypeSkipPartner, func(conn *ws.Connection, msg interface{}) {
		c.HandleSkipPartner(conn.ID)
	})
	d.Register(protocol.TypeLeaveChat, func(conn *ws.Connection, msg interface{}) {
		c.HandleLeaveChat(conn.ID)
	})
	d.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SendMessageMsg); ok {
			c.HandleSendMessage(conn.ID, m)
		}
	})
	d.Register(protocol.TypeTypingStart, func(conn *ws.Connection, msg interface{}) {
		c.HandleTypingStart(conn.ID)
	})
	d.Register(protocol.TypeTypingStop, func(conn *ws.Connection, msg interface{}) {
		c.HandleTypingStop(conn.ID)
	})
	d.Register(protocol.TypeSendFriendRequest, func(conn *ws.Connection, msg interface{}) {
		c.HandleSendFriendRequest(conn.ID)
	})
	d.Register(protocol.TypeRegisterForNotifications, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.RegisterForNotificationsMsg); ok {
			conn.BindUser(m.UserID)
			c.HandleRegisterForNotifications(conn.ID, m)
		}
	})
	d.Register(protocol.TypeGetOnlineUsers, func(conn *ws.Connection, msg interface{}) {
		c.HandleGetOnlineUsers(conn.ID)
	})
	d.Register(protocol.TypeReportPartner, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ReportPartnerMsg); ok {
			c.HandleReportPartner(conn.ID, m)
		}
	})
}

// bindIdentity binds a user identity to the session and keeps the presence
// refcount in step. Rebinding to the same user is a no-op; rebinding to a
// different user releases the old identity first.
func (c *Coordinator) bindIdentity(sessionID, userID string, profile matching.Profile) bool {
	prev, ok := c.registry.Bind(sessionID, userID, profile)
	if !ok {
		return false
	}
	if prev == userID {
		return true
	}
	if prev != "" && c.presence.MarkOffline(prev) {
		c.hub.AnnouncePresence("offline", prev)
	}
	if c.presence.MarkOnline(userID) {
		c.hub.AnnouncePresence("online", userID)
	}
	metrics.OnlineUsers.Set(float64(c.presence.Count()))
	return true
}

// HandleJoinMatching puts the session into the matching queue and attempts
// an immediate pairing.
func (c *Coordinator) HandleJoinMatching(sessionID string, m protocol.JoinMatchingMsg) {
	if m.UserID == "" {
		c.sendError(sessionID, "invalid_user", "user_id is required")
		return
	}
	if !c.bindIdentity(sessionID, m.UserID, m.UserData) {
		return // connection already gone
	}

	if c.bans != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		banned, remaining, reason, err := c.bans.IsBanned(ctx, m.UserID)
		cancel()
		if err != nil {
			log.Printf("[relay] ban check for %s: %v (failing open)", m.UserID, err)
		} else if banned {
			c.sendError(sessionID, "banned",
				fmt.Sprintf("you are banned for %s (%ds remaining)", reason, remaining))
			return
		}
	}

	if _, busy := c.conversations.ForSession(sessionID); busy {
		c.sendError(sessionID, "already_in_chat", "leave your current chat before matching again")
		return
	}

	if !c.allow(m.UserID, ratelimit.RuleMatch, sessionID) {
		return
	}

	if c.quota != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		exceeded, used := c.quota.Exceeded(ctx, m.UserID, m.UserData.Premium)
		cancel()
		if exceeded {
			c.send(sessionID, protocol.TypePremiumLimitReached, protocol.PremiumLimitReachedMsg{
				Message:      fmt.Sprintf("Daily match limit reached (%d). Upgrade to premium for more matches!", c.quota.Limit()),
				Feature:      "daily_matches",
				CurrentCount: used,
				MaxCount:     c.quota.Limit(),
			})
			return
		}
	}

	c.mu.Lock()
	c.lastFilters[sessionID] = m.Filters
	c.mu.Unlock()

	c.queue.Enqueue(sessionID, m.UserData, m.Filters)
	c.registry.SetState(sessionID, registry.StateQueued)
	c.send(sessionID, protocol.TypeSearching, protocol.SearchingMsg{})
	metrics.MatchQueueSize.Set(float64(c.queue.Len()))

	if p := c.queue.PopPairFor(sessionID); p != nil {
		c.startConversation(p)
	}
}

// HandleCancelMatching removes the session from the queue. If the session
// was already paired by a concurrent pass, the cancel loses the race and is
// a no-op; the client will receive match_found instead.
func (c *Coordinator) HandleCancelMatching(sessionID string) {
	if !c.queue.Cancel(sessionID) {
		return
	}
	c.registry.SetState(sessionID, registry.StateIdle)
	c.send(sessionID, protocol.TypeMatchingCancelled, protocol.MatchingCancelledMsg{})
	metrics.MatchQueueSize.Set(float64(c.queue.Len()))
}

// HandleSendMessage relays a chat message within the active conversation.
// The partner receives receive_message and the sender gets a message_sent
// echo; the two carry identical content.
func (c *Coordinator) HandleSendMessage(sessionID string, m protocol.SendMessageMsg) {
	conv, ok := c.conversations.ForSession(sessionID)
	if !ok {
		c.sendError(sessionID, "not_in_chat", "no active conversation")
		return
	}

	if !c.allow(sessionID, ratelimit.RuleMessage, sessionID) {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		return
	}

	if err := conversation.ValidateMessage(m.Message, m.Image != ""); err != nil {
		c.sendError(sessionID, "invalid_message", err.Error())
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	fromUser := conv.ProfileOf(sessionID).ID
	now := time.Now().UTC()
	isSpoiler := spoiler.Detect(m.Message)

	c.conversations.Append(conv.ID, conversation.Message{
		From: fromUser,
		Text: m.Message,
		Ts:   now.Unix(),
	})

	payload := protocol.ChatMessageMsg{
		Message:   m.Message,
		Image:     m.Image,
		From:      fromUser,
		Timestamp: now.Format(time.RFC3339),
		IsSpoiler: isSpoiler,
	}
	c.send(conv.Partner(sessionID), protocol.TypeReceiveMessage, payload)
	c.send(sessionID, protocol.TypeMessageSent, payload)

	if isSpoiler {
		metrics.MessagesTotal.WithLabelValues("spoiler").Inc()
	} else {
		metrics.MessagesTotal.WithLabelValues("relayed").Inc()
	}
}

// HandleTypingStart relays a typing indicator to the partner.
func (c *Coordinator) HandleTypingStart(sessionID string) {
	conv, ok := c.conversations.ForSession(sessionID)
	if !ok {
		return
	}
	p := conv.ProfileOf(sessionID)
	c.send(conv.Partner(sessionID), protocol.TypePartnerTypingStart, protocol.PartnerTypingStartMsg{
		UserID:   p.ID,
		UserName: p.Name,
	})
}

// HandleTypingStop relays the end of a typing indicator to the partner.
func (c *Coordinator) HandleTypingStop(sessionID string) {
	conv, ok := c.conversations.ForSession(sessionID)
	if !ok {
		return
	}
	c.send(conv.Partner(sessionID), protocol.TypePartnerTypingStop, protocol.PartnerTypingStopMsg{})
}

// HandleSkipPartner ends the conversation and immediately re-enters the
// skipper into the queue with their previous filters. The skipped partner is
// informed and left idle.
func (c *Coordinator) HandleSkipPartner(sessionID string) {
	conv, ok := c.conversations.EndForSession(sessionID)
	if !ok {
		c.sendError(sessionID, "not_in_chat", "no active conversation")
		return
	}

	partner := conv.Partner(sessionID)
	c.send(partner, protocol.TypePartnerSkipped, protocol.PartnerSkippedMsg{})
	c.send(partner, protocol.TypeYouWereSkipped, protocol.YouWereSkippedMsg{})
	c.registry.SetState(partner, registry.StateIdle)

	c.mu.Lock()
	filter := c.lastFilters[sessionID]
	c.mu.Unlock()

	c.queue.Enqueue(sessionID, conv.ProfileOf(sessionID), filter)
	c.registry.SetState(sessionID, registry.StateQueued)
	c.send(sessionID, protocol.TypeSearching, protocol.SearchingMsg{})

	metrics.ActiveConversations.Set(float64(c.conversations.Active()))
	metrics.MatchQueueSize.Set(float64(c.queue.Len()))

	if p := c.queue.PopPairFor(sessionID); p != nil {
		c.startConversation(p)
	}
}

// HandleLeaveChat ends the conversation without re-queueing anyone.
func (c *Coordinator) HandleLeaveChat(sessionID string) {
	conv, ok := c.conversations.EndForSession(sessionID)
	if !ok {
		c.sendError(sessionID, "not_in_chat", "no active conversation")
		return
	}

	partner := conv.Partner(sessionID)
	c.send(partner, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{})
	c.send(partner, protocol.TypeChatEnded, protocol.ChatEndedMsg{})
	c.send(sessionID, protocol.TypeChatEnded, protocol.ChatEndedMsg{})

	c.registry.SetState(partner, registry.StateIdle)
	c.registry.SetState(sessionID, registry.StateIdle)
	metrics.ActiveConversations.Set(float64(c.conversations.Active()))
}

// HandleRegisterForNotifications binds a user identity without entering the
// matching queue, so presence and friend events reach users who are just
// idling in the app.
func (c *Coordinator) HandleRegisterForNotifications(sessionID string, m protocol.RegisterForNotificationsMsg) {
	if m.UserID == "" {
		c.sendError(sessionID, "invalid_user", "user_id is required")
		return
	}
	if !c.bindIdentity(sessionID, m.UserID, m.UserData) {
		return
	}
	c.send(sessionID, protocol.TypeNotificationRegistered, protocol.NotificationRegisteredMsg{
		UserID:  m.UserID,
		Message: "successfully registered for notifications",
	})
}

// HandleGetOnlineUsers sends a full presence snapshot to the requester.
func (c *Coordinator) HandleGetOnlineUsers(sessionID string) {
	c.send(sessionID, protocol.TypeOnlineUsersUpdate, protocol.OnlineUsersUpdateMsg{
		Users: c.presence.Snapshot(),
	})
}

// HandleSendFriendRequest relays a friend request to the current partner.
// The durable request record lives in the REST service; this only delivers
// the realtime notification to whatever devices the partner has online.
func (c *Coordinator) HandleSendFriendRequest(sessionID string) {
	conv, ok := c.conversations.ForSession(sessionID)
	if !ok {
		c.sendError(sessionID, "not_in_chat", "no active conversation")
		return
	}
	from := conv.ProfileOf(sessionID)
	partnerUser := conv.ProfileOf(conv.Partner(sessionID)).ID

	c.hub.NotifyUser(partnerUser, protocol.TypeFriendRequestReceived, protocol.FriendRequestReceivedMsg{
		FromUser: from,
	})
}

// HandleReportPartner persists an abuse report with a snapshot of the
// conversation's recent messages and feeds the auto-ban escalation. The
// conversation stays active; ending it is the reporter's choice.
func (c *Coordinator) HandleReportPartner(sessionID string, m protocol.ReportPartnerMsg) {
	conv, ok := c.conversations.ForSession(sessionID)
	if !ok {
		c.sendError(sessionID, "not_in_chat", "no active conversation")
		return
	}

	reporter := conv.ProfileOf(sessionID).ID
	reported := conv.ProfileOf(conv.Partner(sessionID)).ID

	if !c.allow(reporter, ratelimit.RuleReport, sessionID) {
		return
	}

	var snapshot []report.MessageEntry
	for _, msg := range c.conversations.Recent(conv.ID) {
		snapshot = append(snapshot, report.MessageEntry{From: msg.From, Text: msg.Text, Ts: msg.Ts})
	}

	if c.reports != nil {
		r := &report.Report{
			ReporterUserID: reporter,
			ReportedUserID: reported,
			ConversationID: conv.ID,
			Reason:         m.Reason,
			Messages:       snapshot,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.reports.Create(ctx, r); err != nil {
				log.Printf("[relay] persist report against %s: %v", reported, err)
			}
		}()
	}

	if c.bans != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		banned, duration, err := c.bans.ReportAndCheck(ctx, reported)
		cancel()
		if err != nil {
			log.Printf("[relay] report escalation for %s: %v", reported, err)
		} else if banned {
			log.Printf("[relay] auto-ban user=%s duration=%s", reported, duration)
		}
	}

	metrics.ReportsTotal.Inc()
	c.send(sessionID, protocol.TypeReportSubmitted, protocol.ReportSubmittedMsg{})
}

// allow runs a rate limit check when a limiter is attached; without one it
// always allows. On a limit hit the session is told how long to back off.
func (c *Coordinator) allow(identifier string, rule ratelimit.Rule, sessionID string) bool {
	if c.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	allowed, _ := c.limiter.Allow(ctx, identifier, rule)
	cancel()
	if !allowed {
		c.send(sessionID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(rule.Window.Seconds()),
		})
	}
	return allowed
}
