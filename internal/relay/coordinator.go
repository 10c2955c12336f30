// Package relay coordinates the realtime chat core: it owns the event
// handlers behind the WebSocket dispatcher and ties together the session
// registry, presence tracker, matching queue, conversation manager, and
// notification hub. All client-visible semantics (pairing, skipping,
// message relay, presence fan-out) live here.
package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/anichat/server/internal/ban"
	"github.com/anichat/server/internal/conversation"
	"github.com/anichat/server/internal/matching"
	"github.com/anichat/server/internal/metrics"
	"github.com/anichat/server/internal/notify"
	"github.com/anichat/server/internal/presence"
	"github.com/anichat/server/internal/protocol"
	"github.com/anichat/server/internal/ratelimit"
	"github.com/anichat/server/internal/registry"
	"github.com/anichat/server/internal/report"
)

// Sender delivers wire bytes to one local session. The WebSocket server
// implements it; tests substitute a recorder.
type Sender interface {
	Send(sessionID string, data []byte) error
}

// Config holds relay tuning parameters.
type Config struct {
	SearchTimeout   time.Duration // informational search_timeout after this long in queue
	PairInterval    time.Duration // how often the background pairing pass runs
	TimeoutInterval time.Duration // how often queue entries are checked for timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SearchTimeout:   30 * time.Second,
		PairInterval:    time.Second,
		TimeoutInterval: 5 * time.Second,
	}
}

// Coordinator routes client events through the matchmaking and chat state.
// The optional stores (limiter, quota, bans, reports) may be nil; each
// feature degrades to a no-op when its store is absent.
type Coordinator struct {
	config        Config
	registry      *registry.Registry
	presence      *presence.Tracker
	queue         *matching.Queue
	conversations *conversation.Manager
	hub           *notify.Hub
	sender        Sender

	limiter *ratelimit.Limiter
	quota   *ratelimit.MatchQuota
	bans    *ban.Store
	reports *report.Store

	mu          sync.Mutex
	lastFilters map[string]matching.Filter // session ID -> filter used on last join
}

// New creates a Coordinator. The registry, presence tracker, queue,
// conversation manager, hub, and sender are required.
func New(config Config, reg *registry.Registry, pres *presence.Tracker, q *matching.Queue,
	convs *conversation.Manager, hub *notify.Hub, sender Sender) *Coordinator {
	return &Coordinator{
		config:        config,
		registry:      reg,
		presence:      pres,
		queue:         q,
		conversations: convs,
		hub:           hub,
		sender:        sender,
		lastFilters:   make(map[string]matching.Filter),
	}
}

// WithLimiter attaches the Redis rate limiter.
func (c *Coordinator) WithLimiter(l *ratelimit.Limiter) *Coordinator {
	c.limiter = l
	return c
}

// WithQuota attaches the daily match quota tracker.
func (c *Coordinator) WithQuota(q *ratelimit.MatchQuota) *Coordinator {
	c.quota = q
	return c
}

// WithBans attaches the ban store.
func (c *Coordinator) WithBans(b *ban.Store) *Coordinator {
	c.bans = b
	return c
}

// WithReports attaches the abuse report store.
func (c *Coordinator) WithReports(r *report.Store) *Coordinator {
	c.reports = r
	return c
}

// OnConnect registers a freshly upgraded connection.
func (c *Coordinator) OnConnect(sessionID string) {
	c.registry.Create(sessionID)
	metrics.ConnectionsTotal.Inc()
}

// OnDisconnect tears down all state for a dropped connection: the partner is
// told, queue entries are purged, and the user's presence refcount drops.
// Ordering matters: the registry entry is removed FIRST, so a pairing pass
// that popped this session but has not yet created the conversation will see
// the session gone when it re-checks after Create. The partner notification
// does not need the registry; it resolves through the conversation itself.
func (c *Coordinator) OnDisconnect(sessionID string) {
	sess, removed := c.registry.Remove(sessionID)

	if conv, ok := c.conversations.EndForSession(sessionID); ok {
		partner := conv.Partner(sessionID)
		c.send(partner, protocol.TypePartnerDisconnected, protocol.PartnerDisconnectedMsg{})
		c.send(partner, protocol.TypeChatEnded, protocol.ChatEndedMsg{})
		c.registry.SetState(partner, registry.StateIdle)
		metrics.ActiveConversations.Set(float64(c.conversations.Active()))
	}

	c.queue.Cancel(sessionID)

	c.mu.Lock()
	delete(c.lastFilters, sessionID)
	c.mu.Unlock()

	if removed && sess.UserID != "" {
		if c.presence.MarkOffline(sess.UserID) {
			c.hub.AnnouncePresence("offline", sess.UserID)
		}
	}
	metrics.ConnectionsTotal.Dec()
	metrics.OnlineUsers.Set(float64(c.presence.Count()))
	metrics.MatchQueueSize.Set(float64(c.queue.Len()))
}

// Run drives the background pairing and search-timeout passes until ctx is
// cancelled. Call it in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	pair := time.NewTicker(c.config.PairInterval)
	timeout := time.NewTicker(c.config.TimeoutInterval)
	defer pair.Stop()
	defer timeout.Stop()

	log.Printf("[relay] coordinator started (search_timeout=%s)", c.config.SearchTimeout)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[relay] coordinator stopped")
			return
		case <-pair.C:
			c.PairPass()
		case <-timeout.C:
			c.TimeoutPass()
		}
	}
}

// PairPass drains the queue of all currently compatible pairs. Join events
// already attempt an immediate pairing; this pass catches pairs that became
// possible later (e.g. a queued entry whose candidate was still paired).
func (c *Coordinator) PairPass() {
	for {
		p := c.queue.PopNextPair()
		if p == nil {
			return
		}
		c.startConversation(p)
	}
}

// TimeoutPass sends search_timeout to entries that have waited past the
// configured timeout. Each entry is told once and stays in the queue.
func (c *Coordinator) TimeoutPass() {
	for _, sid := range c.queue.TimedOut(c.config.SearchTimeout) {
		c.send(sid, protocol.TypeSearchTimeout, protocol.SearchTimeoutMsg{})
	}
}

// startConversation turns a popped pair into an active conversation and
// notifies both sides. Both entries left the queue atomically with the pop,
// so a Create failure means a racing path already paired one of them; the
// loser sides are put back in the queue.
func (c *Coordinator) startConversation(p *matching.Pair) {
	score := p.Score
	universe := matching.SharedUniverse(p.A.Profile, p.B.Profile, score)

	conv, err := c.conversations.Create(p.A, p.B, score, universe)
	if err != nil {
		log.Printf("[relay] pair %s/%s not started: %v", p.A.SessionID, p.B.SessionID, err)
		for _, e := range []matching.Entry{p.A, p.B} {
			if _, busy := c.conversations.ForSession(e.SessionID); !busy {
				c.queue.Restore(e)
			}
		}
		return
	}

	// A side may have disconnected between the pop and the Create. Its
	// OnDisconnect has already removed it from the registry, and either found
	// no conversation to end (it ran before Create) or tore this one down.
	// Re-checking here closes the first window: undo the pairing and put the
	// survivor back in the queue with its original seniority.
	_, aAlive := c.registry.Get(p.A.SessionID)
	_, bAlive := c.registry.Get(p.B.SessionID)
	if !aAlive || !bAlive {
		c.conversations.End(conv.ID)
		log.Printf("[relay] pair %s/%s abandoned, side disconnected during setup",
			p.A.SessionID, p.B.SessionID)
		if aAlive {
			c.queue.Restore(p.A)
		}
		if bAlive {
			c.queue.Restore(p.B)
		}
		metrics.MatchQueueSize.Set(float64(c.queue.Len()))
		return
	}

	c.registry.SetState(p.A.SessionID, registry.StatePaired)
	c.registry.SetState(p.B.SessionID, registry.StatePaired)

	if c.quota != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		c.quota.RecordMatch(ctx, p.A.Profile.ID)
		c.quota.RecordMatch(ctx, p.B.Profile.ID)
		cancel()
	}

	now := time.Now()
	metrics.MatchesTotal.WithLabelValues(universe.MatchType).Inc()
	metrics.MatchWaitSeconds.Observe(now.Sub(p.A.EnqueuedAt).Seconds())
	metrics.MatchWaitSeconds.Observe(now.Sub(p.B.EnqueuedAt).Seconds())
	metrics.ActiveConversations.Set(float64(c.conversations.Active()))
	metrics.MatchQueueSize.Set(float64(c.queue.Len()))

	c.send(p.A.SessionID, protocol.TypeMatchFound, protocol.MatchFoundMsg{
		Partner:        p.B.Profile,
		Compatibility:  score,
		SharedUniverse: universe,
	})
	c.send(p.B.SessionID, protocol.TypeMatchFound, protocol.MatchFoundMsg{
		Partner:        p.A.Profile,
		Compatibility:  score,
		SharedUniverse: universe,
	})

	log.Printf("[relay] match conv=%s sessions=%s/%s score=%d type=%s",
		conv.ID, p.A.SessionID, p.B.SessionID, score, universe.MatchType)
}

// send marshals and delivers a server message to one session. Failures are
// logged, not propagated; a dead connection is cleaned up by its own
// disconnect path.
func (c *Coordinator) send(sessionID, msgType string, payload interface{}) {
	if sessionID == "" {
		return
	}
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[relay] encode %s for %s: %v", msgType, sessionID, err)
		return
	}
	if err := c.sender.Send(sessionID, data); err != nil {
		log.Printf("[relay] send %s to %s: %v", msgType, sessionID, err)
	}
}

// sendError sends a structured error event to the offending session only.
func (c *Coordinator) sendError(sessionID, code, message string) {
	c.send(sessionID, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}
