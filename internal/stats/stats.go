// Package stats periodically pushes matching queue statistics to every
// session currently searching for a partner. Idle and paired sessions never
// receive the broadcast.
package stats

import (
	"context"
	"log"
	"time"

	"github.com/anichat/server/internal/matching"
	"github.com/anichat/server/internal/protocol"
	"github.com/anichat/server/internal/registry"
)

// DefaultInterval is how often stats are pushed to searching sessions.
const DefaultInterval = 5 * time.Second

// Sender delivers wire bytes to one local session.
type Sender interface {
	Send(sessionID string, data []byte) error
}

// Broadcaster snapshots queue statistics and pushes them to queued sessions.
type Broadcaster struct {
	registry *registry.Registry
	queue    *matching.Queue
	sender   Sender
	interval time.Duration
}

// NewBroadcaster creates a Broadcaster. interval <= 0 selects DefaultInterval.
func NewBroadcaster(reg *registry.Registry, q *matching.Queue, sender Sender, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{registry: reg, queue: q, sender: sender, interval: interval}
}

// Run broadcasts on a ticker until ctx is cancelled. Call it in its own
// goroutine.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	log.Printf("[stats] broadcaster started, interval %s", b.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[stats] broadcaster stopped")
			return
		case <-ticker.C:
			b.BroadcastOnce()
		}
	}
}

// BroadcastOnce pushes one stats snapshot to every queued session. It is a
// no-op when the queue is empty.
func (b *Broadcaster) BroadcastOnce() {
	sessionIDs := b.queue.SessionIDs()
	if len(sessionIDs) == 0 {
		return
	}

	snap := b.Snapshot()
	data, err := protocol.NewServerMessage(protocol.TypeMatchingStats, snap)
	if err != nil {
		log.Printf("[stats] encode: %v", err)
		return
	}

	for _, sid := range sessionIDs {
		if err := b.sender.Send(sid, data); err != nil {
			log.Printf("[stats] send to session %s: %v", sid, err)
		}
	}
}

// Snapshot computes the current statistics payload.
func (b *Broadcaster) Snapshot() protocol.MatchingStatsMsg {
	return protocol.MatchingStatsMsg{
		TotalUsers:     b.registry.Count(),
		ActiveMatchers: b.queue.Len(),
		AvgWaitTime:    int(b.queue.AverageWait().Round(time.Second).Seconds()),
	}
}
