// Package metrics provides Prometheus instrumentation for the matchmaking
// and chat core. It exposes gauges for connection, queue, and conversation
// counts, counters for message and match throughput, and histograms for
// queue wait times.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anichat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of distinct users with at least one session.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anichat_online_users",
		Help: "Current number of distinct online users",
	})

	// MessagesTotal counts relayed chat messages, labeled by outcome:
	// "relayed", "spoiler", "rejected", or "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anichat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// MatchesTotal counts matches made, labeled by type:
	// "interest_based" or "random".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anichat_matches_total",
		Help: "Total number of matches made",
	}, []string{"match_type"})

	// MatchWaitSeconds records how long users waited in the queue before
	// being paired.
	MatchWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "anichat_match_wait_seconds",
		Help:    "Time from entering the queue to being paired",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 60, 120},
	})

	// ActiveConversations tracks the current number of active conversations.
	ActiveConversations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anichat_active_conversations",
		Help: "Current number of active conversations",
	})

	// MatchQueueSize tracks the current number of sessions in the matching queue.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anichat_match_queue_size",
		Help: "Current number of sessions in the matching queue",
	})

	// ReportsTotal counts abuse reports submitted.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anichat_reports_total",
		Help: "Total number of abuse reports submitted",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		MatchesTotal,
		MatchWaitSeconds,
		ActiveConversations,
		MatchQueueSize,
		ReportsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
