package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/anichat/server/internal/ban"
	"github.com/anichat/server/internal/conversation"
	"github.com/anichat/server/internal/matching"
	"github.com/anichat/server/internal/messaging"
	"github.com/anichat/server/internal/metrics"
	"github.com/anichat/server/internal/notify"
	"github.com/anichat/server/internal/presence"
	"github.com/anichat/server/internal/ratelimit"
	"github.com/anichat/server/internal/registry"
	"github.com/anichat/server/internal/relay"
	"github.com/anichat/server/internal/report"
	"github.com/anichat/server/internal/stats"
	"github.com/anichat/server/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	relayConfig := relay.DefaultConfig()
	if v := os.Getenv("SEARCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			relayConfig.SearchTimeout = d
		}
	}

	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}

	// --- Redis (rate limits, match quota, bans) ---
	// Redis is optional: without it those features degrade to no-ops.
	var rdb *redis.Client
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis unavailable at %s: %v (rate limiting, quotas, and bans disabled)", redisAddr, err)
		client.Close()
	} else {
		rdb = client
	}
	cancel()

	// --- NATS (cross-instance notification and presence fan-out) ---
	// Optional: without it the server runs single-instance.
	var natsClient *messaging.NATSClient
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = natsURL
		var err error
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	// --- Postgres (abuse reports) ---
	// Optional: without it report_partner only feeds the in-memory counters.
	var reportStore *report.Store
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		if err := report.Migrate(db); err != nil {
			log.Fatalf("failed to migrate report schema: %v", err)
		}
		reportStore = report.NewStore(db)
	}

	log.Printf("anichat realtime server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  metrics_addr:    %s", metricsAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  search_timeout:  %s", relayConfig.SearchTimeout)
	log.Printf("  redis:           %v", rdb != nil)
	log.Printf("  nats:            %v", natsClient != nil)
	log.Printf("  postgres:        %v", reportStore != nil)

	reg := registry.New()
	pres := presence.NewTracker()
	queue := matching.NewQueue()
	convs := conversation.NewManager()

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(config, dispatcher.Dispatch)

	hub, err := notify.NewHub(reg, server, natsClient)
	if err != nil {
		log.Fatalf("failed to create notify hub: %v", err)
	}

	coord := relay.New(relayConfig, reg, pres, queue, convs, hub, server)
	if rdb != nil {
		limiter := ratelimit.NewLimiter(rdb)
		coord.WithLimiter(limiter).
			WithQuota(ratelimit.NewMatchQuota(rdb, 0)).
			WithBans(ban.NewStore(rdb))
		server.SetAllowConnect(func(remoteAddr string) bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			allowed, _ := limiter.Allow(ctx, remoteAddr, ratelimit.RuleConnect)
			return allowed
		})
	}
	if reportStore != nil {
		coord.WithReports(reportStore)
	}
	coord.Register(dispatcher)

	server.SetOnConnect(coord.OnConnect)
	server.SetOnDisconnect(coord.OnDisconnect)

	ctx, stop := context.WithCancel(context.Background())
	go coord.Run(ctx)
	go stats.NewBroadcaster(reg, queue, server, 0).Run(ctx)

	// Prometheus metrics on a separate listener.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		stop()
		if natsClient != nil {
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if rdb != nil {
			rdb.Close()
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
