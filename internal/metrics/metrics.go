package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the feed sync engine.
type Metrics struct {
	TicksApplied  prometheus.Counter
	FramesSent    *prometheus.CounterVec // labels: type=subscribe|unsubscribe
	FeedReconnect prometheus.Counter

	LoadsTotal  *prometheus.CounterVec // labels: status=ok|error
	DroppedRows prometheus.Counter

	ActiveSessions    prometheus.Gauge
	WireSubscriptions prometheus.Gauge
	GatewayClients    prometheus.Gauge

	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBuffered     prometheus.Counter

	InstrumentRows prometheus.Gauge

	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_ticks_applied_total",
			Help: "Ticks merged into an active session",
		}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_control_frames_total",
			Help: "Control frames written upstream (by type)",
		}, []string{"type"}),
		FeedReconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_feed_reconnects_total",
			Help: "Upstream feed reconnection attempts",
		}),

		LoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_history_loads_total",
			Help: "History snapshot loads (by status)",
		}, []string{"status"}),
		DroppedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_history_dropped_rows_total",
			Help: "Malformed candle rows skipped during snapshot parsing",
		}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_active_sessions",
			Help: "Loaded, unclosed symbol sessions",
		}),
		WireSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_wire_subscriptions",
			Help: "Distinct keys currently subscribed on the upstream feed",
		}),
		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_gateway_clients",
			Help: "Connected websocket chart clients",
		}),

		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_redis_breaker_state",
			Help: "Redis publish breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_redis_buffered_total",
			Help: "Updates buffered locally while the Redis breaker was open",
		}),

		InstrumentRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_instrument_rows",
			Help: "Rows in the instrument lookup table after the last refresh",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	prometheus.MustRegister(
		m.TicksApplied,
		m.FramesSent,
		m.FeedReconnect,
		m.LoadsTotal,
		m.DroppedRows,
		m.ActiveSessions,
		m.WireSubscriptions,
		m.GatewayClients,
		m.RedisBreakerState,
		m.RedisBuffered,
		m.InstrumentRows,
		m.MarketState,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb and sqlDB may
// be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
