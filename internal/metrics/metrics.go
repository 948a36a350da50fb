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

// Metrics holds all Prometheus metrics for the screener.
type Metrics struct {
	// Polling
	PollsTotal        prometheus.Counter
	PollFailures      prometheus.Counter
	PollDur           prometheus.Histogram
	SnapshotsTotal    prometheus.Counter
	StaleSnapshots    *prometheus.CounterVec // labels: tf
	TrackedSymbols    prometheus.Gauge
	IdleSymbolsPurged prometheus.Counter

	// Aggregation
	CandlesClosedTotal *prometheus.CounterVec // labels: tf

	// Backfill
	BackfillRuns          prometheus.Counter
	BackfillSymbolsFailed prometheus.Counter
	BackfillCandlesMerged prometheus.Counter
	KlinesDur             prometheus.Histogram

	// Signals
	SignalsTotal *prometheus.CounterVec // labels: direction

	// Fan-out
	WSClients       prometheus.Gauge
	WSDropsTotal    prometheus.Counter
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_polls_total",
			Help: "Total batch ticker polls attempted",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_poll_failures_total",
			Help: "Polls dropped whole due to exchange errors or timeouts",
		}),
		PollDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_poll_duration_seconds",
			Help:    "Batch ticker poll latency",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_snapshots_total",
			Help: "Price snapshots ingested into the tracker",
		}),
		StaleSnapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_stale_snapshots_total",
			Help: "Snapshots dropped for belonging to an already-closed bucket",
		}, []string{"tf"}),
		TrackedSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_tracked_symbols",
			Help: "Symbols currently held in memory",
		}),
		IdleSymbolsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_idle_symbols_purged_total",
			Help: "Symbols evicted by the idle janitor",
		}),

		CandlesClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_candles_closed_total",
			Help: "Candles sealed per timeframe",
		}, []string{"tf"}),

		BackfillRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_backfill_runs_total",
			Help: "Backfill runs started",
		}),
		BackfillSymbolsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_backfill_symbols_failed_total",
			Help: "Symbols skipped during backfill due to fetch failures",
		}),
		BackfillCandlesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_backfill_candles_merged_total",
			Help: "Historical candles merged into live series",
		}),
		KlinesDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_klines_duration_seconds",
			Help:    "Historical klines fetch latency",
			Buckets: prometheus.DefBuckets,
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_signals_total",
			Help: "Trend-acceleration signals fired per direction",
		}, []string{"direction"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_ws_clients",
			Help: "Connected WebSocket stream clients",
		}),
		WSDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_ws_drops_total",
			Help: "Stream messages dropped on slow clients",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_redis_write_duration_seconds",
			Help:    "Redis publish pipeline latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_sqlite_commit_duration_seconds",
			Help:    "SQLite archive batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.PollsTotal,
		m.PollFailures,
		m.PollDur,
		m.SnapshotsTotal,
		m.StaleSnapshots,
		m.TrackedSymbols,
		m.IdleSymbolsPurged,
		m.CandlesClosedTotal,
		m.BackfillRuns,
		m.BackfillSymbolsFailed,
		m.BackfillCandlesMerged,
		m.KlinesDur,
		m.SignalsTotal,
		m.WSClients,
		m.WSDropsTotal,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LastPollTime   time.Time `json:"last_poll_time"`
	PollerOK       bool      `json:"poller_ok"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	BackfillState  string    `json:"backfill_state"`
	TrackedSymbols int       `json:"tracked_symbols"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// optional sinks: health does not degrade when they are disabled
	redisEnabled  bool
	sqliteEnabled bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLastPollTime(t time.Time) {
	h.mu.Lock()
	h.LastPollTime = t
	h.PollerOK = true
	h.mu.Unlock()
}

func (h *HealthStatus) SetPollerOK(v bool) {
	h.mu.Lock()
	h.PollerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBackfillState(s string) {
	h.mu.Lock()
	h.BackfillState = s
	h.mu.Unlock()
}

func (h *HealthStatus) SetTrackedSymbols(n int) {
	h.mu.Lock()
	h.TrackedSymbols = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redisEnabled = true
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
	h.sqliteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb and sqlDB may
// be nil when the corresponding sink is disabled.
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

	if !h.PollerOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	} else if (h.redisEnabled && !h.RedisConnected) || (h.sqliteEnabled && !h.SQLiteOK) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	pollAge := ""
	if !h.LastPollTime.IsZero() {
		pollAge = time.Since(h.LastPollTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		PollerOK        bool    `json:"poller_ok"`
		LastPollTime    string  `json:"last_poll_time"`
		PollAge         string  `json:"poll_age"`
		TrackedSymbols  int     `json:"tracked_symbols"`
		BackfillState   string  `json:"backfill_state"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		PollerOK:        h.PollerOK,
		LastPollTime:    h.LastPollTime.Format(time.RFC3339),
		PollAge:         pollAge,
		TrackedSymbols:  h.TrackedSymbols,
		BackfillState:   h.BackfillState,
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
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
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
