package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"cryptoscreener/config"
	"cryptoscreener/internal/api"
	"cryptoscreener/internal/backfill"
	"cryptoscreener/internal/change"
	"cryptoscreener/internal/logger"
	"cryptoscreener/internal/metrics"
	"cryptoscreener/internal/model"
	"cryptoscreener/internal/poller"
	"cryptoscreener/internal/signal"
	redisstore "cryptoscreener/internal/store/redis"
	sqlitestore "cryptoscreener/internal/store/sqlite"
	"cryptoscreener/internal/stream"
	"cryptoscreener/internal/tracker"
	"cryptoscreener/pkg/mexc"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("screener", slog.LevelInfo)
	log.Println("[screener] starting...")

	// ---- Load config from env ----
	cfg := config.Load()

	timeframes := parseTimeframes(cfg)
	symbols := cfg.ParseSymbols()
	log.Printf("[screener] tracking %d symbols across timeframes %v", len(symbols), timeframes)

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Core engine ----
	tr := tracker.New(tracker.Config{
		Timeframes:      timeframes,
		CandleCapacity:  cfg.CandleCapacity,
		SnapshotHorizon: cfg.SnapshotHorizon,
	})
	calc := change.New(tr, timeframes)

	sigTF, err := model.ParseTimeframe(cfg.SignalTimeframe)
	if err != nil {
		log.Fatalf("[screener] invalid SIGNAL_TIMEFRAME: %v", err)
	}
	detector := signal.New(tr, signal.Config{
		Timeframe:   sigTF,
		CandleCount: cfg.SignalCandleCount,
		Threshold:   cfg.SignalThreshold,
	})

	// ---- Exchange client ----
	client := mexc.New(mexc.Config{
		BaseURL: cfg.MEXCBaseURL,
		Timeout: cfg.RequestTimeout,
	})

	// ---- Backfill service ----
	bf := backfill.New(client, tr, backfill.Config{
		Timeframes:  timeframes,
		CandleLimit: cfg.BackfillLimit,
	})
	bf.SetUnsupportedCheck(func(err error) bool {
		return errors.Is(err, mexc.ErrUnsupportedTimeframe)
	})
	bf.OnRunStarted = func(int) { prom.BackfillRuns.Inc() }
	bf.OnSymbolFailed = func(string, error) { prom.BackfillSymbolsFailed.Inc() }
	bf.OnSymbolDone = func(_ string, merged int) { prom.BackfillCandlesMerged.Add(float64(merged)) }
	bf.OnKlinesFetched = func(elapsed time.Duration) { prom.KlinesDur.Observe(elapsed.Seconds()) }

	// ---- Optional sinks: SQLite archive + Redis publisher ----
	var archive *sqlitestore.Archive
	if cfg.SQLitePath != "" {
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		archive, err = sqlitestore.New(sqlitestore.ArchiveConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Fatalf("[screener] sqlite init failed: %v", err)
		}
		defer archive.Close()
		archive.OnCommit = func(rows int, elapsed time.Duration) {
			prom.SQLiteCommitDur.Observe(elapsed.Seconds())
		}
		log.Println("[screener] sqlite archive ready")
	}

	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[screener] WARNING: redis init failed: %v (continuing without redis)", err)
			publisher = nil
		} else {
			publisher.OnWrite = func(elapsed time.Duration) {
				prom.RedisWriteDur.Observe(elapsed.Seconds())
			}
			log.Println("[screener] redis publisher ready")
		}
	}

	// ---- Periodic liveness checks ----
	if publisher != nil || archive != nil {
		var rdb *goredis.Client
		if publisher != nil {
			rdb = publisher.Client()
		}
		var db *sql.DB
		if archive != nil {
			db = archive.DB()
		}
		health.StartLivenessChecker(ctx, rdb, db, 10*time.Second)
	}

	// ---- Stream hub ----
	hub := stream.NewHub()
	hub.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }
	hub.OnDrop = func() { prom.WSDropsTotal.Inc() }

	// ---- Fan-out of closed candles and signals (off hot path) ----
	candleCh := make(chan model.Candle, 5000)
	signalCh := make(chan model.Signal, 500)

	tr.OnCandleClose = func(c model.Candle) {
		prom.CandlesClosedTotal.WithLabelValues(string(c.Timeframe)).Inc()
		select {
		case candleCh <- c:
		default:
			log.Printf("[screener] candle fan-out full, dropping %s", c.Key())
		}
	}
	tr.OnDroppedSnapshot = func(_ string, tf model.Timeframe) {
		prom.StaleSnapshots.WithLabelValues(string(tf)).Inc()
	}
	detector.OnSignal = func(s model.Signal) {
		prom.SignalsTotal.WithLabelValues(s.Direction).Inc()
		slog.Info("signal fired",
			slog.String("symbol", s.Symbol),
			slog.String("direction", s.Direction),
			slog.Float64("ratio", s.Ratio))
		select {
		case signalCh <- s:
		default:
		}
	}

	go fanOut(ctx, candleCh, signalCh, hub, publisher, archive)

	// ---- Poller (ingestion cadence) ----
	pl := poller.New(client, tr, poller.Config{
		Interval:       cfg.PollInterval,
		RequestTimeout: cfg.RequestTimeout,
		Symbols:        symbols,
	})
	pollFails := 0 // consecutive failures, touched only from the poll loop
	pl.OnTickDone = func(ingested int, elapsed time.Duration) {
		pollFails = 0
		prom.PollsTotal.Inc()
		prom.PollDur.Observe(elapsed.Seconds())
		prom.SnapshotsTotal.Add(float64(ingested))
		tracked := tr.SymbolCount()
		prom.TrackedSymbols.Set(float64(tracked))
		health.SetTrackedSymbols(tracked)
		health.SetLastPollTime(time.Now())
	}
	pl.OnTickError = func(error) {
		pollFails++
		prom.PollsTotal.Inc()
		prom.PollFailures.Inc()
		if pollFails >= 3 {
			health.SetPollerOK(false)
		}
	}
	pl.AfterTick = func(now time.Time) {
		detector.EvaluateAll(now)
		health.SetBackfillState(string(bf.Status().State))
	}
	go pl.Run(ctx)

	// ---- Idle symbol janitor ----
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := tr.PurgeIdle(time.Now().UTC().Add(-cfg.IdleHorizon))
				if removed > 0 {
					prom.IdleSymbolsPurged.Add(float64(removed))
					log.Printf("[screener] purged %d idle symbols", removed)
				}
			}
		}
	}()

	// ---- API server ----
	apiSrv := api.New(ctx, cfg.APIAddr, tr, calc, detector, bf, hub, symbols)
	apiSrv.Start()

	log.Printf("[screener] pipeline ready: poll every %v, api on %s, metrics on %s",
		cfg.PollInterval, cfg.APIAddr, cfg.MetricsAddr)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[screener] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	if publisher != nil {
		publisher.Close()
	}

	log.Println("[screener] shutdown complete.")
}

// fanOut forwards closed candles and signals to every enabled sink.
func fanOut(ctx context.Context, candleCh <-chan model.Candle, signalCh <-chan model.Signal,
	hub *stream.Hub, publisher *redisstore.Publisher, archive *sqlitestore.Archive) {

	var redisCandleCh, sqliteCandleCh chan model.Candle
	var redisSignalCh chan model.Signal
	if publisher != nil {
		redisCandleCh = make(chan model.Candle, 5000)
		redisSignalCh = make(chan model.Signal, 500)
		go publisher.RunCandles(ctx, redisCandleCh)
		go publisher.RunSignals(ctx, redisSignalCh)
	}
	if archive != nil {
		sqliteCandleCh = make(chan model.Candle, 5000)
		go archive.Run(ctx, sqliteCandleCh)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			hub.BroadcastCandle(c)
			if redisCandleCh != nil {
				select {
				case redisCandleCh <- c:
				default:
				}
			}
			if sqliteCandleCh != nil {
				select {
				case sqliteCandleCh <- c:
				default:
				}
			}
		case s, ok := <-signalCh:
			if !ok {
				return
			}
			hub.BroadcastSignal(s)
			if redisSignalCh != nil {
				select {
				case redisSignalCh <- s:
				default:
				}
			}
			if archive != nil {
				if err := archive.SaveSignal(s); err != nil {
					log.Printf("[screener] signal archive error: %v", err)
				}
			}
		}
	}
}

// parseTimeframes validates the configured timeframe list, falling back to
// the full supported set when nothing valid remains.
func parseTimeframes(cfg *config.Config) []model.Timeframe {
	var tfs []model.Timeframe
	for _, s := range cfg.ParseTimeframes() {
		tf, err := model.ParseTimeframe(s)
		if err != nil {
			log.Printf("[screener] skipping invalid timeframe %q", s)
			continue
		}
		tfs = append(tfs, tf)
	}
	if len(tfs) == 0 {
		tfs = model.Timeframes()
	}
	return tfs
}
