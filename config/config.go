package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Exchange
	MEXCBaseURL    string
	PollInterval   time.Duration
	RequestTimeout time.Duration

	// Tracked symbols (comma-separated, e.g. "BTCUSDT,ETHUSDT")
	Symbols string

	// Aggregation
	Timeframes      string // comma-separated, e.g. "15s,1m,5m,1h"
	CandleCapacity  int
	SnapshotHorizon time.Duration
	IdleHorizon     time.Duration // symbols silent this long get purged

	// Signal detection
	SignalTimeframe   string
	SignalCandleCount int
	SignalThreshold   float64

	// Backfill
	BackfillLimit int // candles per (symbol, timeframe)

	// Servers
	APIAddr     string
	MetricsAddr string

	// Optional sinks (empty addr / path disables)
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		MEXCBaseURL:    getEnv("MEXC_BASE_URL", "https://api.mexc.com"),
		PollInterval:   getDuration("POLL_INTERVAL", 2*time.Second),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 0), // 0 = derived from interval

		Symbols: getEnv("SYMBOLS", defaultSymbols),

		Timeframes:      getEnv("TIMEFRAMES", "15s,30s,1m,5m,15m,1h,4h,1d"),
		CandleCapacity:  getInt("CANDLE_CAPACITY", 500),
		SnapshotHorizon: getDuration("SNAPSHOT_HORIZON", 60*time.Second),
		IdleHorizon:     getDuration("IDLE_HORIZON", time.Hour),

		SignalTimeframe:   getEnv("SIGNAL_TIMEFRAME", "1m"),
		SignalCandleCount: getInt("SIGNAL_CANDLE_COUNT", 3),
		SignalThreshold:   getFloat("SIGNAL_THRESHOLD", 3.0),

		BackfillLimit: getInt("BACKFILL_LIMIT", 500),

		APIAddr:     getEnv("API_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", ""),
	}
}

// defaultSymbols is a liquid USDT watchlist used when SYMBOLS is unset.
const defaultSymbols = "BTCUSDT,ETHUSDT,SOLUSDT,BNBUSDT,XRPUSDT,ADAUSDT,DOGEUSDT,AVAXUSDT,DOTUSDT,LINKUSDT"

// ParseSymbols splits the Symbols list, dropping empties. An empty result
// means the poller tracks everything the exchange returns.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	syms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		syms = append(syms, p)
	}
	return syms
}

// ParseTimeframes splits the Timeframes list, skipping invalid entries.
// Validation of each name happens at the model layer.
func (c *Config) ParseTimeframes() []string {
	parts := strings.Split(c.Timeframes, ",")
	tfs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tfs = append(tfs, p)
	}
	return tfs
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
