// Package signal detects same-direction price acceleration: the latest
// closed candle moving several times further than the trailing average
// move. Opposite-direction spikes are plain volatility and never fire.
package signal

import (
	"math"
	"sync"
	"time"

	"cryptoscreener/internal/model"
	"cryptoscreener/internal/tracker"
)

const (
	defaultCandleCount = 3
	defaultThreshold   = 3.0
	defaultEpsilon     = 1e-9
	defaultLogCap      = 50
)

// Config tunes detection.
type Config struct {
	Timeframe   model.Timeframe // candle series evaluated, default 1m
	CandleCount int             // trailing deltas averaged, >= 2
	Threshold   float64         // |lastDelta| / |avgDelta| trigger ratio, > 0
	Epsilon     float64         // near-zero guard for both deltas
	LogCap      int             // retained signals, newest first
}

// Detector evaluates symbols after each ingest cycle and keeps a bounded
// newest-first log of fired signals.
type Detector struct {
	cfg     Config
	tracker *tracker.Tracker

	mu     sync.Mutex
	nextID int64
	log    []model.Signal // newest first, len <= cfg.LogCap
	// last evaluated candle per symbol, so one closed candle fires at most once
	lastEval map[string]time.Time

	// Optional hook, called outside the lock after a signal is appended.
	OnSignal func(model.Signal)
}

// New creates a Detector reading from tr. Zero config fields get defaults.
func New(tr *tracker.Tracker, cfg Config) *Detector {
	if cfg.Timeframe == "" {
		cfg.Timeframe = model.TF1m
	}
	if cfg.CandleCount < 2 {
		cfg.CandleCount = defaultCandleCount
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = defaultEpsilon
	}
	if cfg.LogCap <= 0 {
		cfg.LogCap = defaultLogCap
	}
	return &Detector{
		cfg:      cfg,
		tracker:  tr,
		lastEval: make(map[string]time.Time),
	}
}

// Evaluate inspects the symbol's closed candles and appends a signal when
// the latest delta accelerates the trailing trend past the threshold.
// Pure with respect to candle history; the log append is the only
// externally visible effect. Returns the signal when one fired.
func (d *Detector) Evaluate(symbol string, now time.Time) (model.Signal, bool) {
	candles := d.tracker.ClosedCandles(symbol, d.cfg.Timeframe)
	// lastDelta pair plus cfg.CandleCount trailing pairs
	if len(candles) < d.cfg.CandleCount+2 {
		return model.Signal{}, false
	}

	newest := candles[len(candles)-1]

	d.mu.Lock()
	if prev, ok := d.lastEval[symbol]; ok && !newest.OpenTime.After(prev) {
		d.mu.Unlock()
		return model.Signal{}, false
	}
	d.lastEval[symbol] = newest.OpenTime
	d.mu.Unlock()

	lastDelta := newest.Close - candles[len(candles)-2].Close

	sum := 0.0
	for i := 0; i < d.cfg.CandleCount; i++ {
		hi := len(candles) - 2 - i
		sum += candles[hi].Close - candles[hi-1].Close
	}
	avgDelta := sum / float64(d.cfg.CandleCount)

	if math.Abs(lastDelta) <= d.cfg.Epsilon || math.Abs(avgDelta) <= d.cfg.Epsilon {
		return model.Signal{}, false
	}
	// same-direction acceleration only
	if (lastDelta > 0) != (avgDelta > 0) {
		return model.Signal{}, false
	}
	ratio := math.Abs(lastDelta) / math.Abs(avgDelta)
	if ratio < d.cfg.Threshold {
		return model.Signal{}, false
	}

	direction := model.DirectionUp
	if lastDelta < 0 {
		direction = model.DirectionDown
	}

	d.mu.Lock()
	d.nextID++
	sig := model.Signal{
		ID:        d.nextID,
		TS:        now,
		Symbol:    symbol,
		Ratio:     ratio,
		Direction: direction,
		LastDelta: lastDelta,
		AvgDelta:  avgDelta,
	}
	d.log = append([]model.Signal{sig}, d.log...)
	if len(d.log) > d.cfg.LogCap {
		d.log = d.log[:d.cfg.LogCap]
	}
	hook := d.OnSignal
	d.mu.Unlock()

	if hook != nil {
		hook(sig)
	}
	return sig, true
}

// EvaluateAll runs Evaluate over every tracked symbol.
func (d *Detector) EvaluateAll(now time.Time) {
	for _, sym := range d.tracker.Symbols() {
		d.Evaluate(sym, now)
	}
}

// Signals returns a copy of the log, newest first.
func (d *Detector) Signals() []model.Signal {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]model.Signal, len(d.log))
	copy(out, d.log)
	return out
}
