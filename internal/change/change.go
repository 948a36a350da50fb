// Package change computes absolute and percentage price deltas over a
// lookback window. Sub-minute windows read the raw snapshot ring; longer
// windows read candle closes. All lookups are pure reads against the
// tracker, safe to run concurrently with ingestion.
package change

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"cryptoscreener/internal/model"
	"cryptoscreener/internal/tracker"
)

// ErrInsufficientHistory means the tracked history does not reach far
// enough back to answer the requested window reliably.
var ErrInsufficientHistory = errors.New("insufficient history for interval")

// ErrUnknownInterval is returned for interval strings outside the
// supported set.
var ErrUnknownInterval = errors.New("unknown interval")

// intervals is the closed set of query windows. Raw strings from the
// query layer are resolved through ParseInterval, never used directly.
var intervals = map[string]time.Duration{
	"2s":  2 * time.Second,
	"5s":  5 * time.Second,
	"10s": 10 * time.Second,
	"15s": 15 * time.Second,
	"30s": 30 * time.Second,
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"12h": 12 * time.Hour,
	"24h": 24 * time.Hour,
}

// ParseInterval validates an interval string against the supported set.
func ParseInterval(s string) (time.Duration, error) {
	d, ok := intervals[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownInterval, s)
	}
	return d, nil
}

// Intervals returns the supported interval names, shortest first.
func Intervals() []string {
	out := make([]string, 0, len(intervals))
	for name := range intervals {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return intervals[out[i]] < intervals[out[j]] })
	return out
}

// Result is the outcome of one change computation.
type Result struct {
	Symbol   string        `json:"symbol"`
	Interval time.Duration `json:"-"`
	Absolute float64       `json:"absolute_change"`
	Percent  float64       `json:"percent_change"`
	Price    float64       `json:"price"`    // current price used as the "now" side
	Baseline float64       `json:"baseline"` // price at now - interval
}

// Calculator answers change queries against a tracker.
type Calculator struct {
	tracker    *tracker.Tracker
	timeframes []model.Timeframe // configured set, shortest first
	shortest   time.Duration
}

// New creates a Calculator over the tracker's configured timeframes.
func New(tr *tracker.Tracker, timeframes []model.Timeframe) *Calculator {
	tfs := make([]model.Timeframe, len(timeframes))
	copy(tfs, timeframes)
	sort.Slice(tfs, func(i, j int) bool { return tfs[i].Duration() < tfs[j].Duration() })

	shortest := time.Duration(0)
	if len(tfs) > 0 {
		shortest = tfs[0].Duration()
	}
	return &Calculator{tracker: tr, timeframes: tfs, shortest: shortest}
}

// Change computes the price delta between now and now-d. Windows shorter
// than the shortest maintained timeframe resolve against the snapshot
// ring; everything else against candle closes. Returns
// ErrInsufficientHistory when the baseline cannot be established; never
// produces NaN or infinity.
func (c *Calculator) Change(symbol string, d time.Duration, now time.Time) (Result, error) {
	if d <= 0 {
		return Result{}, fmt.Errorf("%w: non-positive duration", ErrUnknownInterval)
	}

	price, _, ok := c.tracker.LastPrice(symbol)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", symbol, ErrInsufficientHistory)
	}

	var baseline float64
	var err error
	if d < c.shortest {
		baseline, err = c.snapshotBaseline(symbol, d, now)
	} else {
		baseline, err = c.candleBaseline(symbol, d, now)
	}
	if err != nil {
		return Result{}, err
	}
	if baseline <= 0 {
		return Result{}, fmt.Errorf("%s: zero baseline: %w", symbol, ErrInsufficientHistory)
	}

	abs := price - baseline
	return Result{
		Symbol:   symbol,
		Interval: d,
		Absolute: abs,
		Percent:  abs / baseline * 100,
		Price:    price,
		Baseline: baseline,
	}, nil
}

// snapshotBaseline finds the ring snapshot closest to now-d, preferring
// the nearest at-or-before entry. History must reach back at least d/2 or
// the interpolation is considered unreliable.
func (c *Calculator) snapshotBaseline(symbol string, d time.Duration, now time.Time) (float64, error) {
	oldest, ok := c.tracker.OldestSnapshot(symbol)
	if !ok || now.Sub(oldest.TS) < d/2 {
		return 0, fmt.Errorf("%s: ring shorter than %v: %w", symbol, d/2, ErrInsufficientHistory)
	}

	target := now.Add(-d)
	if s, ok := c.tracker.SnapshotAtOrBefore(symbol, target); ok {
		return s.Price, nil
	}
	// nothing at or before the target: fall back to the oldest retained
	// snapshot (already known to cover at least half the window)
	return oldest.Price, nil
}

// candleBaseline resolves the close of the newest candle at or before
// now-d on the coarsest timeframe that divides d evenly. The candle is
// located by open time, not by counting entries back: a series has holes
// wherever the symbol was absent from poll responses, and index math
// would silently land on a candle far older than the window. If the
// window predates history entirely, the oldest candle's open serves as a
// documented approximation.
func (c *Calculator) candleBaseline(symbol string, d time.Duration, now time.Time) (float64, error) {
	tf, ok := c.resolveTimeframe(d)
	if !ok {
		return 0, fmt.Errorf("%w: %v not expressible in maintained timeframes", ErrUnknownInterval, d)
	}

	candles := c.tracker.Candles(symbol, tf, 0)
	if len(candles) == 0 {
		return 0, fmt.Errorf("%s/%s: no candles: %w", symbol, tf, ErrInsufficientHistory)
	}

	target := now.Add(-d)
	for i := len(candles) - 1; i >= 0; i-- {
		if !candles[i].OpenTime.After(target) {
			return candles[i].Close, nil
		}
	}
	return candles[0].Open, nil
}

// resolveTimeframe picks the coarsest configured timeframe dividing d.
func (c *Calculator) resolveTimeframe(d time.Duration) (model.Timeframe, bool) {
	for i := len(c.timeframes) - 1; i >= 0; i-- {
		tfDur := c.timeframes[i].Duration()
		if tfDur <= d && d%tfDur == 0 {
			return c.timeframes[i], true
		}
	}
	return "", false
}
