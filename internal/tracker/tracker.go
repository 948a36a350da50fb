// Package tracker maintains the in-memory market state: per-symbol OHLC
// candle series across every configured timeframe plus a short ring of raw
// price snapshots for sub-minute change queries. It is the single source of
// truth for query handlers; the poller is the only live writer.
package tracker

import (
	"sync"
	"time"

	"cryptoscreener/internal/model"
	"cryptoscreener/internal/ringbuf"
)

const (
	defaultCandleCapacity  = 500
	defaultSnapshotHorizon = 60 * time.Second
)

// Config tunes tracker retention.
type Config struct {
	Timeframes      []model.Timeframe // default: all supported
	CandleCapacity  int               // closed candles kept per (symbol, timeframe)
	SnapshotHorizon time.Duration     // raw snapshot retention window
}

// series is the candle history for one (symbol, timeframe).
type series struct {
	// closed candles, oldest first, capped at CandleCapacity
	candles []model.Candle
	// forming candle for the current bucket; nil until the first snapshot
	forming *model.Candle
}

// symbolState bundles everything retained for one symbol.
type symbolState struct {
	ring     *ringbuf.Ring
	series   map[model.Timeframe]*series
	lastSeen time.Time
}

// Tracker aggregates price snapshots into candles. Safe for concurrent use:
// one writer (the poller) and many readers (query handlers).
type Tracker struct {
	mu      sync.RWMutex
	cfg     Config
	symbols map[string]*symbolState

	// Optional hooks, set before the first Ingest.
	OnCandleClose     func(model.Candle)
	OnDroppedSnapshot func(symbol string, tf model.Timeframe)
}

// New creates a Tracker. Zero config fields get defaults.
func New(cfg Config) *Tracker {
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = model.Timeframes()
	}
	if cfg.CandleCapacity <= 0 {
		cfg.CandleCapacity = defaultCandleCapacity
	}
	if cfg.SnapshotHorizon <= 0 {
		cfg.SnapshotHorizon = defaultSnapshotHorizon
	}
	return &Tracker{
		cfg:     cfg,
		symbols: make(map[string]*symbolState),
	}
}

// Ingest incorporates one snapshot into every configured timeframe and the
// snapshot ring. Snapshots older than a series' current bucket are dropped
// for that series only. Close hooks fire after the lock is released.
func (t *Tracker) Ingest(s model.PriceSnapshot) {
	if s.Symbol == "" || s.Price <= 0 {
		return
	}

	var closed []model.Candle
	var dropped []model.Timeframe

	t.mu.Lock()
	st, ok := t.symbols[s.Symbol]
	if !ok {
		st = &symbolState{
			// ring sized for the horizon at the fastest realistic cadence (1s)
			ring:   ringbuf.New(int(t.cfg.SnapshotHorizon / time.Second)),
			series: make(map[model.Timeframe]*series, len(t.cfg.Timeframes)),
		}
		for _, tf := range t.cfg.Timeframes {
			st.series[tf] = &series{}
		}
		t.symbols[s.Symbol] = st
	}
	st.lastSeen = s.TS
	st.ring.Push(s)
	st.ring.EvictBefore(s.TS.Add(-t.cfg.SnapshotHorizon))

	for _, tf := range t.cfg.Timeframes {
		ser := st.series[tf]
		bucket := tf.Bucket(s.TS)

		if ser.forming == nil {
			ser.forming = newCandle(s, tf, bucket)
			continue
		}

		switch {
		case bucket.Before(ser.forming.OpenTime):
			// stale snapshot for this timeframe
			dropped = append(dropped, tf)

		case bucket.Equal(ser.forming.OpenTime):
			applySnapshot(ser.forming, s)

		default:
			// bucket rolled over: seal the forming candle, open a new one
			sealed := *ser.forming
			sealed.Closed = true
			ser.append(sealed, t.cfg.CandleCapacity)
			closed = append(closed, sealed)
			ser.forming = newCandle(s, tf, bucket)
		}
	}
	onClose := t.OnCandleClose
	onDrop := t.OnDroppedSnapshot
	t.mu.Unlock()

	if onDrop != nil {
		for _, tf := range dropped {
			onDrop(s.Symbol, tf)
		}
	}
	if onClose != nil {
		for _, c := range closed {
			onClose(c)
		}
	}
}

// Candles returns up to limit most recent candles for (symbol, timeframe),
// oldest first, with the forming candle (Closed=false) last when present.
// limit <= 0 means no limit.
func (t *Tracker) Candles(symbol string, tf model.Timeframe, limit int) []model.Candle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ser := t.seriesFor(symbol, tf)
	if ser == nil {
		return nil
	}

	out := make([]model.Candle, 0, len(ser.candles)+1)
	out = append(out, ser.candles...)
	if ser.forming != nil {
		out = append(out, *ser.forming)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ClosedCandles returns only sealed candles, oldest first.
func (t *Tracker) ClosedCandles(symbol string, tf model.Timeframe) []model.Candle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ser := t.seriesFor(symbol, tf)
	if ser == nil {
		return nil
	}
	out := make([]model.Candle, len(ser.candles))
	copy(out, ser.candles)
	return out
}

// MergeHistorical splices backfilled candles in front of the live series.
// Only candles strictly older than the earliest held candle are inserted:
// anything overlapping live data is discarded so live aggregation wins.
// Inserted candles are forced closed. Returns the number inserted.
func (t *Tracker) MergeHistorical(symbol string, tf model.Timeframe, candles []model.Candle) int {
	if len(candles) == 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.symbols[symbol]
	if !ok {
		st = &symbolState{
			ring:   ringbuf.New(int(t.cfg.SnapshotHorizon / time.Second)),
			series: make(map[model.Timeframe]*series, len(t.cfg.Timeframes)),
		}
		for _, ctf := range t.cfg.Timeframes {
			st.series[ctf] = &series{}
		}
		t.symbols[symbol] = st
	}
	ser, ok := st.series[tf]
	if !ok {
		return 0
	}

	// earliest bound: oldest closed candle, else the forming candle
	var bound time.Time
	haveBound := false
	if len(ser.candles) > 0 {
		bound, haveBound = ser.candles[0].OpenTime, true
	} else if ser.forming != nil {
		bound, haveBound = ser.forming.OpenTime, true
	}

	var older []model.Candle
	for _, c := range candles {
		if haveBound && !c.OpenTime.Before(bound) {
			continue
		}
		c.Symbol = symbol
		c.Timeframe = tf
		c.Closed = true
		older = append(older, c)
	}
	if len(older) == 0 {
		return 0
	}

	merged := append(older, ser.candles...)
	if len(merged) > t.cfg.CandleCapacity {
		merged = merged[len(merged)-t.cfg.CandleCapacity:]
	}
	ser.candles = merged
	return len(older)
}

// LastPrice returns the latest observed price and its timestamp.
func (t *Tracker) LastPrice(symbol string) (float64, time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.symbols[symbol]
	if !ok {
		return 0, time.Time{}, false
	}
	s, ok := st.ring.Latest()
	if !ok {
		return 0, time.Time{}, false
	}
	return s.Price, s.TS, true
}

// SnapshotAtOrBefore returns the newest retained snapshot at or before ts.
func (t *Tracker) SnapshotAtOrBefore(symbol string, ts time.Time) (model.PriceSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.symbols[symbol]
	if !ok {
		return model.PriceSnapshot{}, false
	}
	return st.ring.NearestAtOrBefore(ts)
}

// OldestSnapshot returns the oldest retained snapshot for the symbol.
func (t *Tracker) OldestSnapshot(symbol string) (model.PriceSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.symbols[symbol]
	if !ok {
		return model.PriceSnapshot{}, false
	}
	return st.ring.Oldest()
}

// Symbols returns all tracked symbols, unordered.
func (t *Tracker) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.symbols))
	for sym := range t.symbols {
		out = append(out, sym)
	}
	return out
}

// SymbolCount returns the number of tracked symbols.
func (t *Tracker) SymbolCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.symbols)
}

// PurgeIdle drops symbols not updated since cutoff and returns how many
// were removed. Run periodically so delisted pairs don't pin memory.
func (t *Tracker) PurgeIdle(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for sym, st := range t.symbols {
		if st.lastSeen.Before(cutoff) {
			delete(t.symbols, sym)
			removed++
		}
	}
	return removed
}

// seriesFor must be called with at least a read lock held.
func (t *Tracker) seriesFor(symbol string, tf model.Timeframe) *series {
	st, ok := t.symbols[symbol]
	if !ok {
		return nil
	}
	return st.series[tf]
}

// append adds a sealed candle and evicts the oldest beyond capacity.
func (s *series) append(c model.Candle, capacity int) {
	s.candles = append(s.candles, c)
	if len(s.candles) > capacity {
		s.candles = s.candles[len(s.candles)-capacity:]
	}
}

func newCandle(s model.PriceSnapshot, tf model.Timeframe, bucket time.Time) *model.Candle {
	return &model.Candle{
		Symbol:    s.Symbol,
		Timeframe: tf,
		OpenTime:  bucket,
		Open:      s.Price,
		High:      s.Price,
		Low:       s.Price,
		Close:     s.Price,
		Volume:    s.Volume,
	}
}

func applySnapshot(c *model.Candle, s model.PriceSnapshot) {
	if s.Price > c.High {
		c.High = s.Price
	}
	if s.Price < c.Low {
		c.Low = s.Price
	}
	c.Close = s.Price
	// ticker volume is a rolling 24h figure, keep the latest reading
	c.Volume = s.Volume
}
