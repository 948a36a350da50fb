package tracker

import (
	"testing"
	"time"

	"cryptoscreener/internal/model"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(tfs ...model.Timeframe) *Tracker {
	if len(tfs) == 0 {
		tfs = []model.Timeframe{model.TF1m}
	}
	return New(Config{
		Timeframes:      tfs,
		CandleCapacity:  5,
		SnapshotHorizon: 60 * time.Second,
	})
}

func ingest(t *Tracker, symbol string, price float64, ts time.Time) {
	t.Ingest(model.PriceSnapshot{Symbol: symbol, Price: price, Volume: 1000, TS: ts})
}

func TestTracker_BasicCandle(t *testing.T) {
	tr := newTestTracker(model.TF1m)

	ingest(tr, "BTCUSDT", 50000, testBase)
	ingest(tr, "BTCUSDT", 50500, testBase.Add(10*time.Second))
	ingest(tr, "BTCUSDT", 49800, testBase.Add(30*time.Second))

	candles := tr.Candles("BTCUSDT", model.TF1m, 0)
	if len(candles) != 1 {
		t.Fatalf("expected 1 forming candle, got %d", len(candles))
	}
	c := candles[0]
	if c.Closed {
		t.Error("candle should still be forming")
	}
	if c.Open != 50000 {
		t.Errorf("expected open=50000, got %v", c.Open)
	}
	if c.High != 50500 {
		t.Errorf("expected high=50500, got %v", c.High)
	}
	if c.Low != 49800 {
		t.Errorf("expected low=49800, got %v", c.Low)
	}
	if c.Close != 49800 {
		t.Errorf("expected close=49800, got %v", c.Close)
	}
	if !c.OpenTime.Equal(testBase) {
		t.Errorf("expected openTime=%v, got %v", testBase, c.OpenTime)
	}
}

func TestTracker_BucketRollover(t *testing.T) {
	tr := newTestTracker(model.TF1m)

	var closed []model.Candle
	tr.OnCandleClose = func(c model.Candle) { closed = append(closed, c) }

	ingest(tr, "BTCUSDT", 50000, testBase)
	ingest(tr, "BTCUSDT", 50100, testBase.Add(30*time.Second))
	// crosses into the next minute
	ingest(tr, "BTCUSDT", 50200, testBase.Add(61*time.Second))

	if len(closed) != 1 {
		t.Fatalf("expected 1 close hook, got %d", len(closed))
	}
	if !closed[0].Closed || closed[0].Close != 50100 {
		t.Errorf("sealed candle wrong: %+v", closed[0])
	}

	candles := tr.Candles("BTCUSDT", model.TF1m, 0)
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[0].Closed || candles[1].Closed {
		t.Errorf("expected [closed, forming], got closed=%v,%v", candles[0].Closed, candles[1].Closed)
	}
	if candles[1].Open != 50200 {
		t.Errorf("expected new candle open=50200, got %v", candles[1].Open)
	}
	if !candles[1].OpenTime.Equal(testBase.Add(time.Minute)) {
		t.Errorf("new candle openTime=%v", candles[1].OpenTime)
	}
}

func TestTracker_SameBucketNeverSplits(t *testing.T) {
	tr := newTestTracker(model.TF1m)

	ingest(tr, "BTCUSDT", 100, testBase.Add(5*time.Second))
	// duplicate timestamp and an earlier one inside the same bucket
	ingest(tr, "BTCUSDT", 105, testBase.Add(5*time.Second))
	ingest(tr, "BTCUSDT", 95, testBase.Add(2*time.Second))

	candles := tr.Candles("BTCUSDT", model.TF1m, 0)
	if len(candles) != 1 {
		t.Fatalf("expected a single candle for the bucket, got %d", len(candles))
	}
	c := candles[0]
	if c.High != 105 || c.Low != 95 || c.Close != 95 {
		t.Errorf("unexpected OHLC: %+v", c)
	}
}

func TestTracker_StaleSnapshotDropped(t *testing.T) {
	tr := newTestTracker(model.TF1m)

	var droppedTFs []model.Timeframe
	tr.OnDroppedSnapshot = func(_ string, tf model.Timeframe) { droppedTFs = append(droppedTFs, tf) }

	ingest(tr, "BTCUSDT", 100, testBase.Add(61*time.Second))
	// belongs to the previous, already-passed bucket
	ingest(tr, "BTCUSDT", 90, testBase.Add(30*time.Second))

	if len(droppedTFs) != 1 || droppedTFs[0] != model.TF1m {
		t.Fatalf("expected 1 dropped snapshot on 1m, got %v", droppedTFs)
	}
	candles := tr.Candles("BTCUSDT", model.TF1m, 0)
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if candles[0].Low == 90 {
		t.Error("stale snapshot leaked into the forming candle")
	}
}

func TestTracker_CapacityEviction(t *testing.T) {
	tr := newTestTracker(model.TF1m) // capacity 5

	// 8 sealed candles + 1 forming
	for i := 0; i < 9; i++ {
		ingest(tr, "BTCUSDT", 100+float64(i), testBase.Add(time.Duration(i)*time.Minute))
	}

	closed := tr.ClosedCandles("BTCUSDT", model.TF1m)
	if len(closed) != 5 {
		t.Fatalf("expected 5 retained closed candles, got %d", len(closed))
	}
	// oldest three evicted: retained closes are 103..107
	if closed[0].Close != 103 {
		t.Errorf("expected oldest retained close=103, got %v", closed[0].Close)
	}
	for i := 1; i < len(closed); i++ {
		if !closed[i].OpenTime.After(closed[i-1].OpenTime) {
			t.Errorf("candles not strictly time-ordered at %d", i)
		}
	}
}

func TestTracker_MultiTimeframe(t *testing.T) {
	tr := newTestTracker(model.TF15s, model.TF1m)

	for i := 0; i < 5; i++ {
		ingest(tr, "ETHUSDT", 3000+float64(i), testBase.Add(time.Duration(i)*16*time.Second))
	}

	// 16s cadence seals a 15s candle on almost every tick
	if got := len(tr.ClosedCandles("ETHUSDT", model.TF15s)); got < 3 {
		t.Errorf("expected >=3 closed 15s candles, got %d", got)
	}
	// 64s span seals exactly one 1m candle
	if got := len(tr.ClosedCandles("ETHUSDT", model.TF1m)); got != 1 {
		t.Errorf("expected 1 closed 1m candle, got %d", got)
	}
}

func TestTracker_CandlesLimit(t *testing.T) {
	tr := newTestTracker(model.TF1m)

	for i := 0; i < 4; i++ {
		ingest(tr, "BTCUSDT", 100+float64(i), testBase.Add(time.Duration(i)*time.Minute))
	}

	candles := tr.Candles("BTCUSDT", model.TF1m, 2)
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	// most recent two: one closed, one forming
	if candles[1].Closed {
		t.Error("last candle should be the forming one")
	}
	if candles[1].Close != 103 {
		t.Errorf("expected forming close=103, got %v", candles[1].Close)
	}
}

func TestTracker_MergeHistorical(t *testing.T) {
	tr := newTestTracker(model.TF1m)

	ingest(tr, "BTCUSDT", 100, testBase)

	hist := []model.Candle{
		{OpenTime: testBase.Add(-3 * time.Minute), Open: 90, High: 91, Low: 89, Close: 90.5},
		{OpenTime: testBase.Add(-2 * time.Minute), Open: 90.5, High: 92, Low: 90, Close: 91},
		{OpenTime: testBase.Add(-1 * time.Minute), Open: 91, High: 93, Low: 91, Close: 92},
		// overlaps the live frontier, must be discarded
		{OpenTime: testBase, Open: 999, High: 999, Low: 999, Close: 999},
	}
	inserted := tr.MergeHistorical("BTCUSDT", model.TF1m, hist)
	if inserted != 3 {
		t.Fatalf("expected 3 inserted, got %d", inserted)
	}

	candles := tr.Candles("BTCUSDT", model.TF1m, 0)
	if len(candles) != 4 {
		t.Fatalf("expected 4 candles (3 merged + forming), got %d", len(candles))
	}
	for i := 0; i < 3; i++ {
		if !candles[i].Closed {
			t.Errorf("merged candle %d not closed", i)
		}
		if candles[i].Symbol != "BTCUSDT" || candles[i].Timeframe != model.TF1m {
			t.Errorf("merged candle %d missing identity: %+v", i, candles[i])
		}
	}
	// live forming candle untouched
	last := candles[3]
	if last.Closed || last.Close != 100 {
		t.Errorf("live candle corrupted: %+v", last)
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			t.Errorf("series not strictly ordered at %d", i)
		}
	}
}

func TestTracker_MergeHistoricalUnknownSymbol(t *testing.T) {
	tr := newTestTracker(model.TF1m)

	hist := []model.Candle{
		{OpenTime: testBase.Add(-2 * time.Minute), Open: 1, High: 2, Low: 1, Close: 2},
	}
	if got := tr.MergeHistorical("NEWUSDT", model.TF1m, hist); got != 1 {
		t.Fatalf("expected 1 inserted for fresh symbol, got %d", got)
	}
	if got := len(tr.ClosedCandles("NEWUSDT", model.TF1m)); got != 1 {
		t.Errorf("expected 1 closed candle, got %d", got)
	}
}

func TestTracker_MergeHistoricalRespectsCapacity(t *testing.T) {
	tr := newTestTracker(model.TF1m) // capacity 5

	ingest(tr, "BTCUSDT", 100, testBase)

	var hist []model.Candle
	for i := 10; i >= 1; i-- {
		hist = append(hist, model.Candle{
			OpenTime: testBase.Add(-time.Duration(i) * time.Minute),
			Open:     1, High: 1, Low: 1, Close: float64(i),
		})
	}
	tr.MergeHistorical("BTCUSDT", model.TF1m, hist)

	closed := tr.ClosedCandles("BTCUSDT", model.TF1m)
	if len(closed) != 5 {
		t.Fatalf("expected capacity-capped 5 candles, got %d", len(closed))
	}
	// newest historical candles survive the cap
	if closed[len(closed)-1].Close != 1 {
		t.Errorf("expected newest merged close=1, got %v", closed[len(closed)-1].Close)
	}
}

func TestTracker_SnapshotRing(t *testing.T) {
	tr := newTestTracker(model.TF1m)

	for i := 0; i < 5; i++ {
		ingest(tr, "BTCUSDT", 100+float64(i), testBase.Add(time.Duration(i)*10*time.Second))
	}

	price, ts, ok := tr.LastPrice("BTCUSDT")
	if !ok || price != 104 {
		t.Fatalf("expected last price 104, got %v ok=%v", price, ok)
	}
	if !ts.Equal(testBase.Add(40 * time.Second)) {
		t.Errorf("unexpected last price ts %v", ts)
	}

	s, ok := tr.SnapshotAtOrBefore("BTCUSDT", testBase.Add(25*time.Second))
	if !ok || s.Price != 102 {
		t.Fatalf("expected snapshot price=102, got %v ok=%v", s.Price, ok)
	}

	if _, _, ok := tr.LastPrice("NOPEUSDT"); ok {
		t.Error("unknown symbol should report no price")
	}
}

func TestTracker_SnapshotHorizonEviction(t *testing.T) {
	tr := newTestTracker(model.TF1m) // horizon 60s

	ingest(tr, "BTCUSDT", 100, testBase)
	ingest(tr, "BTCUSDT", 101, testBase.Add(90*time.Second))

	oldest, ok := tr.OldestSnapshot("BTCUSDT")
	if !ok {
		t.Fatal("expected a retained snapshot")
	}
	if oldest.Price != 101 {
		t.Errorf("expected the 90s snapshot only, oldest price=%v", oldest.Price)
	}
}

func TestTracker_PurgeIdle(t *testing.T) {
	tr := newTestTracker(model.TF1m)

	ingest(tr, "OLDUSDT", 1, testBase)
	ingest(tr, "NEWUSDT", 2, testBase.Add(2*time.Hour))

	removed := tr.PurgeIdle(testBase.Add(time.Hour))
	if removed != 1 {
		t.Fatalf("expected 1 purged symbol, got %d", removed)
	}
	if tr.SymbolCount() != 1 {
		t.Errorf("expected 1 tracked symbol, got %d", tr.SymbolCount())
	}
	if _, _, ok := tr.LastPrice("OLDUSDT"); ok {
		t.Error("purged symbol still queryable")
	}
}

func TestTracker_RejectsBadSnapshots(t *testing.T) {
	tr := newTestTracker(model.TF1m)

	tr.Ingest(model.PriceSnapshot{Symbol: "BTCUSDT", Price: 0, TS: testBase})
	tr.Ingest(model.PriceSnapshot{Symbol: "BTCUSDT", Price: -5, TS: testBase})
	tr.Ingest(model.PriceSnapshot{Symbol: "", Price: 10, TS: testBase})

	if tr.SymbolCount() != 0 {
		t.Errorf("expected no symbols tracked, got %d", tr.SymbolCount())
	}
}
