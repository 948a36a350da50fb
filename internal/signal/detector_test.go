package signal

import (
	"fmt"
	"testing"
	"time"

	"cryptoscreener/internal/model"
	"cryptoscreener/internal/tracker"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newFixture(cfg Config) (*tracker.Tracker, *Detector) {
	tr := tracker.New(tracker.Config{
		Timeframes:      []model.Timeframe{model.TF1m},
		CandleCapacity:  100,
		SnapshotHorizon: 60 * time.Second,
	})
	return tr, New(tr, cfg)
}

// seedCloses merges one closed 1m candle per close value, oldest first.
func seedCloses(tr *tracker.Tracker, symbol string, closes ...float64) {
	candles := make([]model.Candle, len(closes))
	for i, cl := range closes {
		candles[i] = model.Candle{
			OpenTime: testBase.Add(time.Duration(i-len(closes)) * time.Minute),
			Open:     cl, High: cl, Low: cl, Close: cl,
		}
	}
	tr.MergeHistorical(symbol, model.TF1m, candles)
}

func TestDetector_FiresOnAcceleration(t *testing.T) {
	tr, det := newFixture(Config{CandleCount: 3, Threshold: 3.0})

	// steady +1 drift then a +7 jump
	seedCloses(tr, "BTCUSDT", 100, 101, 102, 103, 110)

	sig, fired := det.Evaluate("BTCUSDT", testBase)
	if !fired {
		t.Fatal("expected a signal")
	}
	if sig.Direction != model.DirectionUp {
		t.Errorf("expected direction up, got %s", sig.Direction)
	}
	if sig.LastDelta != 7 {
		t.Errorf("expected lastDelta=7, got %v", sig.LastDelta)
	}
	if sig.AvgDelta != 1 {
		t.Errorf("expected avgDelta=1, got %v", sig.AvgDelta)
	}
	if sig.Ratio != 7 {
		t.Errorf("expected ratio=7, got %v", sig.Ratio)
	}
	if sig.Symbol != "BTCUSDT" || !sig.TS.Equal(testBase) {
		t.Errorf("unexpected identity: %+v", sig)
	}

	log := det.Signals()
	if len(log) != 1 || log[0].ID != sig.ID {
		t.Fatalf("expected the signal in the log, got %v", log)
	}
}

func TestDetector_FiresDownward(t *testing.T) {
	tr, det := newFixture(Config{CandleCount: 3, Threshold: 3.0})

	seedCloses(tr, "ETHUSDT", 110, 109, 108, 107, 100)

	sig, fired := det.Evaluate("ETHUSDT", testBase)
	if !fired {
		t.Fatal("expected a downward signal")
	}
	if sig.Direction != model.DirectionDown {
		t.Errorf("expected direction down, got %s", sig.Direction)
	}
	if sig.Ratio != 7 {
		t.Errorf("expected ratio=7, got %v", sig.Ratio)
	}
}

func TestDetector_OppositeDirectionNeverFires(t *testing.T) {
	tr, det := newFixture(Config{CandleCount: 3, Threshold: 3.0})

	// upward drift, then a large drop: volatility, not acceleration
	seedCloses(tr, "BTCUSDT", 100, 101, 102, 103, 96)

	if _, fired := det.Evaluate("BTCUSDT", testBase); fired {
		t.Fatal("opposite-direction move must not fire")
	}
}

func TestDetector_BelowThresholdNoSignal(t *testing.T) {
	tr, det := newFixture(Config{CandleCount: 3, Threshold: 3.0})

	// lastDelta=2 vs avgDelta=1: ratio 2 < 3
	seedCloses(tr, "BTCUSDT", 100, 101, 102, 103, 105)

	if _, fired := det.Evaluate("BTCUSDT", testBase); fired {
		t.Fatal("sub-threshold ratio must not fire")
	}
}

func TestDetector_EpsilonGuards(t *testing.T) {
	tr, det := newFixture(Config{CandleCount: 3, Threshold: 3.0, Epsilon: 0.5})

	// flat history: avgDelta=0 would divide by zero without the guard
	seedCloses(tr, "FLATUSDT", 100, 100, 100, 100, 107)
	if _, fired := det.Evaluate("FLATUSDT", testBase); fired {
		t.Fatal("near-zero avgDelta must not fire")
	}

	// tiny last move under epsilon
	seedCloses(tr, "TINYUSDT", 100, 101, 102, 103, 103.1)
	if _, fired := det.Evaluate("TINYUSDT", testBase); fired {
		t.Fatal("near-zero lastDelta must not fire")
	}
}

func TestDetector_InsufficientCandlesNoOp(t *testing.T) {
	tr, det := newFixture(Config{CandleCount: 3, Threshold: 3.0})

	seedCloses(tr, "BTCUSDT", 100, 101, 102, 110) // one candle short

	if _, fired := det.Evaluate("BTCUSDT", testBase); fired {
		t.Fatal("expected no-op with insufficient history")
	}
	if _, fired := det.Evaluate("MISSING", testBase); fired {
		t.Fatal("unknown symbol must be a no-op")
	}
}

func TestDetector_SameCandleFiresOnce(t *testing.T) {
	tr, det := newFixture(Config{CandleCount: 3, Threshold: 3.0})

	seedCloses(tr, "BTCUSDT", 100, 101, 102, 103, 110)

	if _, fired := det.Evaluate("BTCUSDT", testBase); !fired {
		t.Fatal("first evaluation should fire")
	}
	// re-evaluating the same closed candle (every poll tick does this)
	if _, fired := det.Evaluate("BTCUSDT", testBase.Add(2*time.Second)); fired {
		t.Fatal("same closed candle must not fire twice")
	}
	if got := len(det.Signals()); got != 1 {
		t.Fatalf("expected 1 logged signal, got %d", got)
	}
}

func TestDetector_LogNewestFirstAndCapped(t *testing.T) {
	tr, det := newFixture(Config{CandleCount: 2, Threshold: 2.0, LogCap: 3})

	var hooked []model.Signal
	det.OnSignal = func(s model.Signal) { hooked = append(hooked, s) }

	for i := 0; i < 5; i++ {
		sym := fmt.Sprintf("SYM%dUSDT", i)
		seedCloses(tr, sym, 100, 101, 102, 110)
		if _, fired := det.Evaluate(sym, testBase.Add(time.Duration(i)*time.Second)); !fired {
			t.Fatalf("symbol %s should fire", sym)
		}
	}

	log := det.Signals()
	if len(log) != 3 {
		t.Fatalf("expected log capped at 3, got %d", len(log))
	}
	// newest first
	if log[0].Symbol != "SYM4USDT" || log[2].Symbol != "SYM2USDT" {
		t.Errorf("log order wrong: %s .. %s", log[0].Symbol, log[2].Symbol)
	}
	for i := 1; i < len(log); i++ {
		if log[i].ID >= log[i-1].ID {
			t.Errorf("IDs not descending at %d", i)
		}
	}
	if len(hooked) != 5 {
		t.Errorf("expected 5 hook calls, got %d", len(hooked))
	}
}

func TestDetector_EvaluateAll(t *testing.T) {
	tr, det := newFixture(Config{CandleCount: 3, Threshold: 3.0})

	seedCloses(tr, "AUSDT", 100, 101, 102, 103, 110)
	seedCloses(tr, "BUSDT", 100, 101, 102, 103, 104) // steady, no fire

	det.EvaluateAll(testBase)

	log := det.Signals()
	if len(log) != 1 || log[0].Symbol != "AUSDT" {
		t.Fatalf("expected only AUSDT to fire, got %v", log)
	}
}
