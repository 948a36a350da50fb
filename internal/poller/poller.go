// Package poller drives the ingestion cadence: one batch ticker request
// per tick, fanned into the tracker as snapshots. A failed or slow tick is
// dropped whole; time.Ticker coalesces missed ticks so a stall never
// produces a burst of catch-up polls.
package poller

import (
	"context"
	"log"
	"time"

	"cryptoscreener/internal/model"
	"cryptoscreener/internal/tracker"
	"cryptoscreener/pkg/mexc"
)

const (
	defaultInterval = 2 * time.Second
)

// Source provides the batch ticker snapshot. *mexc.Client satisfies it.
type Source interface {
	AllTickers(ctx context.Context) ([]mexc.Ticker, error)
}

// Config tunes the polling loop.
type Config struct {
	Interval time.Duration // tick cadence, default 2s
	// RequestTimeout bounds each batch call; defaults to 80% of Interval
	// so a hung request can never bleed into the next tick.
	RequestTimeout time.Duration
	// Symbols restricts ingestion to this set; empty tracks every symbol
	// the exchange returns.
	Symbols []string
}

// Poller polls the source at a fixed cadence and feeds the tracker.
type Poller struct {
	cfg     Config
	source  Source
	tracker *tracker.Tracker
	watch   map[string]struct{} // nil = track everything

	// Optional hooks, set before Run.
	OnTickDone  func(ingested int, elapsed time.Duration)
	OnTickError func(err error)
	// AfterTick runs after each successful tick, e.g. signal evaluation.
	AfterTick func(now time.Time)
}

// New creates a Poller. Zero config fields get defaults.
func New(source Source, tr *tracker.Tracker, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RequestTimeout <= 0 || cfg.RequestTimeout >= cfg.Interval {
		cfg.RequestTimeout = cfg.Interval * 8 / 10
	}
	var watch map[string]struct{}
	if len(cfg.Symbols) > 0 {
		watch = make(map[string]struct{}, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			watch[s] = struct{}{}
		}
	}
	return &Poller{cfg: cfg, source: source, tracker: tr, watch: watch}
}

// Run polls until ctx is cancelled. The first tick fires immediately.
// Each tick is a bounded fire-and-forget unit: on failure nothing is
// ingested and the loop waits for the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick performs one bounded poll-and-ingest cycle.
func (p *Poller) tick(ctx context.Context) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	tickers, err := p.source.AllTickers(reqCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[poller] tick dropped: %v", err)
		if p.OnTickError != nil {
			p.OnTickError(err)
		}
		return
	}

	now := time.Now().UTC()
	ingested := 0
	for _, t := range tickers {
		if p.watch != nil {
			if _, ok := p.watch[t.Symbol]; !ok {
				continue
			}
		}
		if t.Price <= 0 {
			continue
		}
		p.tracker.Ingest(model.PriceSnapshot{
			Symbol: t.Symbol,
			Price:  t.Price,
			Volume: t.Volume,
			TS:     now,
		})
		ingested++
	}

	if p.OnTickDone != nil {
		p.OnTickDone(ingested, time.Since(start))
	}
	if p.AfterTick != nil {
		p.AfterTick(now)
	}
}
