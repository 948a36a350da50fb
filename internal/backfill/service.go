// Package backfill loads historical candles from the exchange into the
// tracker. One run at a time; per-symbol failures are skipped so a single
// delisted pair cannot abort the whole load. Merged candles are always
// strictly older than the live frontier, so loading is safe to interleave
// with ingestion.
package backfill

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cryptoscreener/internal/logger"
	"cryptoscreener/internal/model"
	"cryptoscreener/internal/tracker"
)

// ErrAlreadyInProgress is returned by Start while a run is loading.
var ErrAlreadyInProgress = errors.New("backfill already in progress")

// KlineSource fetches historical candles. Timeframes the exchange cannot
// serve return an error the service treats as a silent skip.
type KlineSource interface {
	Klines(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// SkipUnsupported lets the source flag timeframes that have no exchange
// interval; matching errors skip the timeframe without counting as a
// symbol failure.
var SkipUnsupported = errors.New("timeframe unsupported by source")

// Config tunes a backfill run.
type Config struct {
	Timeframes  []model.Timeframe // default: all supported
	CandleLimit int               // candles requested per (symbol, timeframe)
	// PerRequestTimeout bounds each klines call, default 10s.
	PerRequestTimeout time.Duration
}

// Service runs backfills and serves status snapshots.
type Service struct {
	source  KlineSource
	tracker *tracker.Tracker
	cfg     Config

	// unsupported reports whether err means the timeframe is simply not
	// served by the exchange (as opposed to a fetch failure)
	unsupported func(error) bool

	mu     sync.Mutex
	status model.BackfillStatus

	// Optional hooks.
	OnRunStarted    func(total int)
	OnSymbolDone    func(symbol string, merged int)
	OnSymbolFailed  func(symbol string, err error)
	OnKlinesFetched func(elapsed time.Duration)
}

// New creates a Service. Zero config fields get defaults.
func New(source KlineSource, tr *tracker.Tracker, cfg Config) *Service {
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = model.Timeframes()
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 500
	}
	if cfg.PerRequestTimeout <= 0 {
		cfg.PerRequestTimeout = 10 * time.Second
	}
	return &Service{
		source:  source,
		tracker: tr,
		cfg:     cfg,
		status:  model.BackfillStatus{State: model.BackfillIdle},
		unsupported: func(err error) bool {
			return errors.Is(err, SkipUnsupported)
		},
	}
}

// SetUnsupportedCheck overrides how "no such interval" errors from the
// source are recognized.
func (s *Service) SetUnsupportedCheck(f func(error) bool) {
	if f != nil {
		s.unsupported = f
	}
}

// Start launches a backfill over the given symbols in a background
// goroutine. Returns ErrAlreadyInProgress while a previous run is loading;
// completed and error states allow a fresh start.
func (s *Service) Start(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	if s.status.State == model.BackfillLoading {
		s.mu.Unlock()
		return ErrAlreadyInProgress
	}
	s.status = model.BackfillStatus{
		State:     model.BackfillLoading,
		Total:     len(symbols),
		StartedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	if s.OnRunStarted != nil {
		s.OnRunStarted(len(symbols))
	}
	go s.run(ctx, symbols)
	return nil
}

// Status returns the latest progress snapshot. Safe to poll at high
// frequency; never blocks ingestion.
func (s *Service) Status() model.BackfillStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) run(ctx context.Context, symbols []string) {
	succeeded := 0

	for _, sym := range symbols {
		s.mu.Lock()
		s.status.CurrentSymbol = sym
		s.mu.Unlock()

		// one trace ID per symbol, carried through every klines call
		symCtx := logger.WithTraceID(ctx, logger.GenerateTraceID(sym, time.Now()))
		merged, err := s.loadSymbol(symCtx, sym)

		s.mu.Lock()
		s.status.Progress++
		s.status.CandlesMerged += merged
		s.mu.Unlock()

		if err != nil {
			args := []any{slog.String("symbol", sym), slog.String("error", err.Error())}
			slog.Warn("backfill symbol skipped", append(args, logger.LogWithTrace(symCtx)...)...)
			if s.OnSymbolFailed != nil {
				s.OnSymbolFailed(sym, err)
			}
			continue
		}
		succeeded++
		if s.OnSymbolDone != nil {
			s.OnSymbolDone(sym, merged)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.CurrentSymbol = ""
	s.status.FinishedAt = time.Now().UTC()
	if succeeded == 0 && len(symbols) > 0 {
		s.status.State = model.BackfillError
		s.status.Error = "no symbol could be backfilled"
		return
	}
	s.status.State = model.BackfillCompleted
}

// loadSymbol fetches and merges every configured timeframe for one symbol.
// Unsupported timeframes are skipped silently; a fetch failure fails the
// whole symbol.
func (s *Service) loadSymbol(ctx context.Context, symbol string) (int, error) {
	merged := 0
	for _, tf := range s.cfg.Timeframes {
		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.PerRequestTimeout)
		start := time.Now()
		candles, err := s.source.Klines(reqCtx, symbol, tf, s.cfg.CandleLimit)
		cancel()
		if s.OnKlinesFetched != nil {
			s.OnKlinesFetched(time.Since(start))
		}
		if err != nil {
			if s.unsupported(err) {
				continue
			}
			return merged, err
		}
		merged += s.tracker.MergeHistorical(symbol, tf, candles)
	}
	return merged, nil
}
