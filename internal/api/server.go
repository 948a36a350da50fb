// Package api exposes the query surface over HTTP. Handlers validate and
// parse arguments at the boundary, then call the read-side of the engine;
// nothing here mutates candle state except the backfill trigger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"cryptoscreener/internal/backfill"
	"cryptoscreener/internal/change"
	"cryptoscreener/internal/model"
	"cryptoscreener/internal/signal"
	"cryptoscreener/internal/stream"
	"cryptoscreener/internal/tracker"
)

// Server serves the /api query surface and the /ws stream endpoint.
type Server struct {
	tracker  *tracker.Tracker
	calc     *change.Calculator
	detector *signal.Detector
	backfill *backfill.Service
	hub      *stream.Hub

	// baseCtx parents background work started by handlers, so process
	// shutdown bounds in-flight backfill requests
	baseCtx context.Context

	// default symbol set for backfill requests without an explicit list
	defaultSymbols []string

	srv *http.Server
}

// New wires the server. hub may be nil to disable /ws.
func New(ctx context.Context, addr string, tr *tracker.Tracker, calc *change.Calculator, det *signal.Detector, bf *backfill.Service, hub *stream.Hub, defaultSymbols []string) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Server{
		tracker:        tr,
		calc:           calc,
		detector:       det,
		backfill:       bf,
		hub:            hub,
		baseCtx:        ctx,
		defaultSymbols: defaultSymbols,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/intervals", s.handleIntervals)
	mux.HandleFunc("/api/tickers", s.handleTickers)
	mux.HandleFunc("/api/price", s.handlePrice)
	mux.HandleFunc("/api/change", s.handleChange)
	mux.HandleFunc("/api/candles", s.handleCandles)
	mux.HandleFunc("/api/signals", s.handleSignals)
	mux.HandleFunc("/api/backfill", s.handleBackfill)
	mux.HandleFunc("/api/backfill/status", s.handleBackfillStatus)
	if hub != nil {
		mux.HandleFunc("/ws", hub.HandleWS)
	}

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Handler returns the underlying handler, used by tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[api] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, errorBody{Error: msg, Code: errCode})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"tracked_symbols": s.tracker.SymbolCount(),
		"backfill_state":  s.backfill.Status().State,
	})
}

// handleIntervals lists the query windows and candle timeframes clients
// may request.
func (s *Server) handleIntervals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intervals":  change.Intervals(),
		"timeframes": model.Timeframes(),
	})
}

// handleTickers lists every tracked symbol with its latest price.
func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	type tickerEntry struct {
		Symbol string    `json:"symbol"`
		Price  float64   `json:"price"`
		TS     time.Time `json:"ts"`
	}

	symbols := s.tracker.Symbols()
	sort.Strings(symbols)

	out := make([]tickerEntry, 0, len(symbols))
	for _, sym := range symbols {
		price, ts, ok := s.tracker.LastPrice(sym)
		if !ok {
			continue
		}
		out = append(out, tickerEntry{Symbol: sym, Price: price, TS: ts})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	sym := r.URL.Query().Get("symbol")
	if sym == "" {
		writeError(w, http.StatusBadRequest, "missing_symbol", "symbol query parameter is required")
		return
	}
	price, ts, ok := s.tracker.LastPrice(sym)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_symbol", "no price tracked for "+sym)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": sym,
		"price":  price,
		"ts":     ts,
	})
}

func (s *Server) handleChange(w http.ResponseWriter, r *http.Request) {
	sym := r.URL.Query().Get("symbol")
	if sym == "" {
		writeError(w, http.StatusBadRequest, "missing_symbol", "symbol query parameter is required")
		return
	}
	intervalStr := r.URL.Query().Get("interval")
	d, err := change.ParseInterval(intervalStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
		return
	}

	res, err := s.calc.Change(sym, d, time.Now().UTC())
	if err != nil {
		if errors.Is(err, change.ErrInsufficientHistory) {
			writeError(w, http.StatusUnprocessableEntity, "insufficient_history", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":          res.Symbol,
		"interval":        intervalStr,
		"absolute_change": res.Absolute,
		"percent_change":  res.Percent,
		"price":           res.Price,
		"baseline":        res.Baseline,
	})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	sym := r.URL.Query().Get("symbol")
	if sym == "" {
		writeError(w, http.StatusBadRequest, "missing_symbol", "symbol query parameter is required")
		return
	}
	tf, err := model.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_timeframe", err.Error())
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
	}

	candles := s.tracker.Candles(sym, tf, limit)
	if candles == nil {
		candles = []model.Candle{}
	}
	writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	sigs := s.detector.Signals()
	if sigs == nil {
		sigs = []model.Signal{}
	}
	writeJSON(w, http.StatusOK, sigs)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	var req struct {
		Symbols []string `json:"symbols"`
	}
	// empty body means "backfill everything tracked"
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.defaultSymbols
	}
	if len(symbols) == 0 {
		symbols = s.tracker.Symbols()
		sort.Strings(symbols)
	}

	if err := s.backfill.Start(s.baseCtx, symbols); err != nil {
		if errors.Is(err, backfill.ErrAlreadyInProgress) {
			writeError(w, http.StatusConflict, "already_in_progress", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "backfill_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"started": true,
		"symbols": len(symbols),
	})
}

func (s *Server) handleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backfill.Status())
}
