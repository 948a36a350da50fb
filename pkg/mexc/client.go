// Package mexc is a minimal client for the MEXC spot market-data REST API.
// It covers the two endpoints the screener consumes: the batch 24hr ticker
// and historical klines. All calls are unauthenticated and carry a hard
// HTTP timeout so a hung request cannot stall the polling cadence.
package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cryptoscreener/internal/model"
)

const (
	defaultBaseURL = "https://api.mexc.com"
	defaultTimeout = 10 * time.Second

	// MaxKlineLimit is the per-request candle cap enforced by the exchange.
	MaxKlineLimit = 1000
)

var routes = map[string]string{
	"ticker.24hr": "/api/v3/ticker/24hr",
	"klines":      "/api/v3/klines",
}

// ErrUnsupportedTimeframe is returned by Klines for timeframes the exchange
// has no kline interval for (the sub-minute ones).
var ErrUnsupportedTimeframe = fmt.Errorf("mexc: timeframe has no kline interval")

// klineIntervals maps engine timeframes to MEXC kline interval names.
// 15s and 30s are intentionally absent: MEXC serves nothing below 1m.
var klineIntervals = map[model.Timeframe]string{
	model.TF1m:  "1m",
	model.TF5m:  "5m",
	model.TF15m: "15m",
	model.TF1h:  "60m",
	model.TF4h:  "4h",
	model.TF1d:  "1d",
}

// Config configures the client.
type Config struct {
	BaseURL   string        // default: https://api.mexc.com
	Timeout   time.Duration // default: 10s
	UserAgent string
}

// Client is a thread-safe MEXC REST client.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// Ticker is one entry of the batch 24hr ticker response.
type Ticker struct {
	Symbol string
	Price  float64
	Volume float64
}

// New creates a Client with sane defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// AllTickers fetches the 24hr statistics for every symbol on the exchange
// in a single request. One call per poll tick regardless of how many
// symbols are tracked; filtering happens in the caller.
func (c *Client) AllTickers(ctx context.Context) ([]Ticker, error) {
	raw, err := c.get(ctx, "ticker.24hr", nil)
	if err != nil {
		return nil, err
	}

	var payload []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		Volume    string `json:"volume"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("mexc: decode ticker payload: %w", err)
	}

	tickers := make([]Ticker, 0, len(payload))
	for _, t := range payload {
		if t.Symbol == "" {
			continue
		}
		tickers = append(tickers, Ticker{
			Symbol: t.Symbol,
			Price:  parseFloat(t.LastPrice),
			Volume: parseFloat(t.Volume),
		})
	}
	return tickers, nil
}

// Klines fetches up to limit historical candles for a symbol and timeframe,
// oldest first, already converted into closed engine candles.
// Timeframes without an exchange interval return ErrUnsupportedTimeframe.
func (c *Client) Klines(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	interval, ok := klineIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTimeframe, tf)
	}
	if limit <= 0 || limit > MaxKlineLimit {
		limit = MaxKlineLimit
	}

	raw, err := c.get(ctx, "klines", url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}

	// Each kline is a positional array:
	// [openTimeMs, open, high, low, close, volume, closeTimeMs, ...]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("mexc: decode klines payload: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openTimeMs int64
		if err := json.Unmarshal(row[0], &openTimeMs); err != nil {
			continue
		}
		candles = append(candles, model.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  time.UnixMilli(openTimeMs).UTC(),
			Open:      parseFloatField(row[1]),
			High:      parseFloatField(row[2]),
			Low:       parseFloatField(row[3]),
			Close:     parseFloatField(row[4]),
			Volume:    parseFloatField(row[5]),
			Closed:    true,
		})
	}
	return candles, nil
}

func (c *Client) get(ctx context.Context, route string, params url.Values) ([]byte, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("mexc: unknown route %q", route)
	}
	reqURL := c.baseURL + uri
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mexc: %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mexc: %s: read body: %w", route, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mexc: %s: HTTP %d: %s", route, resp.StatusCode, truncate(raw, 200))
	}
	return raw, nil
}

// parseFloat converts the exchange's string-encoded decimals, treating
// empty and malformed values as zero (absent symbols are filtered later).
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseFloatField handles kline fields that may arrive as JSON strings
// or bare numbers depending on the endpoint version.
func parseFloatField(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloat(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
