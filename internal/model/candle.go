package model

import (
	"encoding/json"
	"time"
)

// Candle is an OHLC summary of one (symbol, timeframe) bucket.
// OpenTime is the bucket start, aligned to the timeframe boundary.
// While Closed is false the candle is still forming and is mutated in
// place by the tracker; once the next bucket opens it is sealed.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"` // bucket start (UTC, boundary-aligned)
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Closed    bool      `json:"closed"`
}

// Key returns a unique key for this candle's series: "symbol:timeframe".
func (c *Candle) Key() string {
	return c.Symbol + ":" + string(c.Timeframe)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
