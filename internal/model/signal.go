package model

import (
	"encoding/json"
	"time"
)

// Signal direction values.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Signal records a same-direction price acceleration: the latest closed
// candle's delta exceeded the trailing average delta by the configured
// ratio. Immutable once created.
type Signal struct {
	ID        int64     `json:"id"`
	TS        time.Time `json:"ts"`
	Symbol    string    `json:"symbol"`
	Ratio     float64   `json:"ratio"`
	Direction string    `json:"direction"` // "up" or "down"
	LastDelta float64   `json:"last_delta"`
	AvgDelta  float64   `json:"avg_delta"`
}

// JSON returns the JSON-encoded signal (ignoring errors for hot-path usage).
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
