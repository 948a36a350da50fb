package model

import "time"

// PriceSnapshot is one observed (price, volume) reading for a symbol.
// Immutable once created; the poller produces one per symbol per tick.
type PriceSnapshot struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"` // > 0, readings at or below zero are rejected upstream
	Volume float64   `json:"volume"`
	TS     time.Time `json:"ts"`
}
