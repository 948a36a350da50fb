package model

import "time"

// BackfillState is the lifecycle state of the historical backfill service.
type BackfillState string

const (
	BackfillIdle      BackfillState = "idle"
	BackfillLoading   BackfillState = "loading"
	BackfillCompleted BackfillState = "completed"
	BackfillError     BackfillState = "error"
)

// BackfillStatus is a point-in-time snapshot of backfill progress.
// Only a new backfill request resets it; it never regresses to idle
// on its own while loading.
type BackfillStatus struct {
	State         BackfillState `json:"state"`
	Progress      int           `json:"progress"` // symbols completed (including skipped)
	Total         int           `json:"total"`
	CurrentSymbol string        `json:"current_symbol,omitempty"`
	CandlesMerged int           `json:"candles_merged"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	FinishedAt    time.Time     `json:"finished_at,omitempty"`
}
