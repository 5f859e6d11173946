package models

import (
	"time"
)

// CycleResult is the ordered set of records produced by one pass over the
// watchlist. Apps whose detail fetch failed are listed in Failed and are
// absent from Games.
type CycleResult struct {
	ID        string
	StartedAt time.Time
	Watched   int
	Games     []Game
	Failed    []int
	// Interrupted is set when the context was cancelled before every app
	// was attempted.
	Interrupted bool
}

// CycleReport summarizes a completed cycle for reporters (notifications,
// event streams, the status endpoint).
type CycleReport struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Watched       int       `json:"watched"`
	Fetched       int       `json:"fetched"`
	Failed        []int     `json:"failed"`
	Discounts     int       `json:"discounts"`
	WithPlayers   int       `json:"with_players"`
	TotalPlayers  int64     `json:"total_players"`
	PersistErrors []string  `json:"persist_errors,omitempty"`
}

// Healthy reports whether the cycle fetched at least one app and wrote
// every view.
func (r *CycleReport) Healthy() bool {
	return r.Fetched > 0 && len(r.PersistErrors) == 0
}

// Duration returns how long the cycle took.
func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
