package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord summarizes one pipeline run.
type RunRecord struct {
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Trigger        string    `json:"trigger"`
	Fetched        int       `json:"fetched"`
	Selected       int       `json:"selected"`
	SourceFailures []string  `json:"source_failures,omitempty"`
	Reminders      int       `json:"reminders"`
	Delivered      int       `json:"delivered"`
	Recipients     int       `json:"recipients"`
	Error          string    `json:"error,omitempty"`
}

// Took is the wall time of the run.
func (r RunRecord) Took() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
