// Package journal keeps the most recent command runs in memory so a client
// can drill into a failure by its run ID. Nothing is written to disk.
package journal

import (
	"errors"
	"time"
)

// Record describes one finished command run.
type Record struct {
	ID        string        `json:"run_id"`
	Tool      string        `json:"tool"`
	Command   string        `json:"command"`
	ExitCode  int           `json:"exit_code"`
	Stderr    string        `json:"stderr,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// OK reports whether the run exited successfully.
func (r *Record) OK() bool { return r.ExitCode == 0 }

// ErrNotFound is returned by Load for unknown or evicted run IDs.
var ErrNotFound = errors.New("run not found")

// Store persists and retrieves run records.
type Store interface {
	Save(rec *Record) error
	Load(runID string) (*Record, error)
}
