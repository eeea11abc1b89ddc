package model

import (
	"time"

	"github.com/google/uuid"
)

// Event describes the outcome of one image in one stage of a run.
type Event struct {
	RunID     uuid.UUID `json:"run_id"`
	Stage     Stage     `json:"stage"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"` // done / skipped / failed
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Failure pairs a filename with the error that stopped it.
type Failure struct {
	Filename string
	Err      error
}

// Summary aggregates the per-item results of a single stage.
type Summary struct {
	Stage    Stage
	Total    int
	Done     int
	Skipped  int
	Failures []Failure
}

// Failed returns the number of items that did not complete.
func (s Summary) Failed() int {
	return len(s.Failures)
}
