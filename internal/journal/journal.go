package journal

import (
	"context"
	"time"
)

// Status tracks one journaled task run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one recorded scheduler task run.
type Entry struct {
	ID          int64      `json:"id"`
	Task        string     `json:"task"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Processed   int        `json:"processed"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
}

// Result closes out a journaled run. A non-nil Err marks the run failed;
// Processed and Failed count the records the run touched either way.
type Result struct {
	Processed int
	Failed    int
	Err       error
}

// Journal records scheduler task runs: one entry opened per run, closed with
// the run's counts. Postgres backs production; sqlite backs local one-shot
// sweeps so operations history survives without a server.
type Journal interface {
	Start(ctx context.Context, task string) (int64, error)
	Finish(ctx context.Context, entryID int64, result Result) error

	// Recent returns the newest entries across all tasks.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// LastPerTask returns each task's most recent entry.
	LastPerTask(ctx context.Context) (map[string]Entry, error)
	// PruneBefore drops entries started before the cutoff. Returns rows removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
