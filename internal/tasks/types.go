package tasks

import (
	"context"
	"time"

	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
)

// TaskFunc is the unit of work. Everything written to logger is kept with the
// task until its next run.
type TaskFunc func(ctx context.Context, logger logging.InternalLogger) error

// RunObserver is called after every finished run, err is nil on success.
type RunObserver func(task string, took time.Duration, err error)

type TaskStatus struct {
	Name       string    `json:"name,omitempty"`
	Running    bool      `json:"running,omitempty"`
	LastRun    time.Time `json:"last_run"`
	LastResult string    `json:"last_result,omitempty"`
	NextRun    time.Time `json:"next_run"`

	LastDuration time.Duration `json:"last_duration,omitempty"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
}

type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level,omitempty"`
	Message string    `json:"message,omitempty"`
}
