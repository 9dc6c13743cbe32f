package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const resultSuccess = "success"

type RunnableTask struct {
	Name     string
	Interval time.Duration
	Handler  TaskFunc
	Timeout  time.Duration

	registeredAt time.Time
	observe      RunObserver

	mu           sync.RWMutex
	running      bool
	lastRun      time.Time
	lastResult   string
	lastDuration time.Duration
	runs         int
	failures     int
	logs         []LogEntry
}

func (t *RunnableTask) isRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// begin marks the task as running and drops the logs of the previous run.
// It reports false if another run holds the task.
func (t *RunnableTask) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	t.logs = nil
	return true
}

func (t *RunnableTask) finish(took time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = false
	t.lastRun = time.Now()
	t.lastDuration = took
	t.runs++
	if err != nil {
		t.failures++
		t.lastResult = fmt.Sprintf("failed: %v", err)
	} else {
		t.lastResult = resultSuccess
	}
}

// Run executes the handler once within the task timeout. Overlapping runs are skipped.
func (t *RunnableTask) Run(ctx context.Context) {
	l := log.With().Str("task", t.Name).Logger()
	if !t.begin() {
		l.Warn().Msg("task is already running, skipping execution")
		return
	}

	taskLogger := NewCompositeLogger(t, l)
	taskLogger.Info("starting task execution")

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(l.WithContext(ctx), timeout)
	defer cancel()

	start := time.Now()
	err := t.Handler(ctx, taskLogger)
	took := time.Since(start)

	if err != nil {
		taskLogger.Error("task failed after %s: %v", took, err)
	} else {
		taskLogger.Info("task completed successfully in %s", took)
	}
	t.finish(took, err)

	if t.observe != nil {
		t.observe(t.Name, took, err)
	}
}

func (t *RunnableTask) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var next time.Time
	if t.Interval > 0 {
		from := t.lastRun
		if from.IsZero() {
			from = t.registeredAt
		}
		next = from.Add(t.Interval)
	}

	return TaskStatus{
		Name:         t.Name,
		Running:      t.running,
		LastRun:      t.lastRun,
		LastResult:   t.lastResult,
		NextRun:      next,
		LastDuration: t.lastDuration,
		Runs:         t.runs,
		Failures:     t.failures,
	}
}

// GetLogs returns a copy of the log of the current or last run.
func (t *RunnableTask) GetLogs() []LogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]LogEntry, len(t.logs))
	copy(out, t.logs)
	return out
}

// AppendLog keeps at most MaxLogsPerTask entries, dropping the oldest.
func (t *RunnableTask) AppendLog(level, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logs = append(t.logs, LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
	})
	if over := len(t.logs) - MaxLogsPerTask; over > 0 {
		t.logs = t.logs[over:]
	}
}
