// Package tasks runs named background jobs, periodically and on demand, and
// keeps the output of their last run.
package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	MaxLogsPerTask = 1000

	DefaultRunTimeout = 5 * time.Minute
)

type Manager struct {
	tasks sync.Map

	runTimeout time.Duration
	observe    RunObserver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ManagerOption func(*Manager)

// WithRunTimeout bounds every single task run.
func WithRunTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.runTimeout = d
	}
}

// WithObserver reports every finished run, e.g. to metrics.
func WithObserver(o RunObserver) ManagerOption {
	return func(m *Manager) {
		m.observe = o
	}
}

func NewManager(opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runTimeout: DefaultRunTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a task. Tasks with a positive interval are scheduled right
// away, the others only run when triggered.
func (m *Manager) Register(name string, interval time.Duration, fn TaskFunc) {
	task := &RunnableTask{
		Name:         name,
		Interval:     interval,
		Handler:      fn,
		Timeout:      m.runTimeout,
		registeredAt: time.Now(),
		observe:      m.observe,
	}
	m.tasks.Store(name, task)

	if interval > 0 {
		m.wg.Add(1)
		go m.scheduler(task)
	}
}

// Trigger starts a run of the task in the background.
// It returns ErrAlreadyRunning instead of queueing a second run.
func (m *Manager) Trigger(name string) error {
	task, err := m.get(name)
	if err != nil {
		return err
	}
	if task.isRunning() {
		return fmt.Errorf("triggering '%s': %w", name, ErrAlreadyRunning)
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		task.Run(m.ctx)
	}()
	return nil
}

// ListStatus returns the status of all tasks, sorted by name.
func (m *Manager) ListStatus() []TaskStatus {
	var list []TaskStatus
	m.tasks.Range(func(_, value any) bool {
		list = append(list, value.(*RunnableTask).Status())
		return true
	})
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

func (m *Manager) GetLogs(name string) ([]LogEntry, error) {
	task, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return task.GetLogs(), nil
}

// Stop cancels running tasks and waits for the schedulers to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) get(name string) (*RunnableTask, error) {
	t, ok := m.tasks.Load(name)
	if !ok {
		return nil, TaskNotFoundError{Name: name}
	}
	return t.(*RunnableTask), nil
}

func (m *Manager) scheduler(task *RunnableTask) {
	defer m.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			task.Run(m.ctx)
		}
	}
}
