package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
)

func TestManager_TriggerAndLogs(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Stop)

	done := make(chan struct{})
	m.Register("keys.refresh.ci", 0, func(ctx context.Context, logger logging.InternalLogger) error {
		defer close(done)
		logger.Info("fetched %d keys", 2)
		return nil
	})
	m.Register("broken", 0, func(context.Context, logging.InternalLogger) error {
		return errors.New("boom")
	})

	require.NoError(t, m.Trigger("keys.refresh.ci"))
	<-done

	require.Eventually(t, func() bool {
		s := m.ListStatus()
		return len(s) == 2 && s[1].LastResult == "success"
	}, time.Second, 10*time.Millisecond)

	status := m.ListStatus()
	assert.Equal(t, "broken", status[0].Name)
	assert.True(t, status[1].NextRun.IsZero(), "manual tasks are never scheduled")

	logs, err := m.GetLogs("keys.refresh.ci")
	require.NoError(t, err)
	var messages []string
	for _, l := range logs {
		messages = append(messages, l.Message)
	}
	assert.Contains(t, messages, "fetched 2 keys")

	var notFound TaskNotFoundError
	assert.ErrorAs(t, m.Trigger("nope"), &notFound)
	_, err = m.GetLogs("nope")
	assert.ErrorAs(t, err, &notFound)
}

func TestManager_FailedRunIsReported(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Stop)

	m.Register("broken", 0, func(context.Context, logging.InternalLogger) error {
		return errors.New("boom")
	})
	require.NoError(t, m.Trigger("broken"))

	require.Eventually(t, func() bool {
		return m.ListStatus()[0].LastResult == "failed: boom"
	}, time.Second, 10*time.Millisecond)
}

func TestManager_ScheduledRunsStopWithManager(t *testing.T) {
	m := NewManager(WithRunTimeout(time.Second))

	runs := make(chan struct{}, 100)
	m.Register("tick", 10*time.Millisecond, func(ctx context.Context, _ logging.InternalLogger) error {
		runs <- struct{}{}
		return nil
	})

	require.Eventually(t, func() bool { return len(runs) >= 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, m.ListStatus()[0].NextRun.IsZero())

	m.Stop()
	seen := len(runs)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, len(runs))
}

func TestManager_TriggerWhileRunning(t *testing.T) {
	type run struct {
		task string
		err  error
	}
	observed := make(chan run, 1)
	m := NewManager(WithObserver(func(task string, _ time.Duration, err error) {
		observed <- run{task, err}
	}))
	t.Cleanup(m.Stop)

	started, release := make(chan struct{}), make(chan struct{})
	m.Register("policies.sync", 0, func(ctx context.Context, _ logging.InternalLogger) error {
		close(started)
		<-release
		return errors.New("repo unavailable")
	})

	require.NoError(t, m.Trigger("policies.sync"))
	<-started
	assert.ErrorIs(t, m.Trigger("policies.sync"), ErrAlreadyRunning)
	close(release)

	got := <-observed
	assert.Equal(t, "policies.sync", got.task)
	assert.EqualError(t, got.err, "repo unavailable")

	require.Eventually(t, func() bool { return !m.ListStatus()[0].Running }, time.Second, 5*time.Millisecond)
	status := m.ListStatus()[0]
	assert.Equal(t, 1, status.Runs)
	assert.Equal(t, 1, status.Failures)
}
