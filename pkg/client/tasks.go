package client

import (
	"context"
	"fmt"

	"github.com/MikeDominic92/keyless-kingdom/internal/api"
	"github.com/MikeDominic92/keyless-kingdom/internal/tasks"
)

// ListTasks returns the status of all background tasks of the server, sorted by name.
func (c *Client) ListTasks(ctx context.Context) ([]tasks.TaskStatus, error) {
	var res []tasks.TaskStatus
	_, err := c.get(ctx, c.url().setPath(api.ListTasksRoute).build(), &res)
	return res, err
}

// TaskStatus returns the status of a single task.
func (c *Client) TaskStatus(ctx context.Context, name string) (*tasks.TaskStatus, error) {
	all, err := c.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.Name == name {
			return &s, nil
		}
	}
	return nil, tasks.TaskNotFoundError{Name: name}
}

// TriggerTask starts a run of the task. A task that is already running is
// reported as an APIError with status 409.
func (c *Client) TriggerTask(ctx context.Context, name string) error {
	var res api.TriggerTaskResponse
	u := c.url().setPath(api.TriggerTaskRoute).setPathParam("name", name).build()
	if _, err := c.post(ctx, u, nil, &res); err != nil {
		return err
	}
	if res.Status != "triggered" {
		return fmt.Errorf("unexpected trigger status '%s'", res.Status)
	}
	return nil
}

// GetTaskLogs returns the log of the current or last run of the task.
func (c *Client) GetTaskLogs(ctx context.Context, name string) ([]tasks.LogEntry, error) {
	var res []tasks.LogEntry
	u := c.url().setPath(api.LogsForTaskRoute).setPathParam("name", name).build()
	_, err := c.get(ctx, u, &res)
	return res, err
}
