package tasks

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Trigger while a run of the task is in progress.
var ErrAlreadyRunning = errors.New("task is already running")

type TaskNotFoundError struct {
	Name string
}

func (e TaskNotFoundError) Error() string {
	return fmt.Sprintf("task '%s' not found", e.Name)
}
