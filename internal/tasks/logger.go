package tasks

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
)

var _ logging.InternalLogger = (*storeLogger)(nil)

// storeLogger appends to the log of a task.
type storeLogger struct {
	task *RunnableTask
}

func (s storeLogger) Info(format string, args ...any) {
	s.task.AppendLog("info", fmt.Sprintf(format, args...))
}

func (s storeLogger) Warn(format string, args ...any) {
	s.task.AppendLog("warn", fmt.Sprintf(format, args...))
}

func (s storeLogger) Error(format string, args ...any) {
	s.task.AppendLog("error", fmt.Sprintf(format, args...))
}

// NewCompositeLogger creates a MultiLogger that logs to both zerolog and the task store.
func NewCompositeLogger(task *RunnableTask, zlog zerolog.Logger) logging.MultiLogger {
	return logging.NewMultiLogger(
		logging.NewZLogger(zlog),
		storeLogger{task: task},
	)
}
