package logging

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InternalLogger is used by background tasks, so their output can be kept
// with the task as well as written to the process log.
type InternalLogger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

var (
	_ InternalLogger = ZLogger{}
	_ InternalLogger = MultiLogger{}
)

// Discard drops everything.
var Discard InternalLogger = ZLogger{ZLog: zerolog.Nop()}

// ZLogger writes to a zerolog logger.
type ZLogger struct {
	ZLog zerolog.Logger
}

func NewZLogger(zlog zerolog.Logger) ZLogger {
	return ZLogger{ZLog: zlog}
}

// FromContext wraps the logger of ctx, see log.Ctx.
func FromContext(ctx context.Context) ZLogger {
	return ZLogger{ZLog: *log.Ctx(ctx)}
}

func (l ZLogger) Info(format string, args ...any)  { l.ZLog.Info().Msgf(format, args...) }
func (l ZLogger) Warn(format string, args ...any)  { l.ZLog.Warn().Msgf(format, args...) }
func (l ZLogger) Error(format string, args ...any) { l.ZLog.Error().Msgf(format, args...) }

// MultiLogger fans every line out to all of its loggers, in order.
type MultiLogger []InternalLogger

func NewMultiLogger(loggers ...InternalLogger) MultiLogger {
	return loggers
}

func (m MultiLogger) Info(format string, args ...any) {
	m.each(func(l InternalLogger) { l.Info(format, args...) })
}

func (m MultiLogger) Warn(format string, args ...any) {
	m.each(func(l InternalLogger) { l.Warn(format, args...) })
}

func (m MultiLogger) Error(format string, args ...any) {
	m.each(func(l InternalLogger) { l.Error(format, args...) })
}

func (m MultiLogger) each(fn func(InternalLogger)) {
	for _, l := range m {
		fn(l)
	}
}
