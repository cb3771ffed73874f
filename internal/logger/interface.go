package logger

import (
	"io"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"github.com/rs/zerolog"
)

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
	With(component string) Logger
}

type zlogger struct {
	l *zerolog.Logger
}

// Default returns a Logger backed by the package logger set up in Init.
func Default() Logger {
	return zlogger{l: &log}
}

// New returns a Logger writing JSON lines to w. Tests use it to capture output.
func New(w io.Writer) Logger {
	l := zerolog.New(w).With().Timestamp().Logger()
	return zlogger{l: &l}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	l := zerolog.Nop()
	return zlogger{l: &l}
}

func (z zlogger) Debug() *LogEvent { return &LogEvent{z.l.Debug()} }
func (z zlogger) Info() *LogEvent  { return &LogEvent{z.l.Info()} }
func (z zlogger) Warn() *LogEvent  { return &LogEvent{z.l.Warn()} }
func (z zlogger) Error() *LogEvent { return &LogEvent{z.l.Error()} }

func (z zlogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(z.l.Error(), err)}
}

func (z zlogger) With(component string) Logger {
	l := z.l.With().Str("component", component).Logger()
	return zlogger{l: &l}
}
