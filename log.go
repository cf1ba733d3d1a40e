package gevio

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the abstract logging interface used internally by the hub,
// spawner, timeout scopes and signal adapter for diagnostic output that does
// not belong in a returned error (switch_out hook failures, uncaught task
// failures, events that could not be armed, a failed default SIGINT
// install, and the reactor version logged at hub creation).
//
// Multiple goroutines may call a Logger's methods concurrently.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
}

// zlog adapts zerolog.Logger to the Logger interface.
type zlog struct {
	z zerolog.Logger
}

// NewLogger returns the default Logger, writing JSON lines to w via zerolog.
func NewLogger(w io.Writer) Logger {
	return &zlog{z: zerolog.New(w).With().Timestamp().Logger()}
}

func (l *zlog) with(ev *zerolog.Event, fields map[string]any) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (l *zlog) Debug(msg string, fields map[string]any) {
	l.with(l.z.Debug(), fields).Msg(msg)
}

func (l *zlog) Info(msg string, fields map[string]any) {
	l.with(l.z.Info(), fields).Msg(msg)
}

func (l *zlog) Warn(msg string, fields map[string]any) {
	l.with(l.z.Warn(), fields).Msg(msg)
}

func (l *zlog) Error(msg string, err error, fields map[string]any) {
	l.with(l.z.Error().Err(err), fields).Msg(msg)
}

var (
	defaultLoggerOnce sync.Once
	defaultLoggerVal  Logger
)

// defaultLogger returns the process-wide fallback logger, writing to
// stderr, used by hubs constructed without an explicit Logger option.
func defaultLogger() Logger {
	defaultLoggerOnce.Do(func() {
		defaultLoggerVal = NewLogger(os.Stderr)
	})
	return defaultLoggerVal
}
