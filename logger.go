package narwhal

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with database-specific helpers. Components
// receive it through options; the default discards everything.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler
// falls back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger emitting JSON lines at the given
// level.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a human-readable Logger at the given level.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	}))}
}

// WithNamespace tags log lines with a namespace name.
func (l *Logger) WithNamespace(name string) *Logger {
	return &Logger{Logger: l.Logger.With("namespace", name)}
}

// Infof adapts the structured logger to the namespace package's
// printf-style interface.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(sprintf(format, args...))
}

// Errorf adapts the structured logger to the namespace package's
// printf-style interface.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(sprintf(format, args...))
}
