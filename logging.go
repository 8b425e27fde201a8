package genqueue

import (
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	logifaceslog "github.com/joeycumines/logiface-slog"
)

// Logger is the scheduler's structured logger type, a logiface.Logger
// fronting a log/slog handler via logiface-slog. Every component that
// can fail or transition state logs through this type rather than the
// standard library's log package directly.
type Logger = logiface.Logger[*logifaceslog.Event]

// NewDefaultLogger returns a Logger writing JSON-formatted records to
// os.Stderr at Info level and above, the scheduler's out-of-the-box
// logging configuration.
func NewDefaultLogger() *Logger {
	return NewLoggerFromHandler(slog.NewJSONHandler(os.Stderr, nil))
}

// NewLoggerFromHandler wraps an arbitrary slog.Handler as a Logger,
// letting embedders route scheduler logs into their own logging
// pipeline (e.g. an existing slog.Handler chain).
func NewLoggerFromHandler(handler slog.Handler) *Logger {
	return logiface.New[*logifaceslog.Event](logifaceslog.NewLogger(handler))
}

// NewDisabledLogger returns a Logger that discards everything. Used by
// resolveOptions when no Logger is injected, and by component
// constructors handed a nil Logger.
func NewDisabledLogger() *Logger {
	return logiface.New[*logifaceslog.Event](
		logifaceslog.NewLogger(slog.NewJSONHandler(os.Stderr, nil)),
		logiface.WithLevel[*logifaceslog.Event](logiface.LevelDisabled),
	)
}
