package atmosphere

import (
	"log/slog"

	"github.com/gogpu/atmosphere/internal/logging"
)

// SetLogger configures the logger for atmosphere and all its sub-packages.
// By default, atmosphere produces no log output. Call SetLogger to enable
// logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by atmosphere:
//   - [slog.LevelDebug]: per-stage dispatches, pool reuse
//   - [slog.LevelInfo]: device selection
//   - [slog.LevelWarn]: dropped frames, release errors
//
// Example:
//
//	atmosphere.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.Logger()
}
