package rdl

import (
	"log/slog"
	"os"
)

// newLogger builds a logger for internal use, honoring the Debug/Verbose/
// Silent options the same way the CLI layer does for its own output.
func newLogger(o Option) *slog.Logger {
	level := slog.LevelWarn
	if o.Debug {
		level = slog.LevelDebug
	}
	if o.Verbose {
		level = slog.LevelInfo
	}
	if o.Silent {
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	})
	return slog.New(handler)
}
