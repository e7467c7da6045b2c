package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/google/wire"
)

var LoggingSet = wire.NewSet(
	NewLogger,
)

// NewLogger creates the process-wide logger. The level is taken from
// CHAINPROOF_LOG_LEVEL; components derive their own loggers with
// log.With("component", ...).
func NewLogger() *slog.Logger {
	level := slog.LevelInfo

	if val := strings.ToLower(os.Getenv("CHAINPROOF_LOG_LEVEL")); val != "" {
		switch val {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			// unknown value, keep default
		}
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source := a.Value.Any().(*slog.Source)
				source.File = shortPath(source.File)
			}
			return a
		},
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)

	return slog.New(handler)
}

// shortPath trims the module prefix from source file paths.
func shortPath(file string) string {
	if idx := strings.Index(file, "chainproof/"); idx != -1 {
		return file[idx+len("chainproof/"):]
	}
	parts := strings.Split(file, "/")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return file
}
