package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the process-wide slog default from the logging
// section of the service configuration.
//
// format "json" selects the JSON handler; anything else falls back to the
// text handler for local runs. level accepts "debug", "info", "warn" and
// "error" (case-insensitive) and defaults to "info". Source locations are
// attached only at debug level; the intake path is write-heavy and pays the
// runtime.Caller cost on every submit log line otherwise.
//
// Handlers and middleware log through the package-level slog functions, so
// nothing downstream carries a *slog.Logger.
func SetupLogger(format, level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logging configured", "format", format, "level", lvl.String())
}
