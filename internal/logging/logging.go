// ABOUTME: slog configuration shared by the command-line tools
// ABOUTME: Maps a settings log level name onto the default logger
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Configure installs the default slog logger at the named level.
// Valid levels are "none", "error", "warn", "info" and "debug".
func Configure(level string) error {
	var opts slog.HandlerOptions

	switch level {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return fmt.Errorf("logging: unknown level %q", level)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &opts)))
	return nil
}
