package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger using slog. The level defaults to
// info; ISSUANT_LOG_LEVEL=debug lowers it for local runs.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("ISSUANT_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
