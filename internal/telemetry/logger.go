package telemetry

import (
	"log/slog"
	"os"
)

// InitLogger installs a JSON slog handler as the process-wide default.
func InitLogger(service string) {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler).With("service", service))
}
