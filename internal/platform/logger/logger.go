package logger

import (
	"log/slog"
	"os"
)

// New returns the JSON logger used across the SDK. Hosts that want their own
// handler pass a *slog.Logger through the engine's WithLogger option instead.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
