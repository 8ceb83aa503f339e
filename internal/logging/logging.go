// Package logging sets up the shared slog.Logger used by both binaries.
// Every call site tags its records with a "component" field, the same
// convention the rest of the codebase already follows ad hoc.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON-handler logger scoped to component, and also installs
// it as the process default so library code that calls slog's package-level
// functions picks up the same handler.
func New(component string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With("component", component)
	slog.SetDefault(logger)
	return logger
}
