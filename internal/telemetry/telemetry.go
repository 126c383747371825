// Package telemetry wires the engine's structured logging, following
// kgiusti-go-fdo-server's cmd/root.go: log/slog as the API, with
// hermannm.dev/devlog as the human-facing handler.
//
// spec.md §7 names five levels: TRACE, DEBUG, INFO, WARN, ERROR. slog
// only ships the latter four; LevelTrace extends it below LevelDebug,
// the same way slog documents defining custom levels.
package telemetry

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"hermannm.dev/devlog"
)

// LevelTrace sits below slog.LevelDebug for intra-stage detail that
// even DEBUG logging would find too noisy (spec.md §7: "TRACE
// (intra-stage)").
const LevelTrace = slog.LevelDebug - 4

// Init installs the process-wide default logger: a devlog handler over
// os.Stdout, filtered at minLevel. Call once at process start, matching
// the single-shot slog.SetDefault in the teacher's cmd/root.go init().
func Init(minLevel slog.Level) *slog.Logger {
	var level slog.LevelVar
	level.Set(minLevel)

	handler := devlog.NewHandler(os.Stdout, &devlog.Options{Level: &level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// NewInvocationID mints a correlation id for a single Orchestrator
// invocation, attached to every log record it emits.
func NewInvocationID() string {
	return uuid.NewString()
}

// WithInvocation returns a logger annotated with invocationID, for use
// across one Process() call.
func WithInvocation(logger *slog.Logger, invocationID string) *slog.Logger {
	return logger.With(slog.String("invocation_id", invocationID))
}

// Trace logs at LevelTrace. There is no slog.Logger.Trace convenience
// method upstream, so this helper stands in for it.
func Trace(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Log(ctx, LevelTrace, msg, args...)
}
