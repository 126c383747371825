// Package health provides a minimal readiness check for the Peregrine
// Engine, grounded on the teacher's packages/new/health_check registry
// pattern and kgiusti-go-fdo-server's api/handlers health endpoint, but
// trimmed down to the one thing a headless pipeline needs: a fast,
// synchronous answer to "can an Orchestrator even be constructed right
// now," for callers that want to fail fast before accepting work.
//
// This is not a pipeline stage. It never runs as part of
// orchestrator.Process; it exists for hosts embedding this engine
// (pkg/embed, cmd/peregrine) to call once at startup.
package health

import (
	"fmt"

	"github.com/ERMFox/Peregrine-Engine/internal/provider"
)

// Result is the outcome of a readiness check.
type Result struct {
	Name    string
	OK      bool
	Message string
}

// CheckSecretProvider verifies that sp can produce a non-empty
// SECRET_KEY, the one secret every Orchestrator invocation requires
// (spec.md §3). A missing or empty SECRET_KEY means orchestrator.New
// would fail, so callers can surface that before ever resolving an
// artifact.
func CheckSecretProvider(sp provider.SecretProvider) Result {
	value, ok := sp.Get("SECRET_KEY")
	if !ok || value == "" {
		return Result{
			Name:    "secret_provider",
			OK:      false,
			Message: "SECRET_KEY is not set",
		}
	}
	return Result{Name: "secret_provider", OK: true}
}

// CheckArtifactProvider verifies that probePath resolves under ap
// without error. Callers typically probe a known-good canary artifact
// rather than one that will actually be invoked.
func CheckArtifactProvider(ap provider.ArtifactProvider, probePath string) Result {
	resolved, err := ap.Resolve(probePath)
	if err != nil {
		return Result{
			Name:    "artifact_provider",
			OK:      false,
			Message: fmt.Sprintf("resolve failed: %v", err),
		}
	}
	if _, err := ap.Read(resolved); err != nil {
		return Result{
			Name:    "artifact_provider",
			OK:      false,
			Message: fmt.Sprintf("read failed: %v", err),
		}
	}
	return Result{Name: "artifact_provider", OK: true}
}
