// Package embed is the embedded entry point (spec.md §6.2): a single
// callable accepting the three JSON sections as strings and returning
// the encoded result, or a failure string, with semantics identical to
// the CLI (cmd/peregrine).
//
// Host processes that want to drive the engine in-process — without
// shelling out to the peregrine binary — depend on this package
// instead of internal/orchestrator directly, since internal/ packages
// are not importable outside this module.
package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ERMFox/Peregrine-Engine/internal/health"
	"github.com/ERMFox/Peregrine-Engine/internal/orchestrator"
	"github.com/ERMFox/Peregrine-Engine/internal/provider"
)

// Engine is a constructed, ready-to-invoke embedding of the Peregrine
// pipeline. Construct one with New and reuse it across invocations;
// unlike the CLI, an embedding host is expected to live long enough to
// amortize that construction cost.
type Engine struct {
	orch      *orchestrator.Orchestrator
	artifacts provider.ArtifactProvider
	secrets   provider.SecretProvider
}

// Option configures New.
type Option func(*config)

type config struct {
	artifactRoot string
	envFile      string
	logger       *slog.Logger
}

// WithArtifactRoot confines artifact resolution to root, per
// internal/provider.FileArtifactProvider's optional root confinement.
func WithArtifactRoot(root string) Option {
	return func(c *config) { c.artifactRoot = root }
}

// WithEnvFile merges the given dotenv-style file beneath real
// environment variables when resolving secrets.
func WithEnvFile(path string) Option {
	return func(c *config) { c.envFile = path }
}

// WithLogger overrides the default logger used for the engine's
// lifecycle and stage events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// New constructs an Engine. It fails only if the environment cannot
// supply a usable SECRET_KEY secret (spec.md §3).
func New(opts ...Option) (*Engine, error) {
	var c config
	for _, opt := range opts {
		opt(&c)
	}

	artifacts := provider.NewFileArtifactProvider(c.artifactRoot)
	secrets := provider.NewViperSecretProvider(c.envFile)

	orch, err := orchestrator.New(artifacts, secrets, c.logger)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	return &Engine{orch: orch, artifacts: artifacts, secrets: secrets}, nil
}

// Ready reports whether this Engine's Secret Provider currently has the
// secret an invocation requires, without running a pipeline. It is a
// convenience wrapper around internal/health.CheckSecretProvider.
func (e *Engine) Ready() health.Result {
	return health.CheckSecretProvider(e.secrets)
}

// Invoke runs one pipeline invocation against the three JSON sections,
// matching the CLI's semantics exactly (spec.md §6.2): it returns the
// encoded success payload or a fixed failure string, never an error.
func (e *Engine) Invoke(ctx context.Context, metaJSON, inputJSON, settingsJSON string) string {
	meta, err := unmarshalSection(metaJSON)
	if err != nil {
		return "plugin execution failed: malformed meta JSON"
	}
	input, err := unmarshalSection(inputJSON)
	if err != nil {
		return "plugin execution failed: malformed input JSON"
	}
	settings, err := unmarshalSection(settingsJSON)
	if err != nil {
		return "plugin execution failed: malformed settings JSON"
	}

	return e.orch.Process(ctx, meta, input, settings)
}

func unmarshalSection(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
