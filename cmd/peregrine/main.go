// Command peregrine is the CLI surface for the Peregrine Engine
// (spec.md §6.1), structured the way kgiusti-go-fdo-server's cmd
// package builds a cobra root command, but collapsed to a single
// command since this CLI has no subcommands — just an argument-arity
// switch between stdin mode and three-argument mode.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ERMFox/Peregrine-Engine/internal/telemetry"
	"github.com/ERMFox/Peregrine-Engine/pkg/embed"
)

var (
	artifactRoot string
	envFile      string
	debug        bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "peregrine",
	Short: "Run a single plugin invocation through the Peregrine execution pipeline",
	Args:  exactlyZeroOrThreeArgs,
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&artifactRoot, "artifact-root", "", "confine artifact resolution to this directory")
	rootCmd.Flags().StringVar(&envFile, "env-file", "", "optional .env-style overlay for secrets")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")
}

// exactlyZeroOrThreeArgs enforces spec.md §6.1's invocation-mode
// constraint. The message must name "0 or 3 arguments" verbatim. Along
// with a missing SECRET_KEY and unreadable or malformed stdin JSON, it
// is one of the fatal, nonzero-exit paths in this CLI; pipeline failures
// are reported through stdout content instead.
func exactlyZeroOrThreeArgs(_ *cobra.Command, args []string) error {
	if len(args) == 0 || len(args) == 3 {
		return nil
	}
	return fmt.Errorf("peregrine requires 0 or 3 arguments, got %d", len(args))
}

func run(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := telemetry.Init(level)

	engine, err := embed.New(
		embed.WithArtifactRoot(artifactRoot),
		embed.WithEnvFile(envFile),
		embed.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var metaJSON, inputJSON, settingsJSON string
	if len(args) == 3 {
		metaJSON, inputJSON, settingsJSON = args[0], args[1], args[2]
	} else {
		sections, err := readStdinSections(cmd.InOrStdin())
		if err != nil {
			return err
		}
		metaJSON, inputJSON, settingsJSON = sections.meta, sections.input, sections.settings
	}

	result := engine.Invoke(context.Background(), metaJSON, inputJSON, settingsJSON)
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

type stdinSections struct {
	meta     string
	input    string
	settings string
}

// readStdinSections reads a single JSON object from r with top-level
// keys meta, input, settings (spec.md §6.1's 0-argument mode) and
// re-serializes each section back to its own JSON string, since
// embed.Engine.Invoke takes the three sections independently.
func readStdinSections(r io.Reader) (stdinSections, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return stdinSections{}, fmt.Errorf("reading stdin: %w", err)
	}

	var envelope struct {
		Meta     json.RawMessage `json:"meta"`
		Input    json.RawMessage `json:"input"`
		Settings json.RawMessage `json:"settings"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return stdinSections{}, fmt.Errorf("parsing stdin JSON: %w", err)
	}

	return stdinSections{
		meta:     rawOrEmptyObject(envelope.Meta),
		input:    rawOrEmptyObject(envelope.Input),
		settings: rawOrEmptyObject(envelope.Settings),
	}, nil
}

func rawOrEmptyObject(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
