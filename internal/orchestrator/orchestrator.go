// Package orchestrator implements the Orchestrator component
// (spec.md §4.8): the top-level state machine that stitches the Byte
// Codec, Symmetric Cipher, MAC, Key Derivation, Artifact Provider,
// Secret Provider, and Plugin Loader into the six-stage pipeline
// described in spec.md §2 and §4.8.
//
// Process has total function semantics: it always returns a string and
// never panics across its own boundary (spec.md §7). Every short-circuit
// below returns one of the fixed literal strings from spec.md §7's error
// taxonomy.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dromara/carbon/v2"
	"github.com/gobeam/stringy"
	"github.com/spf13/cast"

	"github.com/ERMFox/Peregrine-Engine/internal/cipher"
	"github.com/ERMFox/Peregrine-Engine/internal/codec"
	"github.com/ERMFox/Peregrine-Engine/internal/kdf"
	"github.com/ERMFox/Peregrine-Engine/internal/loader"
	"github.com/ERMFox/Peregrine-Engine/internal/mac"
	"github.com/ERMFox/Peregrine-Engine/internal/provider"
	"github.com/ERMFox/Peregrine-Engine/internal/telemetry"
)

// Fixed literal failure strings from spec.md §7. Observable byte-for-
// byte; do not reword.
const (
	errArtifactMissing      = "plugin doesn't exist or no permissions to access file"
	errVerificationFailed   = "plugin verification failed"
	errTimedOut             = "plugin timed out"
	defaultTimeoutMs  int64 = 5000
)

// Orchestrator is constructed per invocation, consumes one request, and
// produces one string, per the lifecycle in spec.md §3.
type Orchestrator struct {
	artifacts provider.ArtifactProvider
	secrets   provider.SecretProvider
	logger    *slog.Logger
	secretKey [32]byte
}

// New constructs an Orchestrator. It derives and caches the 32-byte
// secret key from the SECRET_KEY secret once, per spec.md §3's
// invariant that secretKey is "derived once per Orchestrator instance"
// and held immutable for the invocation's lifetime.
func New(artifacts provider.ArtifactProvider, secrets provider.SecretProvider, logger *slog.Logger) (*Orchestrator, error) {
	raw, ok := secrets.Get("SECRET_KEY")
	if !ok || raw == "" {
		return nil, fmt.Errorf("orchestrator: SECRET_KEY secret is required but was not found")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		artifacts: artifacts,
		secrets:   secrets,
		logger:    logger,
		secretKey: kdf.Derive(raw),
	}, nil
}

// Process runs the full six-stage pipeline against meta, input, and
// settings (the three JSON sections of an Invocation Request, already
// unmarshaled into maps by the caller) and returns the encoded result
// or one of the fixed failure strings. It never returns an error value
// and never panics to its caller.
func (o *Orchestrator) Process(ctx context.Context, meta, input, settings map[string]interface{}) (result string) {
	invocationID := telemetry.NewInvocationID()
	log := telemetry.WithInvocation(o.logger, invocationID)
	startedAt := carbon.Now()
	clockStart := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("unrecovered internal failure", "panic", r)
			result = "plugin execution failed: internal error"
		}
	}()

	log.Info("invocation started", "started_at", startedAt.ToIso8601String())
	defer func() {
		log.Info("invocation finished", "elapsed", time.Since(clockStart).String())
	}()

	// Stage 1: resolve + read.
	location, _ := cast.ToStringE(meta["fileLocation"])
	path, err := o.artifacts.Resolve(location)
	if err != nil {
		log.Warn("artifact resolve failed", "error", err)
		return errArtifactMissing
	}
	artifactBytes, err := o.artifacts.Read(path)
	if err != nil {
		log.Warn("artifact read failed", "error", err)
		return errArtifactMissing
	}

	// Stage 2: verify MAC.
	pluginName, _ := cast.ToStringE(meta["pluginName"])
	if !o.verify(pluginName, artifactBytes, log) {
		return errVerificationFailed
	}

	// Stage 3: decrypt input (conditional).
	encryptedInput, _ := cast.ToBoolE(meta["encryptedInput"])
	if encryptedInput {
		if err := o.decryptInput(input); err != nil {
			log.Warn("input decryption failed", "error", err)
			return "plugin execution failed: " + err.Error()
		}
	}

	// Stage 4: resolve timeout.
	timeoutMs := o.resolveTimeout(settings)

	// Stage 5: invoke.
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "plugin execution failed: " + err.Error()
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "plugin execution failed: " + err.Error()
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return "plugin execution failed: " + err.Error()
	}

	mainClass, _ := cast.ToStringE(meta["pluginMainClass"])
	log.Debug("dispensing plugin", "plugin_main_class_slug", stringy.New(mainClass).KebabCase().Get())

	ld := loader.New(log)
	defer ld.Close()

	pluginResult := ld.Invoke(ctx, loader.InvokeRequest{
		Path:      path,
		MainClass: mainClass,
		Meta:      metaJSON,
		Input:     inputJSON,
		Settings:  settingsJSON,
		TimeoutMs: timeoutMs,
	})

	// Stage 6: classify.
	var payload []byte
	switch pluginResult.Kind() {
	case loader.KindTimeout:
		log.Error("plugin timed out", "timeout_ms", timeoutMs)
		return errTimedOut
	case loader.KindError:
		log.Error("plugin execution failed", "reason", pluginResult.Reason())
		return "plugin execution failed: " + pluginResult.Reason()
	default:
		payload = pluginResult.Payload()
	}

	// Stage 7: encrypt output (conditional).
	encryptOutput, _ := cast.ToBoolE(meta["encryptOutput"])
	if encryptOutput {
		envelope, err := cipher.Encrypt(string(payload), o.secretKey[:])
		if err != nil {
			log.Warn("output encryption failed", "error", err)
			return "plugin execution failed: " + err.Error()
		}
		payload = envelope
	}

	// Stage 8: encode.
	urlSafe, _ := cast.ToBoolE(meta["urlSafeOutput"])
	if urlSafe {
		return codec.EncodeURLSafe(payload)
	}
	return codec.EncodeStandard(payload)
}

// verify checks the artifact's HMAC-SHA256 signature against the
// secret stored under PLUGIN_SIG_<UPPER(pluginName with '-' -> '_')>.
func (o *Orchestrator) verify(pluginName string, artifactBytes []byte, log *slog.Logger) bool {
	key := signatureSecretName(pluginName)

	expectedB64, ok := o.secrets.Get(key)
	if !ok {
		log.Warn("no signature secret configured", "secret_name", key)
		return false
	}

	expected, err := codec.DecodeStandard(expectedB64)
	if err != nil {
		log.Warn("signature secret is not valid base64", "secret_name", key)
		return false
	}

	return mac.Verify(o.secretKey[:], artifactBytes, expected)
}

// signatureSecretName computes "PLUGIN_SIG_" + uppercase(replace(name,
// "-", "_")). This transform is load-bearing for signature lookup and
// must match spec.md §3's definition byte-for-byte, so it is built from
// stdlib string operations rather than a case-conversion library — see
// SPEC_FULL.md §A.2 for why gobeam/stringy's SnakeCase/CamelCase/KebabCase
// converters are not a safe substitute here.
func signatureSecretName(pluginName string) string {
	normalized := strings.ReplaceAll(pluginName, "-", "_")
	return "PLUGIN_SIG_" + strings.ToUpper(normalized)
}

// decryptInput rewrites input["data"] in place from a Base64 AES-GCM
// ciphertext to its decrypted UTF-8 plaintext, per spec.md §4.8-3.
//
// spec.md §9 Open Question 1 asks what happens when encryptedInput is
// true but input.data is absent; this implementation's answer is a
// pipeline-level failure rather than the source's null-dereference
// crash (see SPEC_FULL.md §D.1).
func (o *Orchestrator) decryptInput(input map[string]interface{}) error {
	raw, exists := input["data"]
	if !exists {
		return fmt.Errorf("missing input.data")
	}

	encoded, err := cast.ToStringE(raw)
	if err != nil {
		return fmt.Errorf("input.data is not a string")
	}

	envelope, err := codec.DecodeStandard(encoded)
	if err != nil {
		return fmt.Errorf("input.data is not valid base64: %w", err)
	}

	plaintext, err := cipher.Decrypt(envelope, o.secretKey[:])
	if err != nil {
		return fmt.Errorf("input.data could not be decrypted: %w", err)
	}

	input["data"] = plaintext
	return nil
}

// resolveTimeout implements spec.md §4.8-4's priority chain:
// settings.timeoutMs, then the PLUGIN_TIMEOUT_MS secret, then 5000ms.
// A non-numeric value at either of the first two tiers is silently
// skipped, not treated as a pipeline failure.
func (o *Orchestrator) resolveTimeout(settings map[string]interface{}) int64 {
	if raw, exists := settings["timeoutMs"]; exists {
		if n, err := cast.ToInt64E(raw); err == nil {
			return n
		}
	}

	if raw, ok := o.secrets.Get("PLUGIN_TIMEOUT_MS"); ok {
		if n, err := cast.ToInt64E(raw); err == nil {
			return n
		}
	}

	return defaultTimeoutMs
}
