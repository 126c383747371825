package provider

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// SecretProvider looks up named secrets from the ambient key-value
// store. Missing keys are reported via the second return value rather
// than an error — callers interpret absence per context (spec.md §4.6).
type SecretProvider interface {
	Get(name string) (string, bool)
}

// ViperSecretProvider is the default SecretProvider: environment
// variables with an optional ".env"-style overlay file, environment
// taking precedence, following the teacher's EnvDriver
// (packages/config/src/drivers/env_driver.go) but trimmed to the single
// Get operation the Orchestrator actually needs.
type ViperSecretProvider struct {
	v *viper.Viper
}

// NewViperSecretProvider builds a SecretProvider backed by viper.
// envFile, if non-empty and present on disk, is merged in as a lower
// priority layer beneath real environment variables (e.g. a local
// ".env" used outside of a container or CI environment). Secret and
// config keys map 1:1 onto environment variable names — no prefixing,
// no dot-to-underscore translation — because this engine's secret names
// (SECRET_KEY, PLUGIN_SIG_*, PLUGIN_TIMEOUT_MS) are already
// environment-variable-shaped.
func NewViperSecretProvider(envFile string) *ViperSecretProvider {
	v := viper.New()
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			// A missing or malformed overlay is not fatal: real
			// environment variables remain authoritative either way.
			_ = v.MergeInConfig()
		}
	}

	return &ViperSecretProvider{v: v}
}

// Get looks up name, preferring a real environment variable over any
// value merged in from the optional overlay file.
func (p *ViperSecretProvider) Get(name string) (string, bool) {
	if raw, ok := os.LookupEnv(name); ok {
		return raw, true
	}

	if !p.v.IsSet(name) {
		return "", false
	}

	value := strings.TrimSpace(p.v.GetString(name))
	if value == "" {
		return "", false
	}
	return value, true
}

var _ SecretProvider = (*ViperSecretProvider)(nil)
