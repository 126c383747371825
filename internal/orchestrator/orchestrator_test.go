package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ERMFox/Peregrine-Engine/internal/cipher"
	"github.com/ERMFox/Peregrine-Engine/internal/kdf"
	"github.com/ERMFox/Peregrine-Engine/internal/loader/pluginapi"
	"github.com/ERMFox/Peregrine-Engine/internal/mac"
)

// TestMain re-execs this test binary as a plugin artifact, mirroring
// the loader package's self-exec pattern. Which Plugin gets served is
// selected by PEREGRINE_TEST_PLUGIN_MODE so a single compiled binary
// can stand in for several distinct artifacts across test cases.
func TestMain(m *testing.M) {
	switch os.Getenv("PEREGRINE_TEST_PLUGIN_MODE") {
	case "echo":
		pluginapi.Serve(testMainClass, echoPlugin{})
		return
	case "sleep":
		pluginapi.Serve(sleepMainClass, sleepPlugin{})
		return
	}
	os.Exit(m.Run())
}

const (
	testMainClass  = "TestPlugin"
	sleepMainClass = "SleepyPlugin"
	testSecretKey  = "correct horse battery staple"
)

type echoPlugin struct{}

func (echoPlugin) Execute(req pluginapi.ExecuteRequest) (interface{}, error) {
	var input map[string]interface{}
	if err := json.Unmarshal(req.Input, &input); err != nil {
		return nil, err
	}
	data, _ := input["data"].(string)
	return []byte(data), nil
}

type sleepPlugin struct{}

func (sleepPlugin) Execute(pluginapi.ExecuteRequest) (interface{}, error) {
	time.Sleep(10 * time.Second)
	return []byte("too late"), nil
}

// memorySecrets is an in-memory SecretProvider for tests, avoiding any
// dependency on real environment state.
type memorySecrets struct {
	values map[string]string
}

func (m *memorySecrets) Get(name string) (string, bool) {
	v, ok := m.values[name]
	return v, ok
}

// memoryArtifacts always resolves and reads the same fixed byte slice,
// standing in for the compiled test binary acting as a plugin artifact.
type memoryArtifacts struct {
	data []byte
}

func (m *memoryArtifacts) Resolve(string) (string, error) { return os.Args[0], nil }
func (m *memoryArtifacts) Read(string) ([]byte, error)    { return m.data, nil }

var errArtifactNotFound = errors.New("artifact not found")

type missingArtifacts struct{}

func (missingArtifacts) Resolve(string) (string, error) { return "", errArtifactNotFound }
func (missingArtifacts) Read(string) ([]byte, error)    { return nil, errArtifactNotFound }

func signFixture(secretKey string, artifactBytes []byte) string {
	key := kdf.Derive(secretKey)
	sig := mac.Compute(key[:], artifactBytes)
	return base64.StdEncoding.EncodeToString(sig)
}

func newTestOrchestrator(t *testing.T, artifactBytes []byte, secretOverrides map[string]string) *Orchestrator {
	t.Helper()

	values := map[string]string{"SECRET_KEY": testSecretKey}
	for k, v := range secretOverrides {
		values[k] = v
	}

	o, err := New(&memoryArtifacts{data: artifactBytes}, &memorySecrets{values: values}, nil)
	require.NoError(t, err)
	return o
}

func TestOrchestrator_HappyPath(t *testing.T) {
	artifactBytes := []byte("fake-plugin-binary-contents")
	sig := signFixture(testSecretKey, artifactBytes)
	t.Setenv("PEREGRINE_TEST_PLUGIN_MODE", "echo")

	o := newTestOrchestrator(t, artifactBytes, map[string]string{"PLUGIN_SIG_GREETER": sig})

	meta := map[string]interface{}{
		"fileLocation":    "ignored-by-fixture",
		"pluginName":      "greeter",
		"pluginMainClass": testMainClass,
	}
	input := map[string]interface{}{"data": "hello world"}

	got := o.Process(context.Background(), meta, input, map[string]interface{}{})

	want := base64.StdEncoding.EncodeToString([]byte("hello world"))
	assert.Equal(t, want, got)
}

func TestOrchestrator_URLSafeOutput(t *testing.T) {
	artifactBytes := []byte("fake-plugin-binary-contents")
	sig := signFixture(testSecretKey, artifactBytes)
	t.Setenv("PEREGRINE_TEST_PLUGIN_MODE", "echo")

	o := newTestOrchestrator(t, artifactBytes, map[string]string{"PLUGIN_SIG_GREETER": sig})

	meta := map[string]interface{}{
		"fileLocation":    "ignored-by-fixture",
		"pluginName":      "greeter",
		"pluginMainClass": testMainClass,
		"urlSafeOutput":   true,
	}
	input := map[string]interface{}{"data": "??>>subs<<??"}

	got := o.Process(context.Background(), meta, input, map[string]interface{}{})

	assert.NotContains(t, got, "+")
	assert.NotContains(t, got, "/")
}

func TestOrchestrator_SignatureMismatch(t *testing.T) {
	artifactBytes := []byte("fake-plugin-binary-contents")
	wrongSig := signFixture("a different passphrase entirely", artifactBytes)
	t.Setenv("PEREGRINE_TEST_PLUGIN_MODE", "echo")

	o := newTestOrchestrator(t, artifactBytes, map[string]string{"PLUGIN_SIG_GREETER": wrongSig})

	meta := map[string]interface{}{
		"fileLocation":    "ignored-by-fixture",
		"pluginName":      "greeter",
		"pluginMainClass": testMainClass,
	}

	got := o.Process(context.Background(), meta, map[string]interface{}{"data": "x"}, map[string]interface{}{})
	assert.Equal(t, errVerificationFailed, got)
}

func TestOrchestrator_MissingSignatureSecret(t *testing.T) {
	artifactBytes := []byte("fake-plugin-binary-contents")

	o := newTestOrchestrator(t, artifactBytes, map[string]string{})

	meta := map[string]interface{}{
		"fileLocation":    "ignored-by-fixture",
		"pluginName":      "greeter",
		"pluginMainClass": testMainClass,
	}

	got := o.Process(context.Background(), meta, map[string]interface{}{"data": "x"}, map[string]interface{}{})
	assert.Equal(t, errVerificationFailed, got)
}

func TestOrchestrator_EncryptedInputRoundTrip(t *testing.T) {
	artifactBytes := []byte("fake-plugin-binary-contents")
	sig := signFixture(testSecretKey, artifactBytes)
	t.Setenv("PEREGRINE_TEST_PLUGIN_MODE", "echo")

	o := newTestOrchestrator(t, artifactBytes, map[string]string{"PLUGIN_SIG_GREETER": sig})

	key := kdf.Derive(testSecretKey)
	envelope, err := cipher.Encrypt("secret payload", key[:])
	require.NoError(t, err)
	encodedEnvelope := base64.StdEncoding.EncodeToString(envelope)

	meta := map[string]interface{}{
		"fileLocation":    "ignored-by-fixture",
		"pluginName":      "greeter",
		"pluginMainClass": testMainClass,
		"encryptedInput":  true,
		"encryptOutput":   true,
	}
	input := map[string]interface{}{"data": encodedEnvelope}

	got := o.Process(context.Background(), meta, input, map[string]interface{}{})

	outerEnvelope, err := base64.StdEncoding.DecodeString(got)
	require.NoError(t, err)
	plaintext, err := cipher.Decrypt(outerEnvelope, key[:])
	require.NoError(t, err)
	assert.Equal(t, "secret payload", plaintext)
}

func TestOrchestrator_MissingEncryptedInputData(t *testing.T) {
	artifactBytes := []byte("fake-plugin-binary-contents")
	sig := signFixture(testSecretKey, artifactBytes)

	o := newTestOrchestrator(t, artifactBytes, map[string]string{"PLUGIN_SIG_GREETER": sig})

	meta := map[string]interface{}{
		"fileLocation":    "ignored-by-fixture",
		"pluginName":      "greeter",
		"pluginMainClass": testMainClass,
		"encryptedInput":  true,
	}

	got := o.Process(context.Background(), meta, map[string]interface{}{}, map[string]interface{}{})
	assert.Equal(t, "plugin execution failed: missing input.data", got)
}

func TestOrchestrator_ArtifactMissing(t *testing.T) {
	secrets := &memorySecrets{values: map[string]string{"SECRET_KEY": testSecretKey}}

	o, err := New(missingArtifacts{}, secrets, nil)
	require.NoError(t, err)

	meta := map[string]interface{}{
		"fileLocation":    "does-not-exist",
		"pluginName":      "greeter",
		"pluginMainClass": testMainClass,
	}

	got := o.Process(context.Background(), meta, map[string]interface{}{}, map[string]interface{}{})
	assert.Equal(t, errArtifactMissing, got)
}

func TestOrchestrator_Timeout(t *testing.T) {
	artifactBytes := []byte("fake-plugin-binary-contents")
	sig := signFixture(testSecretKey, artifactBytes)
	t.Setenv("PEREGRINE_TEST_PLUGIN_MODE", "sleep")

	o := newTestOrchestrator(t, artifactBytes, map[string]string{"PLUGIN_SIG_GREETER": sig})

	meta := map[string]interface{}{
		"fileLocation":    "ignored-by-fixture",
		"pluginName":      "greeter",
		"pluginMainClass": sleepMainClass,
	}
	settings := map[string]interface{}{"timeoutMs": 50}

	start := time.Now()
	got := o.Process(context.Background(), meta, map[string]interface{}{"data": "x"}, settings)
	elapsed := time.Since(start)

	assert.Equal(t, errTimedOut, got)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestOrchestrator_MissingSecretKeyFailsConstruction(t *testing.T) {
	secrets := &memorySecrets{values: map[string]string{}}

	_, err := New(missingArtifacts{}, secrets, nil)
	assert.Error(t, err)
}
