// Package loader implements the Plugin Loader component (spec.md §4.7):
// given an artifact path, an entry-symbol name, and the three JSON
// sections, invoke the plugin under a wall-clock timeout and return a
// PluginResult.
//
// spec.md §9 leaves the isolation backend as an implementation choice
// among a framed-stdio subprocess, a dynamically loaded shared object,
// or a WASM runtime. This implementation picks the subprocess option —
// github.com/hashicorp/go-plugin — because it gives the strongest
// isolation and the simplest, most forceful cancellation of the three,
// both explicitly called out as reasons to prefer it in spec.md §9. See
// SPEC_FULL.md §C for the full rationale.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/ERMFox/Peregrine-Engine/internal/loader/pluginapi"
)

// InvokeRequest bundles everything one Plugin Loader invocation needs.
type InvokeRequest struct {
	// Path is the artifact's filesystem location, already resolved and
	// signature-verified by the Orchestrator.
	Path string
	// MainClass is meta.pluginMainClass — the RPC dispense name.
	MainClass string
	// Meta, Input, and Settings are the three JSON sections, already
	// marshaled to raw JSON (Input.data has already been decrypted by
	// the Orchestrator, if applicable, before this struct is built).
	Meta     json.RawMessage
	Input    json.RawMessage
	Settings json.RawMessage
	// TimeoutMs is the resolved wait budget. Non-positive means wait
	// indefinitely, per spec.md §4.7.
	TimeoutMs int64
}

// Loader owns one worker-pool resource (here, the bookkeeping needed to
// force-kill any subprocess it spawned) for the lifetime of one
// Orchestrator invocation. Create one per invocation; call Close when
// the pipeline is done, successful or not (spec.md §3).
type Loader struct {
	logger *slog.Logger

	mu     sync.Mutex
	active map[*plugin.Client]struct{}
}

// New constructs a Loader. logger may be nil, in which case
// slog.Default() is used.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger: logger,
		active: make(map[*plugin.Client]struct{}),
	}
}

// Invoke loads req.Path into a fresh isolated subprocess, dispenses
// req.MainClass, calls Execute once, and waits at most req.TimeoutMs
// for a result, classifying the outcome per the table in spec.md §4.7.
//
// The subprocess (and therefore its "dynamic namespace") is created
// immediately before the call and killed immediately after, on every
// exit path — success, deterministic failure, or timeout — satisfying
// spec.md §4.7's isolation requirement without relying on the plugin's
// own cooperation.
func (l *Loader) Invoke(ctx context.Context, req InvokeRequest) Result {
	if req.MainClass == "" {
		return Failed("missing pluginMainClass in metadata")
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: pluginapi.Handshake,
		Plugins: map[string]plugin.Plugin{
			req.MainClass: &pluginapi.RPCPlugin{},
		},
		Cmd:              exec.Command(req.Path),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		Logger:           hclog.New(&hclog.LoggerOptions{Output: io.Discard, Level: hclog.Off}),
	})

	l.track(client)

	done := make(chan Result, 1)
	go func() {
		done <- l.run(client, req)
	}()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if req.TimeoutMs > 0 {
		timer = time.NewTimer(time.Duration(req.TimeoutMs) * time.Millisecond)
		timeoutCh = timer.C
		defer timer.Stop()
	}

	select {
	case res := <-done:
		l.release(client)
		return res
	case <-timeoutCh:
		l.logger.Warn("plugin invocation timed out", "plugin_main_class", req.MainClass, "timeout_ms", req.TimeoutMs)
		// Kill asynchronously: the loader must stop waiting
		// immediately and must not block on the worker's actual exit
		// (spec.md §4.7 and §5).
		go l.release(client)
		return TimedOut()
	case <-ctx.Done():
		go l.release(client)
		return Failed(fmt.Sprintf("plugin exception: %v", ctx.Err()))
	}
}

// Close force-kills any subprocess this Loader started that has not
// already been released, reclaiming every thread/handle it spawned
// (spec.md §3). Call once, after the owning pipeline is fully done.
func (l *Loader) Close() {
	l.mu.Lock()
	clients := make([]*plugin.Client, 0, len(l.active))
	for c := range l.active {
		clients = append(clients, c)
	}
	l.active = make(map[*plugin.Client]struct{})
	l.mu.Unlock()

	for _, c := range clients {
		c.Kill()
	}
}

func (l *Loader) track(c *plugin.Client) {
	l.mu.Lock()
	l.active[c] = struct{}{}
	l.mu.Unlock()
}

func (l *Loader) release(c *plugin.Client) {
	l.mu.Lock()
	_, tracked := l.active[c]
	delete(l.active, c)
	l.mu.Unlock()

	if tracked {
		c.Kill()
	}
}

// run performs the actual load-dispense-execute sequence. It is the
// work submitted to the Loader's worker goroutine in Invoke.
func (l *Loader) run(client *plugin.Client, req InvokeRequest) Result {
	rpcClient, err := client.Client()
	if err != nil {
		return Failed(fmt.Sprintf("plugin exception: %v", err))
	}

	raw, err := rpcClient.Dispense(req.MainClass)
	if err != nil {
		return Failed(fmt.Sprintf("plugin exception: %v", err))
	}

	impl, ok := raw.(pluginapi.Plugin)
	if !ok {
		return Failed("plugin exception: dispensed plugin does not implement the Execute contract")
	}

	out, err := impl.Execute(pluginapi.ExecuteRequest{
		Meta:     req.Meta,
		Input:    req.Input,
		Settings: req.Settings,
	})
	if err != nil {
		return Failed(fmt.Sprintf("plugin exception: %v", err))
	}

	if out == nil {
		return Failed("plugin returned null")
	}

	payload, ok := out.([]byte)
	if !ok {
		return Failed("plugin returned non-byte[] type")
	}

	return OK(payload)
}
