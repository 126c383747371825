// Package pluginapi defines the wire contract between the Peregrine
// Engine and a plugin artifact (spec.md §6.3). It is the one piece of
// "plugin authoring" this repository specifies — everything else about
// how a plugin is built is out of scope per spec.md §1.
//
// The contract is expressed as a net/rpc service dispensed over a
// github.com/hashicorp/go-plugin subprocess connection: the artifact is
// a standalone executable that, on startup, calls plugin.Serve with a
// Plugin implementation registered under the name the invocation's
// meta.pluginMainClass names. This stands in for "a public entry symbol
// ... default-constructible ... exposing execute(meta, input,
// settings) → bytes" in a language without reflective class loading.
package pluginapi

import (
	"encoding/gob"
	"encoding/json"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

func init() {
	// ExecuteResponse.Output travels as interface{} so that a
	// misbehaving plugin returning something other than []byte is a
	// representable (and classifiable) outcome rather than a compile
	// error — see Loader's "plugin returned non-byte[] type" case.
	gob.Register([]byte(nil))
	gob.Register("")
}

// Handshake is the magic-cookie handshake both the engine and every
// plugin binary must agree on before go-plugin will dispense anything.
// This guards against accidentally invoking an unrelated executable as
// a plugin; it is not a security boundary (spec.md §1 Non-goals:
// "does not verify plugin provenance beyond a shared-secret MAC" — that
// MAC is the artifact signature, verified before the loader ever runs).
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PEREGRINE_PLUGIN",
	MagicCookieValue: "b4f1d9e7-peregrine-artifact",
}

// ExecuteRequest carries the three JSON sections of an invocation to
// the plugin process. Each section travels as raw JSON so the plugin
// can unmarshal it into whatever structure it prefers, mirroring
// spec.md §6.3's "three parameters ... compatible with the three JSON
// section objects."
type ExecuteRequest struct {
	Meta     json.RawMessage
	Input    json.RawMessage
	Settings json.RawMessage
}

// ExecuteResponse carries the plugin's return value back to the
// engine. Output is interface{} rather than []byte so a plugin that
// returns the wrong type is observable instead of a wire-level panic.
type ExecuteResponse struct {
	Output interface{}
}

// Plugin is the interface a plugin artifact implements and registers
// with plugin.Serve. Execute corresponds 1:1 to spec.md §6.3's
// three-argument execute operation.
type Plugin interface {
	Execute(req ExecuteRequest) (interface{}, error)
}

// RPCPlugin adapts a Plugin implementation to go-plugin's net/rpc
// plugin.Plugin interface. Plugin authors embed or construct one of
// these in their main() and pass it to plugin.Serve; the engine uses
// the same type on the client side to get a Plugin back out of
// rpcClient.Dispense.
type RPCPlugin struct {
	Impl Plugin
}

// Server is called on the plugin side (inside the subprocess) to
// produce the net/rpc service that answers Execute calls.
func (p *RPCPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.Impl}, nil
}

// Client is called on the engine side to wrap the raw net/rpc client
// connection in something satisfying Plugin.
func (p *RPCPlugin) Client(_ *plugin.MuxBroker, client *rpc.Client) (interface{}, error) {
	return &rpcClient{client: client}, nil
}

var _ plugin.Plugin = (*RPCPlugin)(nil)

type rpcServer struct {
	impl Plugin
}

func (s *rpcServer) Execute(req ExecuteRequest, resp *ExecuteResponse) error {
	out, err := s.impl.Execute(req)
	if err != nil {
		return err
	}
	resp.Output = out
	return nil
}

type rpcClient struct {
	client *rpc.Client
}

func (c *rpcClient) Execute(req ExecuteRequest) (interface{}, error) {
	var resp ExecuteResponse
	if err := c.client.Call("Plugin.Execute", req, &resp); err != nil {
		return nil, err
	}
	return resp.Output, nil
}

var _ Plugin = (*rpcClient)(nil)

// Serve is the convenience entry point a plugin binary's main() calls.
// name must equal the meta.pluginMainClass that invocations will use to
// address this plugin — it is the RPC-era stand-in for "the entry
// symbol's name" in spec.md §6.3. Serve starts the net/rpc server,
// completes the handshake, and blocks until the engine disconnects or
// kills the process.
func Serve(name string, impl Plugin) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			name: &RPCPlugin{Impl: impl},
		},
	})
}
