package server

import (
	"encoding/json"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
)

// MethodHandler handles one JSON-RPC method.
// It returns the result (any JSON-marshalable value) or an error object.
// The session can be used to push notifications to the calling client.
type MethodHandler func(session transport.ServerSession, params json.RawMessage) (result any, err *common.RPCError)

// IRPCServerAdapter is the interface for a set of methods served together
type IRPCServerAdapter interface {
	// Methods returns the handlers of the adapter by method name
	Methods() map[string]MethodHandler
}
