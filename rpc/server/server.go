package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/codec"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"os/signal"
	"runtime"
	"syscall"
)

var Logger = logger.GetLogger("server")

// RPCServer is a small JSON-RPC 2.0 endpoint. It answers single calls and
// batches and lets methods push notifications on the calling connection.
type RPCServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	methods   *xsync.MapOf[string, MethodHandler]
	demo      *demoAdapter
}

// NewRPCServer creates a new RPC server serving the demo methods
// (rpc_ping, rpc_echo, rpc_sleep, rpc_subscribe, rpc_unsubscribe)
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		unix.NewUnixDefaultServerTransport(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(config common.ServerConfig, transport transport.IRPCServerTransport) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &RPCServer{
		config:    config,
		transport: transport,
		methods:   xsync.NewMapOf[string, MethodHandler](),
		demo:      newDemoAdapter(),
	}
	s.RegisterAdapter(s.demo)

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	s.transport.RegisterHandler(s.handle)
	return s
}

// Register adds or replaces the handler of a method
func (s *RPCServer) Register(method string, handler MethodHandler) {
	s.methods.Store(method, handler)
}

// RegisterAdapter registers all methods of an adapter
func (s *RPCServer) RegisterAdapter(adapter IRPCServerAdapter) {
	for name, handler := range adapter.Methods() {
		s.Register(name, handler)
	}
}

// Serve starts the transport and blocks until the server is closed
func (s *RPCServer) Serve() error {
	return s.transport.Listen(s.config)
}

// Start starts the transport in the background
func (s *RPCServer) Start() error {
	return s.transport.Start(s.config)
}

// Addr returns the listening address after Start
func (s *RPCServer) Addr() net.Addr {
	return s.transport.Addr()
}

// Close stops all subscriptions and the transport
func (s *RPCServer) Close() error {
	s.demo.stopAll()
	return s.transport.Close()
}

// --------------------------------------------------------------------------
// Request Handling
// --------------------------------------------------------------------------

// incomingRequest is a request as received, the id is kept raw so it can be echoed verbatim
type incomingRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// handle is the transport handler, it is called once per received JSON value
func (s *RPCServer) handle(session transport.ServerSession, msg json.RawMessage) {
	msg = bytes.TrimSpace(msg)

	var reply any
	switch {
	case len(msg) > 0 && msg[0] == '[':
		reply = s.handleBatch(session, msg)
	case len(msg) > 0 && msg[0] == '{':
		if resp, ok := s.handleOne(session, msg); ok {
			reply = resp
		}
	default:
		reply = codec.NewResponseWire(nil, nil, common.NewRPCError(common.CodeInvalidRequest, "invalid request"))
	}

	// Case only notifications: nothing to answer
	if reply == nil {
		return
	}

	out, err := json.Marshal(reply)
	if err != nil {
		Logger.Errorf("Failed to encode reply on session %d: %v", session.ID(), err)
		return
	}
	if err := session.Send(out); err != nil {
		Logger.Warningf("Failed to write reply on session %d: %v", session.ID(), err)
	}
}

// handleBatch answers every call of a batch, the reply array omits notifications
func (s *RPCServer) handleBatch(session transport.ServerSession, msg json.RawMessage) any {
	var elems []json.RawMessage
	if err := json.Unmarshal(msg, &elems); err != nil || len(elems) == 0 {
		return codec.NewResponseWire(nil, nil, common.NewRPCError(common.CodeInvalidRequest, "invalid batch"))
	}

	replies := make([]any, 0, len(elems))
	for _, elem := range elems {
		if resp, ok := s.handleOne(session, elem); ok {
			replies = append(replies, resp)
		}
	}
	if len(replies) == 0 {
		return nil
	}
	return replies
}

// handleOne runs a single call. It returns false for notifications (requests without id).
func (s *RPCServer) handleOne(session transport.ServerSession, raw json.RawMessage) (any, bool) {
	var req incomingRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return codec.NewResponseWire(nil, nil, common.NewRPCError(common.CodeInvalidRequest, err.Error())), true
	}
	if req.JSONRPC != common.Version || req.Method == "" {
		return codec.NewResponseWire(req.ID, nil, common.NewRPCError(common.CodeInvalidRequest, "invalid request")), true
	}

	var (
		result any
		rpcErr *common.RPCError
	)
	handler, ok := s.methods.Load(req.Method)
	if !ok {
		rpcErr = common.NewRPCError(common.CodeMethodNotFound, fmt.Sprintf("method %s not found", req.Method))
	} else {
		result, rpcErr = handler(session, req.Params)
	}

	// Case notification: no reply
	if len(req.ID) == 0 {
		return nil, false
	}

	var encoded json.RawMessage
	if rpcErr == nil {
		var err error
		if encoded, err = codec.EncodeParams(result); err != nil {
			rpcErr = common.NewRPCError(common.CodeInternalError, err.Error())
		}
	}
	return codec.NewResponseWire(req.ID, encoded, rpcErr), true
}
