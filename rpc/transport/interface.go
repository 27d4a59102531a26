package transport

import (
	"context"
	"encoding/json"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"io"
	"net"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerSession is one connected client as seen by a server handler
type ServerSession interface {
	// ID identifies the session for logging
	ID() uint64
	// Send writes one encoded message to the client. Calls are serialized.
	Send(msg []byte) error
	// Done is closed once the connection is gone
	Done() <-chan struct{}
}

// ServerHandleFunc is called by a server transport for every complete JSON value
// received on a session. It may be called concurrently for the same session.
// Replies and pushes are written with session.Send.
type ServerHandleFunc func(session ServerSession, msg json.RawMessage)

// IRPCServerTransport is the interface for the server side transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called for every message received on any connection
	RegisterHandler(handler ServerHandleFunc)
	// Start creates the listener and accepts connections in the background
	Start(config common.ServerConfig) error
	// Listen starts the transport and blocks until it is closed
	Listen(config common.ServerConfig) error
	// Addr returns the address the transport listens on, nil before Start
	Addr() net.Addr
	// Close stops accepting and closes all open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the IO driver of one connection: it owns the socket,
// the correlation state and the reader and writer loops
type IRPCClientTransport interface {
	// Connect dials the configured endpoint and starts the reader and writer loops
	Connect(ctx context.Context, config common.ClientConfig) error
	// Send enqueues a control message for the writer loop. It blocks while the
	// control queue is full until there is space, ctx is done or the driver exited.
	Send(ctx context.Context, msg *common.ControlMessage) error
	// Done is closed once both loops returned and all waiters were resolved
	Done() <-chan struct{}
	// Err returns the terminal cause after Done is closed, nil before
	Err() error
	// Close terminates the driver and waits for the teardown to finish
	Close() error
	// WriteMetrics writes the driver metrics in Prometheus text format
	WriteMetrics(w io.Writer)
}
