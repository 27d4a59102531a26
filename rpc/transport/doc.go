// Package transport defines the interfaces between the ipcmux client handle,
// the IO driver and the pluggable connectors.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Keeping the client handle independent of how the byte stream is established
//   - Enabling multiple stream implementations (Unix sockets, TCP, WebSocket)
//
// Key Components:
//
//   - IRPCClientTransport: The IO driver of one connection. It accepts control
//     messages from the client handle, writes requests, correlates replies and
//     dispatches notifications.
//
//   - IRPCServerTransport: Interface for server-side transports that accept
//     connections and hand every received JSON value to a handler. Used by the
//     demo endpoint.
//
//   - ServerSession: The per-connection write side given to server handlers,
//     so a handler can reply and push notifications on the same stream.
package transport
