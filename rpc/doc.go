// Package rpc provides a client side JSON-RPC 2.0 transport that multiplexes
// many concurrent calls, batches and subscriptions over one duplex stream.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the system,
//     including the wire types, control messages, errors, configuration and logging.
//
//   - codec: Framing and decoding of the inbound byte stream into responses,
//     batch responses and notifications, and encoding of outbound requests.
//
//   - transport: The IO driver and its pluggable stream implementations
//     (Unix sockets, TCP, WebSocket).
//
//   - client: The handle used by applications: id allocation, calls, batches
//     and subscription streams.
//
//   - server: A small JSON-RPC endpoint used to test clients locally.
package rpc
