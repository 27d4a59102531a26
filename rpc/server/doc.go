// Package server implements a small JSON-RPC 2.0 endpoint used to exercise
// ipcmux clients locally. It answers single calls and batches over any of the
// server transports and lets methods push notifications on the calling
// connection.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface for a set of methods. Every method receives
//     the calling session and the raw params and returns a result or an error
//     object.
//
//   - NewRPCServer: Factory function creating a server on top of a transport.
//     The demo methods are always registered:
//
//     rpc_ping                          -> "pong"
//     rpc_echo        params            -> params
//     rpc_sleep       [ms]              -> ms, after sleeping ms milliseconds
//     rpc_subscribe   [intervalMs, n]   -> subscription id, then n notifications {"seq": i}
//     rpc_unsubscribe [id]              -> true if the subscription was running
//
// Usage Example:
//
//	s := server.NewRPCServer(common.ServerConfig{
//	  Endpoint:      "127.0.0.1:8080",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}, tcp.NewTCPServerTransport())
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Batches are answered as a single array once all entries were processed.
// Entries are handled one after another, replies to separate messages on the
// same connection may be written in any order.
//
// Thread Safety:
//
//	Register may be called while the server is running. Serve and Start
//	must be called only once.
package server
