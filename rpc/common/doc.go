// Package common provides core data structures and utilities shared across
// the ipcmux transport. It defines the wire structures, the control protocol
// between the client handle and the IO driver, errors, configuration and
// logging used by the other packages.
//
// The package focuses on:
//   - JSON-RPC 2.0 wire structures (Request, Response, Notification, RPCError)
//   - Control messages sent from the client handle to the IO driver
//   - The error taxonomy (IOError, ProtocolError, RPCError, DeserializeError, ErrDisconnected)
//   - Configuration structures for the client and the demo server
//   - Custom logging implementation integrated with Dragonboat's logger registry
//
// Key Components:
//
//   - ControlMessage: Tagged message (Request, Batch, Subscribe, Unsubscribe)
//     carrying encoded bytes and a single-use waiter to the writer loop.
//
//   - SubscriptionID: Canonical form of a server assigned subscription id.
//     Numeric and hex quantity spellings of the same value compare equal.
//
//   - NotificationSink: Bounded, non-blocking buffer for notifications of one
//     subscription. When full, the oldest notification is dropped and counted.
//
//   - ClientConfig: Configuration of a connection: endpoint, queue and buffer
//     bounds, socket options.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging registry while providing consistent formatting across the module.
//     Output can be redirected to a rotating log file.
package common
