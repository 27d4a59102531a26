// Package base provides the IO driver of the ipcmux transport and a generic
// stream server, both independent of the specific network protocol (Unix
// sockets, TCP, WebSocket). Protocol specific connectors plug into it.
//
// The package focuses on:
//   - Running one reader and one writer loop per connection
//   - Correlating replies to waiters and notifications to subscriptions
//   - Resolving every outstanding call when the connection ends
//   - Bounded queues so a slow peer or a slow consumer can not exhaust memory
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific
//     operations that allow extending the base transport with different
//     stream types.
//
//   - clientTransport: The IO driver. The writer loop consumes a bounded
//     control queue, registers waiters and writes the encoded bytes. The
//     reader loop accumulates bytes, decodes complete messages and fulfils
//     waiters. Both loops run in an errgroup: the first failure closes the
//     connection, and once both returned all waiters are resolved with
//     common.ErrDisconnected and all subscription streams are closed. Messages
//     still waiting in the control queue are resolved the same way.
//
//   - correlationState: xsync maps for pending requests, pending batches and
//     subscription sinks. A batch reply is routed by the lowest id it
//     contains, so the server may answer the entries in any order. If no
//     batch starts at that id (the server dropped the first entry), the
//     pending batch whose id range covers it is used. A reply array is
//     delivered whole to one batch and is never split across batches.
//
//   - serverTransport: Accepts connections and hands every received JSON
//     value to a handler, using a per-connection worker limit. Used by the
//     demo endpoint.
//
// Backpressure:
//
//   - Control queue: bounded by ControlQueueSize. Send blocks while it is full
//     until there is space, the context is done or the driver terminated.
//
//   - Notification sinks: bounded by NotificationBufferSize. A full sink drops
//     its oldest notification, the reader loop never blocks on a consumer.
//
//   - Read buffer: grows by doubling up to MaxMessageSize. A single message
//     that does not fit is a protocol error. A codec.Scanner resumes the
//     pending message where the previous read stopped.
//
// Metrics:
//
//	Every driver owns a VictoriaMetrics set with counters for sent requests,
//	delivered and unmatched replies, notifications and transferred bytes.
package base
