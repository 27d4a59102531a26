// Package unix provides the Unix domain socket connectors of the ipcmux
// transport. This is the reference transport: a local node exposes its
// JSON-RPC interface on a socket file and the client multiplexes all calls
// over one connection to it.
//
// The client connector dials the socket path given as endpoint and applies
// the configured kernel buffer sizes. The server connector removes a stale
// socket file before listening.
package unix
