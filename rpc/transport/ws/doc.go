// Package ws provides WebSocket connectors of the ipcmux transport using
// gorilla/websocket.
//
// JSON-RPC over WebSocket is message framed, while the driver works on a byte
// stream. The adapter in this package bridges the two: each outbound message
// is sent as one text frame, and inbound frames are read back to back as one
// continuous stream. Since every frame carries complete JSON values the codec
// sees exactly the same bytes as on a socket.
//
// The endpoint is either a full ws:// (or wss://) url or a plain host:port.
// The server connector serves HTTP on host:port and upgrades every request.
package ws
