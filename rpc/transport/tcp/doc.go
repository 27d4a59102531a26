// Package tcp provides the TCP connectors of the ipcmux transport.
//
// The client connector dials host:port and applies the TCP options from
// common.TCPConf (TCP_NODELAY, keep-alive, linger) and the socket buffer
// sizes from common.SocketConf. The server connector is used by the demo
// endpoint.
package tcp
