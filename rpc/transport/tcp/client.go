package tcp

import (
	"context"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/ValentinKolb/ipcmux/rpc/transport/base"
	"net"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", endpoint)
}

// UpgradeConnection applies performance optimizations to a TCP connection
// using configuration values from TCPConf and SocketConf
func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return base.UpgradeTCPConnection(conn, config.Transport.SocketConf, config.Transport.TCPConf)
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPClientTransport creates a new TCP client transport
func NewTCPClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(&clientConnector{})
}
