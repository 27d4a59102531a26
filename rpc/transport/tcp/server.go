package tcp

import (
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/ValentinKolb/ipcmux/rpc/transport/base"
	"net"
)

const (
	defaultWorkersPerConn = 64
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %w", err)
	}
	return listener, nil
}

// UpgradeConnection disables Nagle's algorithm, replies are small and latency bound
func (c *serverConnector) UpgradeConnection(conn net.Conn, _ common.ServerConfig) error {
	return base.UpgradeTCPConnection(conn, common.SocketConf{}, common.TCPConf{TCPNoDelay: true})
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPServerTransport creates a new TCP server transport with the default worker limit
func NewTCPServerTransport() transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, defaultWorkersPerConn)
}

// NewTCPServerTransportWithWorkers creates a new TCP server transport with the given per-connection worker limit
func NewTCPServerTransportWithWorkers(workersPerConn int) transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, workersPerConn)
}
