package ws

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/ValentinKolb/ipcmux/rpc/transport/base"
	"github.com/gorilla/websocket"
	"net"
	"strings"
)

// clientConnector implements the IClientConnector interface for WebSockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "ws"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:           websocket.DefaultDialer.Proxy,
		ReadBufferSize:  common.DefaultReadBufferSize,
		WriteBufferSize: common.DefaultReadBufferSize,
	}

	conn, resp, err := dialer.DialContext(ctx, endpointURL(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	// The handshake response body is not used
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return newConn(conn), nil
}

// UpgradeConnection bounds the size of a single frame to the maximum message size
func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	if wc, ok := conn.(*wsConn); ok {
		wc.setReadLimit(config.Transport.MaxMessageSize)
	}
	return nil
}

// endpointURL accepts a full ws:// or wss:// url or a plain host:port
func endpointURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	return "ws://" + endpoint + "/"
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewWSClientTransport creates a new WebSocket client transport
func NewWSClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(&clientConnector{})
}
