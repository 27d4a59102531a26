package ws

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/ValentinKolb/ipcmux/rpc/transport/base"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"net/http"
	"sync"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	defaultWorkersPerConn = 64
)

// serverConnector implements the IServerConnector interface for WebSockets.
// It serves HTTP on the endpoint and hands every upgraded connection to the
// base server through a net.Listener.
type serverConnector struct{}

// wsListener is a net.Listener yielding upgraded websocket connections
type wsListener struct {
	inner     net.Listener
	server    *http.Server
	upgrader  websocket.Upgrader
	maxSize   int
	conns     chan net.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "ws"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	inner, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %w", err)
	}

	l := &wsListener{
		inner: inner,
		upgrader: websocket.Upgrader{
			// local demo endpoint, every origin is accepted
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  common.DefaultReadBufferSize,
			WriteBufferSize: common.DefaultReadBufferSize,
		},
		maxSize: config.MaxMessageSize,
		conns:   make(chan net.Conn),
		closed:  make(chan struct{}),
	}
	l.server = &http.Server{Handler: http.HandlerFunc(l.handleWebSocket)}

	go func() {
		if err := l.server.Serve(inner); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("WebSocket server stopped: %v", err)
		}
	}()
	return l, nil
}

func (c *serverConnector) UpgradeConnection(_ net.Conn, _ common.ServerConfig) error {
	return nil
}

// --------------------------------------------------------------------------
// Listener Methods (docu see net.Listener)
// --------------------------------------------------------------------------

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.server.Close()
	})
	return err
}

func (l *wsListener) Addr() net.Addr {
	return l.inner.Addr()
}

// handleWebSocket upgrades the request and hands the connection to Accept
func (l *wsListener) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logger.Warningf("Failed to upgrade WebSocket connection from %s: %v", r.RemoteAddr, err)
		return
	}

	wc := newConn(conn)
	wc.setReadLimit(l.maxSize)

	select {
	case l.conns <- wc:
	case <-l.closed:
		conn.Close()
	}
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewWSServerTransport creates a new WebSocket server transport
func NewWSServerTransport() transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, defaultWorkersPerConn)
}

// NewWSServerTransportWithWorkers creates a new WebSocket server transport with the given per-connection worker limit
func NewWSServerTransportWithWorkers(workersPerConn int) transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, workersPerConn)
}
