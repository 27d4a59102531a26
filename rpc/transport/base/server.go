package base

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/codec"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	config            common.ServerConfig
	maxWorkersPerConn int

	listenerMu sync.Mutex
	listener   net.Listener
	sessions   *xsync.MapOf[uint64, *serverSession]
	nextID     atomic.Uint64
	closeOnce  sync.Once
	closed     chan struct{}
}

// serverSession is one accepted connection
type serverSession struct {
	id      uint64
	conn    net.Conn
	timeout time.Duration
	writeMu sync.Mutex
	done    chan struct{}
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with a per-connection worker limit
func NewBaseServerTransport(connector IServerConnector, maxWorkersPerConn int) transport.IRPCServerTransport {

	// minimum one worker per connection
	maxWorkersPerConn = max(maxWorkersPerConn, 1)

	return &serverTransport{
		connector:         connector,
		maxWorkersPerConn: maxWorkersPerConn,
		sessions:          xsync.NewMapOf[uint64, *serverSession](),
		closed:            make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Start(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = common.DefaultMaxMessageSize
	}
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	t.listenerMu.Lock()
	t.listener = listener
	t.listenerMu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), t.maxWorkersPerConn)

	go t.acceptLoop(listener)
	return nil
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if err := t.Start(config); err != nil {
		return err
	}
	<-t.closed
	return nil
}

func (t *serverTransport) Addr() net.Addr {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)

		t.listenerMu.Lock()
		if t.listener != nil {
			err = t.listener.Close()
		}
		t.listenerMu.Unlock()

		t.sessions.Range(func(_ uint64, s *serverSession) bool {
			s.conn.Close()
			return true
		})
	})
	return err
}

// --------------------------------------------------------------------------
// Session Methods (docu see transport.ServerSession)
// --------------------------------------------------------------------------

func (s *serverSession) ID() uint64 {
	return s.id
}

func (s *serverSession) Send(msg []byte) error {
	// Protect writes to the connection with a mutex
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	_, err := s.conn.Write(msg)
	return err
}

func (s *serverSession) Done() <-chan struct{} {
	return s.done
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop accepts connections until the listener is closed
func (t *serverTransport) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-t.closed:
				return
			default:
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}
}

// handleConnection reads messages from one connection and hands them to
// the handler in worker goroutines
func (t *serverTransport) handleConnection(conn net.Conn) {
	session := &serverSession{
		id:      t.nextID.Add(1),
		conn:    conn,
		timeout: time.Duration(t.config.TimeoutSecond) * time.Second,
		done:    make(chan struct{}),
	}
	t.sessions.Store(session.id, session)

	// Create a semaphore to limit concurrent workers for this connection
	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)

	// Create a wait group to wait for all workers to finish
	var wg sync.WaitGroup

	dispatch := func(raw json.RawMessage) error {
		// raw may alias the read buffer, which is compacted after Split
		msg := append(json.RawMessage(nil), raw...)

		// Acquire a slot in the semaphore (blocks if maxWorkersPerConn is reached)
		workerSemaphore <- struct{}{}
		wg.Add(1)

		go func() {
			defer func() {
				<-workerSemaphore
				wg.Done()
			}()
			start := time.Now()
			t.handler(session, msg)
			Logger.Debugf("Processed message on session %d in %s", session.id, time.Since(start))
		}()
		return nil
	}

	err := t.readMessages(conn, dispatch)

	// Replies to everything read before the failure go out first
	wg.Wait()

	// Answer unparsable input with a parse error before closing
	var perr *common.ProtocolError
	if errors.As(err, &perr) {
		if resp, encErr := codec.EncodeResponse(nil, nil, common.NewRPCError(common.CodeParseError, perr.Err.Error())); encErr == nil {
			_ = session.Send(resp)
		}
	}

	// Case EOF: Connection closed by client
	if err == nil || errors.Is(err, io.EOF) {
		Logger.Infof("Connection %d closed by client", session.id)
	} else {
		Logger.Errorf("Error handling connection %d: %v", session.id, err)
	}

	// Stop pushes before closing the connection
	close(session.done)

	t.sessions.Delete(session.id)
	conn.Close()
}

// readMessages reads complete JSON values from conn until it fails
func (t *serverTransport) readMessages(conn net.Conn, fn func(raw json.RawMessage) error) error {
	buf := make([]byte, 0, common.DefaultReadBufferSize)
	var scanner codec.Scanner

	for {
		if len(buf) == cap(buf) {
			if cap(buf) >= t.config.MaxMessageSize {
				return fmt.Errorf("request exceeds the maximum size of %d bytes", t.config.MaxMessageSize)
			}
			grown := make([]byte, len(buf), min(cap(buf)*2, t.config.MaxMessageSize))
			copy(grown, buf)
			buf = grown
		}

		n, err := conn.Read(buf[len(buf):cap(buf)])
		if n > 0 {
			buf = buf[:len(buf)+n]
			consumed, serr := scanner.Split(buf, fn)
			if serr != nil {
				return serr
			}
			if consumed > 0 {
				rest := copy(buf, buf[consumed:])
				buf = buf[:rest]
			}
		}
		if err != nil {
			return err
		}
	}
}
