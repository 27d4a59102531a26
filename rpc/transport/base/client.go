package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/codec"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
	"io"
	"net"
	"sync"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientTransport is the IO driver of one connection, independent of the
// specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector IClientConnector
	config    common.ClientConfig
	conn      net.Conn

	control chan *common.ControlMessage
	state   *correlationState
	metrics *driverMetrics

	connectOnce sync.Once
	closeOnce   sync.Once
	closing     chan struct{} // closed by Close
	stopped     chan struct{} // closed once both loops returned, before the teardown
	done        chan struct{} // closed after teardown
	err         error         // terminal cause, written before stopped is closed
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new driver using the given connector to establish the stream
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
		closing:   make(chan struct{}),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(ctx context.Context, config common.ClientConfig) error {
	err := fmt.Errorf("transport already connected")
	t.connectOnce.Do(func() {
		err = t.connect(ctx, config)
	})
	return err
}

func (t *clientTransport) Send(ctx context.Context, msg *common.ControlMessage) error {
	if t.control == nil {
		return fmt.Errorf("transport not connected")
	}

	// fail fast if the driver is already gone
	select {
	case <-t.stopped:
		return common.Disconnected(t.err)
	default:
	}

	select {
	case t.control <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopped:
		return common.Disconnected(t.err)
	}

	// The loops may have stopped while msg was enqueued. Whatever is still
	// queued now is resolved here or by the teardown, never by both.
	select {
	case <-t.stopped:
		t.drainControl(common.Disconnected(t.err))
		return common.Disconnected(t.err)
	default:
		return nil
	}
}

func (t *clientTransport) Done() <-chan struct{} {
	return t.done
}

func (t *clientTransport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *clientTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)
	})
	if t.control == nil {
		return nil
	}
	<-t.done
	return nil
}

func (t *clientTransport) WriteMetrics(w io.Writer) {
	if t.metrics != nil {
		t.metrics.write(w)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connect dials the endpoint and starts the loops
func (t *clientTransport) connect(ctx context.Context, config common.ClientConfig) error {
	config = config.WithDefaults()
	if config.Transport.Endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}
	t.config = config

	dialCtx := ctx
	if config.TimeoutSecond > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, time.Duration(config.TimeoutSecond)*time.Second)
		defer cancel()
	}

	// Connect to the endpoint
	conn, err := t.connector.Connect(dialCtx, config.Transport.Endpoint)
	if err != nil {
		return &common.IOError{Op: "dial " + config.Transport.Endpoint, Err: err}
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, config); err != nil {
		conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %w", config.Transport.Endpoint, err)
	}

	t.conn = conn
	t.state = newCorrelationState()
	t.control = make(chan *common.ControlMessage, config.Transport.ControlQueueSize)
	t.metrics = newDriverMetrics(t.connector.GetName(),
		func() float64 { return float64(len(t.control)) },
		func() float64 { return float64(t.state.pending.Size() + t.state.batches.Size()) },
		func() float64 { return float64(t.state.subs.Size()) },
	)
	t.state.metrics = t.metrics

	Logger.Infof("Connected to %s using %s transport", config.Transport.Endpoint, t.connector.GetName())

	t.run()
	return nil
}

// run starts the reader and writer loops. The first loop to fail cancels the
// group, the connection is closed so the other loop unblocks, and once both
// returned every waiter is resolved and done is closed.
func (t *clientTransport) run() {
	g, gctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		return t.readLoop()
	})
	g.Go(func() error {
		return t.writeLoop(gctx)
	})

	// Close the connection on the first failure or on Close
	go func() {
		select {
		case <-gctx.Done():
		case <-t.closing:
		}
		t.conn.Close()
	}()

	go func() {
		err := g.Wait()

		select {
		case <-t.closing:
			err = common.ErrClientClosed
		default:
		}

		if errors.Is(err, common.ErrClientClosed) {
			Logger.Infof("Connection to %s closed", t.config.Transport.Endpoint)
		} else {
			Logger.Errorf("Connection to %s terminated: %v", t.config.Transport.Endpoint, err)
		}

		t.err = err
		close(t.stopped)

		t.state.teardown(common.Disconnected(err))
		t.drainControl(common.Disconnected(err))
		close(t.done)
	}()
}

// readLoop reads from the connection into an accumulation buffer and
// dispatches every complete message. Bytes of an incomplete trailing message
// are kept at the front of the buffer for the next read.
func (t *clientTransport) readLoop() error {
	maxSize := t.config.Transport.MaxMessageSize
	buf := make([]byte, 0, t.config.Transport.SocketConf.ReadBufferSize)
	var scanner codec.Scanner

	for {
		// Grow the buffer if the pending fragment fills it
		if len(buf) == cap(buf) {
			if cap(buf) >= maxSize {
				return &common.ProtocolError{Offset: 0, Err: fmt.Errorf("message exceeds the maximum size of %d bytes", maxSize)}
			}
			grown := make([]byte, len(buf), min(cap(buf)*2, maxSize))
			copy(grown, buf)
			buf = grown
		}

		n, err := t.conn.Read(buf[len(buf):cap(buf)])
		if n > 0 {
			buf = buf[:len(buf)+n]
			t.metrics.bytesRead.Add(n)

			consumed, derr := scanner.Decode(buf, t.state)
			if derr != nil {
				return derr
			}

			// Keep the unconsumed fragment
			if consumed > 0 {
				rest := copy(buf, buf[consumed:])
				buf = buf[:rest]
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %w", common.ErrConnectionClosed, err)
			}
			return &common.IOError{Op: "read", Err: err}
		}
	}
}

// writeLoop consumes the control queue in arrival order. Waiters are
// registered before their bytes are written so a fast reply always finds them.
func (t *clientTransport) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closing:
			return common.ErrClientClosed
		case msg := <-t.control:
			if err := t.handleControl(msg); err != nil {
				return err
			}
		}
	}
}

// handleControl processes one control message
func (t *clientTransport) handleControl(msg *common.ControlMessage) error {
	switch msg.Type {
	case common.CtrlRequest:
		t.state.registerRequest(msg.ID, msg.Waiter)
		if err := t.write(msg.Payload); err != nil {
			t.state.abortRequest(msg.ID, common.Disconnected(err))
			return err
		}
		t.metrics.requestsSent.Inc()

	case common.CtrlBatch:
		t.state.registerBatch(msg.ID, msg.Size, msg.BatchWaiter)
		if err := t.write(msg.Payload); err != nil {
			t.state.abortBatch(msg.ID, common.Disconnected(err))
			return err
		}
		t.metrics.batchesSent.Inc()

	case common.CtrlSubscribe:
		t.state.subscribe(msg.SubID, msg.Sink)

	case common.CtrlUnsubscribe:
		t.state.unsubscribe(msg.SubID)

	default:
		Logger.Warningf("Ignoring control message of type %s", msg.Type)
	}
	return nil
}

// drainControl resolves every message still queued after the loops stopped:
// waiters get err, sinks are closed. Safe to call concurrently, each message
// is received by exactly one caller.
func (t *clientTransport) drainControl(err error) {
	for {
		select {
		case msg := <-t.control:
			rejectControl(msg, err)
		default:
			return
		}
	}
}

// rejectControl resolves a control message that never reached the writer loop
func rejectControl(msg *common.ControlMessage, err error) {
	switch msg.Type {
	case common.CtrlRequest:
		msg.Waiter <- common.Reply{Err: err}
	case common.CtrlBatch:
		msg.BatchWaiter <- common.BatchReply{Err: err}
	case common.CtrlSubscribe:
		msg.Sink.Close()
	}
}

// write writes one encoded message to the connection
func (t *clientTransport) write(payload []byte) error {
	n, err := t.conn.Write(payload)
	t.metrics.bytesWritten.Add(n)
	if err != nil {
		return &common.IOError{Op: "write", Err: err}
	}
	return nil
}
