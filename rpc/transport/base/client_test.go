package base

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test Helpers
// --------------------------------------------------------------------------

// pipeConnector hands out one end of an in-memory pipe
type pipeConnector struct {
	conn net.Conn
}

func (c *pipeConnector) Connect(_ context.Context, _ string) (net.Conn, error) {
	return c.conn, nil
}

func (c *pipeConnector) GetName() string {
	return "pipe"
}

func (c *pipeConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return SetSocketBuffers(conn, config.Transport.SocketConf)
}

// newPipeDriver connects a driver to an in-memory peer
func newPipeDriver(t *testing.T, config common.ClientConfig) (transport.IRPCClientTransport, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	config.Transport.Endpoint = "pipe"

	drv := NewBaseClientTransport(&pipeConnector{conn: local})
	require.NoError(t, drv.Connect(context.Background(), config))
	t.Cleanup(func() {
		peer.Close()
		drv.Close()
	})
	return drv, peer
}

// readRequest reads the next request the driver wrote to the peer
func readRequest(t *testing.T, dec *json.Decoder) common.Request {
	t.Helper()
	var req common.Request
	require.NoError(t, dec.Decode(&req))
	return req
}

func sendRequest(t *testing.T, drv transport.IRPCClientTransport, id uint64, method string) *common.ControlMessage {
	t.Helper()
	payload, err := json.Marshal(common.NewRequest(id, method, nil))
	require.NoError(t, err)
	msg := common.NewRequestMessage(id, payload)
	require.NoError(t, drv.Send(context.Background(), msg))
	return msg
}

func waitReply(t *testing.T, msg *common.ControlMessage) common.Reply {
	t.Helper()
	select {
	case r := <-msg.Waiter:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for reply %d", msg.ID)
		return common.Reply{}
	}
}

func waitDone(t *testing.T, drv transport.IRPCClientTransport) {
	t.Helper()
	select {
	case <-drv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the driver to terminate")
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestDriverRequestReply(t *testing.T) {
	drv, peer := newPipeDriver(t, common.ClientConfig{})
	dec := json.NewDecoder(peer)

	msg := sendRequest(t, drv, 1, "ping")
	req := readRequest(t, dec)
	assert.Equal(t, uint64(1), req.ID)
	assert.Equal(t, "ping", req.Method)
	assert.Equal(t, common.Version, req.JSONRPC)

	_, err := peer.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"pong"}`))
	require.NoError(t, err)

	reply := waitReply(t, msg)
	require.NoError(t, reply.Err)
	assert.Equal(t, `"pong"`, string(reply.Response.Result))
	assert.Nil(t, reply.Response.Error)
}

func TestDriverRepliesOutOfOrder(t *testing.T) {
	drv, peer := newPipeDriver(t, common.ClientConfig{})
	dec := json.NewDecoder(peer)

	first := sendRequest(t, drv, 1, "a")
	second := sendRequest(t, drv, 2, "b")
	readRequest(t, dec)
	readRequest(t, dec)

	// reply to the second request first, split across two writes
	_, err := peer.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":"b"}{"jsonrpc":"2.0","id":1,`))
	require.NoError(t, err)
	assert.Equal(t, `"b"`, string(waitReply(t, second).Response.Result))

	_, err = peer.Write([]byte(`"error":{"code":-32000,"message":"boom"}}`))
	require.NoError(t, err)
	reply := waitReply(t, first)
	require.NotNil(t, reply.Response.Error)
	assert.Equal(t, -32000, reply.Response.Error.Code)
	assert.Equal(t, "boom", reply.Response.Error.Message)
}

func TestDriverDuplicateReply(t *testing.T) {
	drv, peer := newPipeDriver(t, common.ClientConfig{})
	dec := json.NewDecoder(peer)

	msg := sendRequest(t, drv, 1, "ping")
	readRequest(t, dec)

	_, err := peer.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":1}{"jsonrpc":"2.0","id":1,"result":2}`))
	require.NoError(t, err)

	assert.Equal(t, "1", string(waitReply(t, msg).Response.Result))

	// a later request proves the reader survived the duplicate
	next := sendRequest(t, drv, 2, "ping")
	readRequest(t, dec)
	_, err = peer.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":3}`))
	require.NoError(t, err)
	assert.Equal(t, "3", string(waitReply(t, next).Response.Result))

	select {
	case r := <-msg.Waiter:
		t.Fatalf("Waiter fulfilled twice: %+v", r)
	default:
	}

	var out bytes.Buffer
	drv.WriteMetrics(&out)
	assert.Regexp(t, `ipcmux_replies_unmatched_total\{transport="pipe",driver="\d+"\} 1`, out.String())
}

func TestDriverBatchRouting(t *testing.T) {
	drv, peer := newPipeDriver(t, common.ClientConfig{})
	dec := json.NewDecoder(peer)

	reqs := []common.Request{
		common.NewRequest(10, "a", nil),
		common.NewRequest(11, "b", nil),
		common.NewRequest(12, "c", nil),
	}
	payload, err := json.Marshal(reqs)
	require.NoError(t, err)
	msg := common.NewBatchMessage(10, len(reqs), payload)
	require.NoError(t, drv.Send(context.Background(), msg))

	var got []common.Request
	require.NoError(t, dec.Decode(&got))
	require.Len(t, got, 3)

	_, err = peer.Write([]byte(`[{"jsonrpc":"2.0","id":12,"result":"c"},{"jsonrpc":"2.0","id":10,"result":"a"},{"jsonrpc":"2.0","id":11,"result":"b"}]`))
	require.NoError(t, err)

	select {
	case reply := <-msg.BatchWaiter:
		require.NoError(t, reply.Err)
		require.Len(t, reply.Responses, 3)
		assert.Equal(t, uint64(12), reply.Responses[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for batch reply")
	}
}

func TestDriverBatchWithoutBaseEntry(t *testing.T) {
	drv, peer := newPipeDriver(t, common.ClientConfig{})
	dec := json.NewDecoder(peer)

	msg := common.NewBatchMessage(20, 3, []byte(`[{"jsonrpc":"2.0","id":20,"method":"a"},{"jsonrpc":"2.0","id":21,"method":"b"},{"jsonrpc":"2.0","id":22,"method":"c"}]`))
	require.NoError(t, drv.Send(context.Background(), msg))
	var got []common.Request
	require.NoError(t, dec.Decode(&got))

	// the peer only answers the last entry
	_, err := peer.Write([]byte(`[{"jsonrpc":"2.0","id":22,"result":true}]`))
	require.NoError(t, err)

	select {
	case reply := <-msg.BatchWaiter:
		require.NoError(t, reply.Err)
		require.Len(t, reply.Responses, 1)
		assert.Equal(t, uint64(22), reply.Responses[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for batch reply")
	}
}

func TestDriverNotifications(t *testing.T) {
	drv, peer := newPipeDriver(t, common.ClientConfig{})
	dec := json.NewDecoder(peer)

	sink := common.NewNotificationSink(4)
	require.NoError(t, drv.Send(context.Background(), common.NewSubscribeMessage(common.MustSubscriptionID(77), sink)))

	// control messages are processed in order, so once the ping is read the sink is registered
	msg := sendRequest(t, drv, 1, "ping")
	readRequest(t, dec)

	_, err := peer.Write([]byte(`{"jsonrpc":"2.0","method":"s","params":{"subscription":"0x4d","result":{"n":1}}}` +
		`{"jsonrpc":"2.0","method":"s","params":{"subscription":"0x99","result":{"n":2}}}` +
		`{"jsonrpc":"2.0","id":1,"result":"pong"}`))
	require.NoError(t, err)
	waitReply(t, msg)

	select {
	case payload := <-sink.C():
		assert.JSONEq(t, `{"n":1}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for notification")
	}

	// unsubscribe closes the stream
	require.NoError(t, drv.Send(context.Background(), common.NewUnsubscribeMessage(common.MustSubscriptionID("0x4d"))))
	select {
	case _, ok := <-sink.C():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the stream to close")
	}

	// unsubscribing an unknown id is only counted
	require.NoError(t, drv.Send(context.Background(), common.NewUnsubscribeMessage(common.MustSubscriptionID(5))))
	next := sendRequest(t, drv, 2, "ping")
	readRequest(t, dec)
	_, err = peer.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":"pong"}`))
	require.NoError(t, err)
	waitReply(t, next)

	var out bytes.Buffer
	drv.WriteMetrics(&out)
	assert.Regexp(t, `ipcmux_unsubscribe_unknown_total\{[^}]*\} 1`, out.String())
	assert.Regexp(t, `ipcmux_notifications_unknown_subscription_total\{[^}]*\} 1`, out.String())
	assert.Regexp(t, `ipcmux_notifications_delivered_total\{[^}]*\} 1`, out.String())
}

func TestDriverPeerClose(t *testing.T) {
	drv, peer := newPipeDriver(t, common.ClientConfig{})
	dec := json.NewDecoder(peer)

	single := sendRequest(t, drv, 1, "a")
	readRequest(t, dec)

	batch := common.NewBatchMessage(2, 2, []byte(`[{"jsonrpc":"2.0","id":2,"method":"b"},{"jsonrpc":"2.0","id":3,"method":"c"}]`))
	require.NoError(t, drv.Send(context.Background(), batch))
	var got []common.Request
	require.NoError(t, dec.Decode(&got))

	sink := common.NewNotificationSink(1)
	require.NoError(t, drv.Send(context.Background(), common.NewSubscribeMessage("sub", sink)))
	sendRequest(t, drv, 4, "ping")
	readRequest(t, dec)

	require.NoError(t, peer.Close())
	waitDone(t, drv)

	reply := waitReply(t, single)
	assert.True(t, errors.Is(reply.Err, common.ErrDisconnected))
	assert.True(t, errors.Is(reply.Err, io.EOF))

	select {
	case r := <-batch.BatchWaiter:
		assert.True(t, errors.Is(r.Err, common.ErrDisconnected))
	default:
		t.Fatal("Batch waiter not resolved on teardown")
	}

	_, ok := <-sink.C()
	assert.False(t, ok)

	assert.True(t, errors.Is(drv.Err(), common.ErrConnectionClosed))

	// every later call fails immediately
	err := drv.Send(context.Background(), common.NewRequestMessage(5, []byte(`{}`)))
	assert.True(t, errors.Is(err, common.ErrDisconnected))
}

// TestDriverQueuedAtTeardown ends the connection while messages still wait in the control queue
func TestDriverQueuedAtTeardown(t *testing.T) {
	drv, peer := newPipeDriver(t, common.ClientConfig{})

	// the peer never reads, so the writer blocks on the first request
	single := sendRequest(t, drv, 1, "a")
	time.Sleep(20 * time.Millisecond)

	sink := common.NewNotificationSink(1)
	require.NoError(t, drv.Send(context.Background(), common.NewSubscribeMessage(common.MustSubscriptionID(77), sink)))
	batch := common.NewBatchMessage(2, 1, []byte(`[{"jsonrpc":"2.0","id":2,"method":"b"}]`))
	require.NoError(t, drv.Send(context.Background(), batch))
	queued := sendRequest(t, drv, 3, "c")

	require.NoError(t, peer.Close())
	waitDone(t, drv)

	assert.True(t, errors.Is(waitReply(t, single).Err, common.ErrDisconnected))
	assert.True(t, errors.Is(waitReply(t, queued).Err, common.ErrDisconnected))

	select {
	case r := <-batch.BatchWaiter:
		assert.True(t, errors.Is(r.Err, common.ErrDisconnected))
	case <-time.After(2 * time.Second):
		t.Fatal("Queued batch not resolved on teardown")
	}

	select {
	case _, ok := <-sink.C():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Queued subscription not closed on teardown")
	}

	err := drv.Send(context.Background(), common.NewSubscribeMessage("late", common.NewNotificationSink(1)))
	assert.True(t, errors.Is(err, common.ErrDisconnected))
}

func TestDriverProtocolError(t *testing.T) {
	drv, peer := newPipeDriver(t, common.ClientConfig{})
	dec := json.NewDecoder(peer)

	msg := sendRequest(t, drv, 1, "a")
	readRequest(t, dec)

	_, err := peer.Write([]byte(`{"jsonrpc":"2.0","id":}`))
	require.NoError(t, err)

	waitDone(t, drv)
	var perr *common.ProtocolError
	assert.True(t, errors.As(drv.Err(), &perr))

	reply := waitReply(t, msg)
	assert.True(t, errors.Is(reply.Err, common.ErrDisconnected))
	assert.True(t, errors.As(reply.Err, &perr))
}

func TestDriverMaxMessageSize(t *testing.T) {
	config := common.ClientConfig{}
	config.Transport.SocketConf.ReadBufferSize = 16
	config.Transport.MaxMessageSize = 64
	drv, peer := newPipeDriver(t, config)

	// an unterminated string larger than the limit
	go peer.Write([]byte(`{"jsonrpc":"2.0","method":"s","params":"` + strings.Repeat("x", 128)))

	waitDone(t, drv)
	var perr *common.ProtocolError
	assert.True(t, errors.As(drv.Err(), &perr))
}

func TestDriverControlQueueBackpressure(t *testing.T) {
	config := common.ClientConfig{}
	config.Transport.ControlQueueSize = 1
	drv, _ := newPipeDriver(t, config)

	// the peer never reads: the first message blocks the writer, the second fills the queue
	require.NoError(t, drv.Send(context.Background(), common.NewRequestMessage(1, []byte(`{}`))))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var err error
	for id := uint64(2); id < 10 && err == nil; id++ {
		err = drv.Send(ctx, common.NewRequestMessage(id, []byte(`{}`)))
	}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDriverClose(t *testing.T) {
	drv, peer := newPipeDriver(t, common.ClientConfig{})
	dec := json.NewDecoder(peer)

	msg := sendRequest(t, drv, 1, "a")
	readRequest(t, dec)

	require.NoError(t, drv.Close())
	waitDone(t, drv)

	assert.ErrorIs(t, drv.Err(), common.ErrClientClosed)
	reply := waitReply(t, msg)
	assert.ErrorIs(t, reply.Err, common.ErrDisconnected)
	assert.ErrorIs(t, reply.Err, common.ErrClientClosed)

	// closing twice is fine
	require.NoError(t, drv.Close())
}

func TestDriverConnectTwice(t *testing.T) {
	drv, _ := newPipeDriver(t, common.ClientConfig{})
	assert.Error(t, drv.Connect(context.Background(), common.ClientConfig{}))
}

func TestDriverDuplicateRegistrationPanics(t *testing.T) {
	s := newCorrelationState()
	s.registerRequest(1, make(chan common.Reply, 1))
	assert.Panics(t, func() {
		s.registerRequest(1, make(chan common.Reply, 1))
	})
}
