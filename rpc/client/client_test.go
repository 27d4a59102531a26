package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math"
	"math/rand"
	"net"
	"sync"
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

func (c *pipeConnector) UpgradeConnection(_ net.Conn, _ common.ClientConfig) error {
	return nil
}

// scriptedPeer plays the server side of a connection step by step
type scriptedPeer struct {
	t    *testing.T
	conn net.Conn
	dec  *json.Decoder
}

// next reads the next JSON value the client wrote
func (p *scriptedPeer) next(v any) {
	p.t.Helper()
	require.NoError(p.t, p.dec.Decode(v))
}

func (p *scriptedPeer) write(s string) {
	p.t.Helper()
	_, err := p.conn.Write([]byte(s))
	require.NoError(p.t, err)
}

func newPipeClient(t *testing.T, config common.ClientConfig) (*Client, *scriptedPeer) {
	t.Helper()
	local, remote := net.Pipe()
	config.Transport.Endpoint = "pipe"

	c, err := NewClient(context.Background(), config, base.NewBaseClientTransport(&pipeConnector{conn: local}))
	require.NoError(t, err)
	t.Cleanup(func() {
		remote.Close()
		c.Close()
	})
	return c, &scriptedPeer{t: t, conn: remote, dec: json.NewDecoder(remote)}
}

// async runs fn in a goroutine and returns a channel with its error
func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- fn()
	}()
	return ch
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the call to return")
		return nil
	}
}

// --------------------------------------------------------------------------
// Scenarios
// --------------------------------------------------------------------------

// TestRequestPingPong sends one request and receives the matching reply
func TestRequestPingPong(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	var result string
	done := async(func() error {
		return c.Request(context.Background(), "ping", nil, &result)
	})

	var req common.Request
	peer.next(&req)
	assert.Equal(t, uint64(1), req.ID)
	assert.Equal(t, "ping", req.Method)
	assert.Empty(t, req.Params)

	peer.write(`{"jsonrpc":"2.0","id":1,"result":"pong"}`)

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, "pong", result)
}

// TestBatchReorderedReplies answers a batch of [10, 11, 12] with [12, 10, 11]
func TestBatchReorderedReplies(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})
	c.nextID.Store(10)

	batch := NewBatchRequest()
	require.NoError(t, batch.Add("a", nil))
	require.NoError(t, batch.Add("b", []int{1}))
	require.NoError(t, batch.Add("c", json.RawMessage(`{"x":true}`)))

	var resp *BatchResponse
	done := async(func() (err error) {
		resp, err = c.ExecuteBatch(context.Background(), batch)
		return err
	})

	var reqs []common.Request
	peer.next(&reqs)
	require.Len(t, reqs, 3)
	for i, req := range reqs {
		assert.Equal(t, uint64(10+i), req.ID)
	}
	assert.JSONEq(t, `[1]`, string(reqs[1].Params))
	assert.JSONEq(t, `{"x":true}`, string(reqs[2].Params))

	peer.write(`[{"jsonrpc":"2.0","id":12,"result":"C"},{"jsonrpc":"2.0","id":10,"result":"A"},{"jsonrpc":"2.0","id":11,"result":"B"}]`)
	require.NoError(t, waitErr(t, done))

	require.Equal(t, 3, resp.Len())
	var got []string
	for {
		var s string
		ok, err := resp.Next(&s)
		if !ok {
			break
		}
		require.NoError(t, err)
		got = append(got, s)
	}
	assert.Equal(t, []string{"A", "B", "C"}, got)
}

// TestBatchAnyOrder checks submission order for many sizes and random reply orders
func TestBatchAnyOrder(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})
	rng := rand.New(rand.NewSource(42))

	for n := 1; n <= 16; n++ {
		batch := NewBatchRequest()
		for i := 0; i < n; i++ {
			require.NoError(t, batch.Add("echo", []int{i}))
		}

		var resp *BatchResponse
		done := async(func() (err error) {
			resp, err = c.ExecuteBatch(context.Background(), batch)
			return err
		})

		var reqs []common.Request
		peer.next(&reqs)
		require.Len(t, reqs, n)

		replies := make([]string, n)
		for i, req := range reqs {
			replies[i] = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%d}`, req.ID, i)
		}
		rng.Shuffle(n, func(i, j int) { replies[i], replies[j] = replies[j], replies[i] })

		out := "["
		for i, r := range replies {
			if i > 0 {
				out += ","
			}
			out += r
		}
		peer.write(out + "]")

		require.NoError(t, waitErr(t, done))
		for i := 0; i < n; i++ {
			var v int
			require.NoError(t, resp.Result(i, &v))
			assert.Equal(t, i, v, "batch of %d, entry %d", n, i)
		}
	}
}

// TestBatchPartialReply resolves unanswered entries to per-entry errors
func TestBatchPartialReply(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	batch := NewBatchRequest()
	require.NoError(t, batch.Add("a", nil))
	require.NoError(t, batch.Add("b", nil))
	require.NoError(t, batch.Add("c", nil))

	var resp *BatchResponse
	done := async(func() (err error) {
		resp, err = c.ExecuteBatch(context.Background(), batch)
		return err
	})

	var reqs []common.Request
	peer.next(&reqs)
	peer.write(fmt.Sprintf(`[{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}},{"jsonrpc":"2.0","id":%d,"result":true}]`,
		reqs[2].ID, reqs[1].ID))
	require.NoError(t, waitErr(t, done))

	var rpcErr *common.RPCError
	_, err := resp.Raw(0)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, common.CodeMissingResponse, rpcErr.Code)

	var ok bool
	require.NoError(t, resp.Result(1, &ok))
	assert.True(t, ok)

	_, err = resp.Raw(2)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, common.CodeMethodNotFound, rpcErr.Code)

	_, err = resp.Raw(3)
	assert.Error(t, err)
}

// TestSubscriptionStream delivers a notification for id 77 spelled as hex
func TestSubscriptionStream(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	sub, err := c.Subscribe(context.Background(), common.MustSubscriptionID(77))
	require.NoError(t, err)

	// the ping is queued behind the subscription, once it is read the stream is registered
	done := async(func() error {
		return c.Request(context.Background(), "ping", nil, nil)
	})
	var req common.Request
	peer.next(&req)
	peer.write(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0x4d","result":{"x":1}}}`)
	peer.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"pong"}`, req.ID))
	require.NoError(t, waitErr(t, done))

	select {
	case payload, ok := <-sub.Notifications():
		require.True(t, ok)
		assert.JSONEq(t, `{"x":1}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for notification")
	}

	// the stream stays open
	select {
	case _, ok := <-sub.Notifications():
		t.Fatalf("Unexpected stream event, open=%v", ok)
	case <-time.After(50 * time.Millisecond):
	}

	// unsubscribe closes it
	require.NoError(t, sub.Unsubscribe(context.Background()))
	select {
	case _, ok := <-sub.Notifications():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the stream to close")
	}

	// unsubscribing again is a no-op
	require.NoError(t, c.Unsubscribe(context.Background(), sub.ID()))
}

// TestSubscribeCall parses the subscription id returned by the server
func TestSubscribeCall(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	var sub *Subscription
	done := async(func() (err error) {
		sub, err = c.SubscribeCall(context.Background(), "rpc_subscribe", []int{10})
		return err
	})

	var req common.Request
	peer.next(&req)
	assert.Equal(t, "rpc_subscribe", req.Method)
	peer.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"0x00ff"}`, req.ID))
	require.NoError(t, waitErr(t, done))
	assert.Equal(t, common.MustSubscriptionID(255), sub.ID())
}

// TestPeerClosesBeforeReply resolves the pending call with a disconnect
func TestPeerClosesBeforeReply(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	done := async(func() error {
		return c.Request(context.Background(), "ping", nil, nil)
	})

	var req common.Request
	peer.next(&req)
	require.NoError(t, peer.conn.Close())

	err := waitErr(t, done)
	assert.True(t, errors.Is(err, common.ErrDisconnected), "got %v", err)

	<-c.Done()
	assert.ErrorIs(t, c.Err(), common.ErrConnectionClosed)

	// later calls fail immediately
	err = c.Request(context.Background(), "ping", nil, nil)
	assert.ErrorIs(t, err, common.ErrDisconnected)
	_, err = c.Subscribe(context.Background(), "x")
	assert.ErrorIs(t, err, common.ErrDisconnected)
}

// TestDisconnectEndsEverything resolves singles and batches and closes streams
func TestDisconnectEndsEverything(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	sub, err := c.Subscribe(context.Background(), "abc")
	require.NoError(t, err)

	single := async(func() error {
		return c.Request(context.Background(), "a", nil, nil)
	})
	var req common.Request
	peer.next(&req)

	batch := NewBatchRequest()
	require.NoError(t, batch.Add("b", nil))
	multi := async(func() error {
		_, err := c.ExecuteBatch(context.Background(), batch)
		return err
	})
	var reqs []common.Request
	peer.next(&reqs)

	require.NoError(t, peer.conn.Close())

	assert.ErrorIs(t, waitErr(t, single), common.ErrDisconnected)
	assert.ErrorIs(t, waitErr(t, multi), common.ErrDisconnected)

	select {
	case _, ok := <-sub.Notifications():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the stream to close")
	}
}

// TestDisconnectEndsQueuedCalls closes the connection while a subscription and
// a batch still wait in the control queue behind a blocked write
func TestDisconnectEndsQueuedCalls(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	// the peer never reads, so the writer blocks on this request
	single := async(func() error {
		return c.Request(context.Background(), "a", nil, nil)
	})
	time.Sleep(20 * time.Millisecond)

	sub, err := c.Subscribe(context.Background(), "77")
	require.NoError(t, err)

	batch := NewBatchRequest()
	require.NoError(t, batch.Add("b", nil))
	multi := async(func() error {
		_, err := c.ExecuteBatch(context.Background(), batch)
		return err
	})
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, peer.conn.Close())

	assert.ErrorIs(t, waitErr(t, single), common.ErrDisconnected)
	assert.ErrorIs(t, waitErr(t, multi), common.ErrDisconnected)

	select {
	case _, ok := <-sub.Notifications():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the queued stream to close")
	}
}

// TestSubscribeIDSpellings registers streams with differently spelled ids
func TestSubscribeIDSpellings(t *testing.T) {
	for _, spelling := range []common.SubscriptionID{"77", "0x4D", "0x004d"} {
		t.Run(string(spelling), func(t *testing.T) {
			c, peer := newPipeClient(t, common.ClientConfig{})

			sub, err := c.Subscribe(context.Background(), spelling)
			require.NoError(t, err)
			assert.Equal(t, common.MustSubscriptionID(77), sub.ID())

			// the ping is queued behind the subscription
			done := async(func() error {
				return c.Request(context.Background(), "ping", nil, nil)
			})
			var req common.Request
			peer.next(&req)
			peer.write(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":77,"result":1}}`)
			peer.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"pong"}`, req.ID))
			require.NoError(t, waitErr(t, done))

			select {
			case payload, ok := <-sub.Notifications():
				require.True(t, ok)
				assert.Equal(t, "1", string(payload))
			case <-time.After(2 * time.Second):
				t.Fatal("Timed out waiting for notification")
			}

			// unsubscribing with yet another spelling closes the same stream
			require.NoError(t, c.Unsubscribe(context.Background(), "0x4d"))
			select {
			case _, ok := <-sub.Notifications():
				assert.False(t, ok)
			case <-time.After(2 * time.Second):
				t.Fatal("Timed out waiting for the stream to close")
			}
		})
	}
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

func TestRequestErrors(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	// server error object
	done := async(func() error {
		return c.Request(context.Background(), "fail", nil, nil)
	})
	var req common.Request
	peer.next(&req)
	peer.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32000,"message":"nope","data":"0x01"}}`, req.ID))

	var rpcErr *common.RPCError
	require.True(t, errors.As(waitErr(t, done), &rpcErr))
	assert.Equal(t, -32000, rpcErr.Code)
	assert.Equal(t, "nope", rpcErr.Message)
	assert.Equal(t, `"0x01"`, string(rpcErr.Data))

	// result of the wrong shape
	var n int
	done = async(func() error {
		return c.Request(context.Background(), "shape", nil, &n)
	})
	peer.next(&req)
	peer.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"not a number"}`, req.ID))

	var desErr *common.DeserializeError
	assert.True(t, errors.As(waitErr(t, done), &desErr))

	// unencodable params never reach the wire
	err := c.Request(context.Background(), "bad", make(chan int), nil)
	assert.Error(t, err)
}

// TestRequestCancelled returns ctx.Err() and leaves the connection usable
func TestRequestCancelled(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := async(func() error {
		return c.Request(ctx, "slow", nil, nil)
	})
	var slow common.Request
	peer.next(&slow)
	cancel()
	assert.ErrorIs(t, waitErr(t, done), context.Canceled)

	// the late reply is absorbed, the next call still works
	peer.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":1}`, slow.ID))

	var result int
	done = async(func() error {
		return c.Request(context.Background(), "fast", nil, &result)
	})
	var req common.Request
	peer.next(&req)
	peer.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":2}`, req.ID))
	require.NoError(t, waitErr(t, done))
	assert.Equal(t, 2, result)
}

func TestIDSpaceExhausted(t *testing.T) {
	c, _ := newPipeClient(t, common.ClientConfig{})

	c.nextID.Store(math.MaxUint64 - 2)

	// a batch of 4 does not fit, a batch of 2 does
	_, err := c.reserve(4)
	assert.ErrorIs(t, err, common.ErrIDSpaceExhausted)
	base, err := c.reserve(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-2), base)

	id, err := c.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), id)

	_, err = c.Allocate()
	assert.ErrorIs(t, err, common.ErrIDSpaceExhausted)

	// the failure is local to the call
	err = c.Request(context.Background(), "ping", nil, nil)
	assert.ErrorIs(t, err, common.ErrIDSpaceExhausted)
	select {
	case <-c.Done():
		t.Fatal("Id exhaustion must not terminate the connection")
	default:
	}
}

func TestAllocateUnique(t *testing.T) {
	c, _ := newPipeClient(t, common.ClientConfig{})

	const workers, perWorker = 8, 1000
	ids := make(chan uint64, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := c.Allocate()
				if err != nil {
					t.Error(err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool, workers*perWorker)
	for id := range ids {
		assert.False(t, seen[id], "id %d allocated twice", id)
		assert.NotZero(t, id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}

// TestConcurrentRequests multiplexes many callers over one connection
func TestConcurrentRequests(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	// echo peer answering every request with its params
	go func() {
		for {
			var req common.Request
			if err := peer.dec.Decode(&req); err != nil {
				return
			}
			resp := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, req.Params)
			if _, err := peer.conn.Write([]byte(resp)); err != nil {
				return
			}
		}
	}()

	const callers = 32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var echoed []int
			if err := c.Request(context.Background(), "echo", []int{i}, &echoed); err != nil {
				t.Error(err)
				return
			}
			if len(echoed) != 1 || echoed[0] != i {
				t.Errorf("caller %d got %v", i, echoed)
			}
		}(i)
	}
	wg.Wait()
}

func TestCloseClient(t *testing.T) {
	c, peer := newPipeClient(t, common.ClientConfig{})

	done := async(func() error {
		return c.Request(context.Background(), "ping", nil, nil)
	})
	var req common.Request
	peer.next(&req)

	require.NoError(t, c.Close())
	err := waitErr(t, done)
	assert.ErrorIs(t, err, common.ErrDisconnected)
	assert.ErrorIs(t, err, common.ErrClientClosed)
}
