package client

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/codec"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"math"
	"sync/atomic"
)

var (
	Logger = logger.GetLogger("rpc")
)

// Client is the handle of one multiplexed connection. It is safe for
// concurrent use: every goroutine may issue calls, batches and subscriptions
// at the same time, all of them share the single underlying stream.
type Client struct {
	config    common.ClientConfig
	transport transport.IRPCClientTransport

	// nextID is the next free request id. Ids start at 1, 0 marks an exhausted id space.
	nextID atomic.Uint64
}

// NewClient connects the transport and returns a handle for it
func NewClient(ctx context.Context, config common.ClientConfig, transport transport.IRPCClientTransport) (*Client, error) {
	config = config.WithDefaults()

	// Connect the transport
	if err := transport.Connect(ctx, config); err != nil {
		return nil, err
	}

	c := &Client{
		config:    config,
		transport: transport,
	}
	c.nextID.Store(1)
	return c, nil
}

// --------------------------------------------------------------------------
// Id Allocation
// --------------------------------------------------------------------------

// Allocate returns a fresh request id. Ids are unique for the lifetime of
// the connection and are never reused.
func (c *Client) Allocate() (uint64, error) {
	return c.reserve(1)
}

// reserve atomically reserves the id range [base, base+n). The counter never
// wraps: a range that would pass math.MaxUint64 fails with ErrIDSpaceExhausted.
func (c *Client) reserve(n uint64) (uint64, error) {
	for {
		next := c.nextID.Load()
		if next == 0 || n-1 > math.MaxUint64-next {
			return 0, common.ErrIDSpaceExhausted
		}
		// next+n wraps to 0 exactly when the last id was handed out
		if c.nextID.CompareAndSwap(next, next+n) {
			return next, nil
		}
	}
}

// --------------------------------------------------------------------------
// Calls
// --------------------------------------------------------------------------

// Request calls method with params and decodes the result into result.
// params may be nil, any JSON-marshalable value or a json.RawMessage.
// result may be nil if the caller is not interested in the result.
//
// Errors:
//   - the driver terminated: an error matching common.ErrDisconnected
//   - the server returned an error object: *common.RPCError
//   - the result does not match result: *common.DeserializeError
//   - ctx is done before the reply arrived: ctx.Err()
func (c *Client) Request(ctx context.Context, method string, params any, result any) error {
	raw, err := c.RequestRaw(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &common.DeserializeError{Err: err}
	}
	return nil
}

// RequestRaw calls method with params and returns the undecoded result
func (c *Client) RequestRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	encoded, err := codec.EncodeParams(params)
	if err != nil {
		return nil, err
	}

	id, err := c.Allocate()
	if err != nil {
		return nil, err
	}

	payload, err := codec.EncodeRequest(common.NewRequest(id, method, encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request %s: %w", method, err)
	}

	msg := common.NewRequestMessage(id, payload)
	if err := c.transport.Send(ctx, msg); err != nil {
		return nil, err
	}

	reply, err := await(ctx, c.transport, msg.Waiter)
	if err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	if reply.Response.Error != nil {
		return nil, reply.Response.Error
	}
	return reply.Response.Result, nil
}

// ExecuteBatch sends all calls of batch as one JSON array and waits for the
// reply array. The results are returned in submission order no matter in
// which order the server answered.
func (c *Client) ExecuteBatch(ctx context.Context, batch *BatchRequest) (*BatchResponse, error) {
	if batch == nil || batch.Len() == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	size := batch.Len()

	// Reserve one contiguous id block, ids are assigned by position
	base, err := c.reserve(uint64(size))
	if err != nil {
		return nil, err
	}

	reqs := make([]common.Request, size)
	for i, call := range batch.calls {
		reqs[i] = common.NewRequest(base+uint64(i), call.method, call.params)
	}
	payload, err := codec.EncodeBatch(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	msg := common.NewBatchMessage(base, size, payload)
	if err := c.transport.Send(ctx, msg); err != nil {
		return nil, err
	}

	reply, err := await(ctx, c.transport, msg.BatchWaiter)
	if err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return newBatchResponse(base, size, reply.Responses), nil
}

// --------------------------------------------------------------------------
// Subscriptions
// --------------------------------------------------------------------------

// Subscribe registers a notification stream for a server assigned subscription id.
// The id is usually the result of a subscribe call (see SubscribeCall). It is
// canonicalized first, so "77", "0x4D" and MustSubscriptionID(77) are the same stream.
func (c *Client) Subscribe(ctx context.Context, id common.SubscriptionID) (*Subscription, error) {
	id, err := common.SubscriptionIDFrom(string(id))
	if err != nil {
		return nil, err
	}

	sink := common.NewNotificationSink(c.config.Transport.NotificationBufferSize)
	if err := c.transport.Send(ctx, common.NewSubscribeMessage(id, sink)); err != nil {
		return nil, err
	}
	return &Subscription{id: id, sink: sink, client: c}, nil
}

// SubscribeCall calls a subscribe method, parses the returned subscription id
// and registers a stream for it. Notifications the server pushes before the
// stream is registered are dropped.
func (c *Client) SubscribeCall(ctx context.Context, method string, params any) (*Subscription, error) {
	raw, err := c.RequestRaw(ctx, method, params)
	if err != nil {
		return nil, err
	}
	id, err := common.ParseSubscriptionID(raw)
	if err != nil {
		return nil, &common.DeserializeError{Err: err}
	}
	return c.Subscribe(ctx, id)
}

// Unsubscribe removes the local stream of a subscription and closes it.
// Unsubscribing an unknown id is not an error. The server side subscription
// is not touched, callers cancel it with the matching RPC method.
func (c *Client) Unsubscribe(ctx context.Context, id common.SubscriptionID) error {
	id, err := common.SubscriptionIDFrom(string(id))
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, common.NewUnsubscribeMessage(id))
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Done is closed once the connection terminated and all calls were resolved
func (c *Client) Done() <-chan struct{} {
	return c.transport.Done()
}

// Err returns why the connection terminated, nil while it is alive
func (c *Client) Err() error {
	return c.transport.Err()
}

// Close terminates the connection. Outstanding calls fail with common.ErrDisconnected.
func (c *Client) Close() error {
	Logger.Debugf("Closing client for %s", c.config.Transport.Endpoint)
	return c.transport.Close()
}

// WriteMetrics writes the connection metrics in Prometheus text format
func (c *Client) WriteMetrics(w io.Writer) {
	c.transport.WriteMetrics(w)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// await waits for a single-use waiter. If the driver terminated, a reply
// delivered during the teardown still wins over the generic disconnect error.
func await[T any](ctx context.Context, t transport.IRPCClientTransport, waiter chan T) (T, error) {
	var zero T
	select {
	case r := <-waiter:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-t.Done():
		select {
		case r := <-waiter:
			return r, nil
		default:
			return zero, common.Disconnected(t.Err())
		}
	}
}
