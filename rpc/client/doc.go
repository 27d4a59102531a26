// Package client implements the handle of a multiplexed JSON-RPC connection.
// Any number of goroutines issue calls, batches and subscriptions through one
// Client, all of them share a single stream driven by a transport.
//
// Key Components:
//
//   - Client: Allocates request ids, encodes calls, hands them to the IO
//     driver and waits for the correlated reply.
//
//   - BatchRequest/BatchResponse: A batch reserves one contiguous block of
//     ids. The reply array is re-indexed by id, so results are returned in
//     submission order no matter in which order the server answered.
//
//   - Subscription: A bounded stream of notification payloads for one
//     server assigned subscription id.
//
// Usage Example:
//
//	config := common.ClientConfig{TimeoutSecond: 5}
//	config.Transport.Endpoint = "/tmp/node.sock"
//
//	c, err := client.NewClient(ctx, config, unix.NewUnixClientTransport())
//	if err != nil {
//	  return err
//	}
//	defer c.Close()
//
//	var block string
//	err = c.Request(ctx, "eth_blockNumber", nil, &block)
//
//	sub, err := c.SubscribeCall(ctx, "eth_subscribe", []string{"newHeads"})
//	for payload := range sub.Notifications() {
//	  ...
//	}
//
// Cancellation:
//
//	A call whose context ends returns ctx.Err(). The request may already be
//	on the wire, its reply is discarded when it arrives.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
package client
