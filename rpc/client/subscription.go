package client

import (
	"context"
	"encoding/json"
	"github.com/ValentinKolb/ipcmux/rpc/common"
)

// Subscription is the receiving end of a server push stream
type Subscription struct {
	id     common.SubscriptionID
	sink   *common.NotificationSink
	client *Client
}

// ID returns the canonical subscription id
func (s *Subscription) ID() common.SubscriptionID {
	return s.id
}

// Notifications yields the raw result of every notification in arrival order.
// The channel is closed on Unsubscribe or when the connection terminates.
func (s *Subscription) Notifications() <-chan json.RawMessage {
	return s.sink.C()
}

// Dropped returns how many notifications were discarded because they were not consumed in time
func (s *Subscription) Dropped() uint64 {
	return s.sink.Dropped()
}

// Unsubscribe removes the local stream, see Client.Unsubscribe
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.client.Unsubscribe(ctx, s.id)
}
