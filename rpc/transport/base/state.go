package base

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// pendingBatch is the waiter of a batch, keyed by the base id of its reserved range
type pendingBatch struct {
	size   int
	waiter chan common.BatchReply
}

// correlationState maps request ids to waiters and subscription ids to sinks.
//
// The writer loop inserts, the reader loop removes and the teardown drains.
// Fulfilment always goes through LoadAndDelete, so a waiter is resolved at
// most once no matter how often the peer repeats a reply. Waiter channels
// have capacity 1, delivering never blocks the reader.
//
// correlationState implements codec.Handler.
type correlationState struct {
	pending *xsync.MapOf[uint64, chan common.Reply]
	batches *xsync.MapOf[uint64, pendingBatch]
	subs    *xsync.MapOf[common.SubscriptionID, *common.NotificationSink]
	metrics *driverMetrics
}

func newCorrelationState() *correlationState {
	return &correlationState{
		pending: xsync.NewMapOf[uint64, chan common.Reply](),
		batches: xsync.NewMapOf[uint64, pendingBatch](),
		subs:    xsync.NewMapOf[common.SubscriptionID, *common.NotificationSink](),
	}
}

// --------------------------------------------------------------------------
// Registration (writer loop)
// --------------------------------------------------------------------------

// registerRequest stores the waiter of a single request.
// A second registration for a pending id means the id allocator is broken.
func (s *correlationState) registerRequest(id uint64, waiter chan common.Reply) {
	if _, loaded := s.pending.LoadOrStore(id, waiter); loaded {
		panic(fmt.Sprintf("ipcmux: request id %d registered twice", id))
	}
}

// registerBatch stores the waiter of a batch under its base id
func (s *correlationState) registerBatch(baseID uint64, size int, waiter chan common.BatchReply) {
	if _, loaded := s.batches.LoadOrStore(baseID, pendingBatch{size: size, waiter: waiter}); loaded {
		panic(fmt.Sprintf("ipcmux: batch base id %d registered twice", baseID))
	}
}

// abortRequest resolves a request whose bytes could not be written
func (s *correlationState) abortRequest(id uint64, err error) {
	if waiter, ok := s.pending.LoadAndDelete(id); ok {
		waiter <- common.Reply{Err: err}
	}
}

// abortBatch resolves a batch whose bytes could not be written
func (s *correlationState) abortBatch(baseID uint64, err error) {
	if b, ok := s.batches.LoadAndDelete(baseID); ok {
		b.waiter <- common.BatchReply{Err: err}
	}
}

// subscribe registers a sink. A live sink for the same id is replaced and closed.
func (s *correlationState) subscribe(id common.SubscriptionID, sink *common.NotificationSink) {
	if s.metrics != nil {
		sink.OnDrop(s.metrics.droppedNotifs.Inc)
	}
	old, loaded := s.subs.LoadAndStore(id, sink)
	if loaded && old != sink {
		Logger.Warningf("Subscription %s registered twice, closing the previous stream", id)
		old.Close()
	}
}

// unsubscribe removes and closes a sink. Unknown ids are only reported.
func (s *correlationState) unsubscribe(id common.SubscriptionID) {
	sink, ok := s.subs.LoadAndDelete(id)
	if !ok {
		Logger.Warningf("Unsubscribe for unknown subscription %s", id)
		if s.metrics != nil {
			s.metrics.unknownUnsubs.Inc()
		}
		return
	}
	sink.Close()
}

// --------------------------------------------------------------------------
// Dispatch (reader loop, codec.Handler)
// --------------------------------------------------------------------------

func (s *correlationState) OnResponse(resp common.Response) {
	waiter, ok := s.pending.LoadAndDelete(resp.ID)
	if !ok {
		Logger.Warningf("Dropping reply for unknown request id %d", resp.ID)
		s.countUnmatched()
		return
	}
	waiter <- common.Reply{Response: resp}
	if s.metrics != nil {
		s.metrics.repliesDelivered.Inc()
	}
}

// OnBatch routes a reply array to its batch. The server may reorder the
// replies, so the owner is found by the lowest id in the array. If the peer
// left out the base entry the range containing the lowest id is searched.
func (s *correlationState) OnBatch(resps []common.Response) {
	lowest := resps[0].ID
	for _, r := range resps[1:] {
		if r.ID < lowest {
			lowest = r.ID
		}
	}

	b, ok := s.batches.LoadAndDelete(lowest)
	if !ok {
		base, found := s.findBatch(lowest)
		if found {
			b, ok = s.batches.LoadAndDelete(base)
		}
	}
	if !ok {
		Logger.Warningf("Dropping batch reply of %d entries for unknown base id %d", len(resps), lowest)
		s.countUnmatched()
		return
	}

	b.waiter <- common.BatchReply{Responses: resps}
	if s.metrics != nil {
		s.metrics.batchesDelivered.Inc()
	}
}

func (s *correlationState) OnNotification(n common.Notification) {
	sink, ok := s.subs.Load(n.Subscription)
	if !ok {
		Logger.Warningf("Dropping notification %q for unknown subscription %s", n.Method, n.Subscription)
		if s.metrics != nil {
			s.metrics.unknownSubs.Inc()
		}
		return
	}
	// a concurrent unsubscribe may have closed the sink already
	if sink.Push(n.Result) && s.metrics != nil {
		s.metrics.notifications.Inc()
	}
}

func (s *correlationState) OnUnknown(raw json.RawMessage, reason error) {
	Logger.Warningf("Dropping unrecognised message (%v): %.128s", reason, raw)
	if s.metrics != nil {
		s.metrics.unknownMessages.Inc()
	}
}

// findBatch returns the base id of the pending batch whose range contains id
func (s *correlationState) findBatch(id uint64) (uint64, bool) {
	var base uint64
	found := false
	s.batches.Range(func(b uint64, pb pendingBatch) bool {
		if id >= b && id-b < uint64(pb.size) {
			base, found = b, true
			return false
		}
		return true
	})
	return base, found
}

func (s *correlationState) countUnmatched() {
	if s.metrics != nil {
		s.metrics.unmatchedReplies.Inc()
	}
}

// --------------------------------------------------------------------------
// Teardown
// --------------------------------------------------------------------------

// teardown resolves every remaining waiter with err and closes every sink.
// It must only run after the reader and writer loops returned.
func (s *correlationState) teardown(err error) {
	s.pending.Range(func(id uint64, _ chan common.Reply) bool {
		if waiter, ok := s.pending.LoadAndDelete(id); ok {
			waiter <- common.Reply{Err: err}
		}
		return true
	})
	s.batches.Range(func(id uint64, _ pendingBatch) bool {
		if b, ok := s.batches.LoadAndDelete(id); ok {
			b.waiter <- common.BatchReply{Err: err}
		}
		return true
	})
	s.subs.Range(func(id common.SubscriptionID, _ *common.NotificationSink) bool {
		if sink, ok := s.subs.LoadAndDelete(id); ok {
			sink.Close()
		}
		return true
	})
}
