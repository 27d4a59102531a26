package common

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// NotificationSink is the bounded receiving end of a subscription.
//
// Push never blocks: when the buffer is full the oldest queued notification is
// evicted and counted, so a slow consumer can not stall the reader loop of the
// driver. Close is idempotent and ends the stream seen by the consumer.
type NotificationSink struct {
	mu      sync.Mutex
	ch      chan json.RawMessage
	closed  bool
	dropped atomic.Uint64
	onDrop  func()
}

// NewNotificationSink creates a sink buffering at most size notifications
func NewNotificationSink(size int) *NotificationSink {
	if size <= 0 {
		size = DefaultNotificationBufferSize
	}
	return &NotificationSink{
		ch: make(chan json.RawMessage, size),
	}
}

// OnDrop registers a callback invoked for every evicted notification (used for metrics)
func (s *NotificationSink) OnDrop(fn func()) {
	s.mu.Lock()
	s.onDrop = fn
	s.mu.Unlock()
}

// Push queues a notification. It returns false if the sink is already closed.
func (s *NotificationSink) Push(payload json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	for {
		select {
		case s.ch <- payload:
			return true
		default:
		}

		// buffer full: evict the oldest entry and retry
		select {
		case <-s.ch:
			s.dropped.Add(1)
			if s.onDrop != nil {
				s.onDrop()
			}
		default:
			// the consumer drained the buffer in between
		}
	}
}

// C returns the channel the consumer reads from. It is closed by Close.
func (s *NotificationSink) C() <-chan json.RawMessage {
	return s.ch
}

// Dropped returns how many notifications were evicted because the consumer was too slow
func (s *NotificationSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends the stream. Already queued notifications can still be read.
func (s *NotificationSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// IsClosed returns true if the sink was closed
func (s *NotificationSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
