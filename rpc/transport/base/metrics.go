package base

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"io"
	"sync/atomic"
)

var driverSeq atomic.Uint64

// driverMetrics holds the counters of one driver. Every driver owns its own
// metrics set so several connections in one process do not share counters.
type driverMetrics struct {
	set *metrics.Set

	requestsSent     *metrics.Counter
	batchesSent      *metrics.Counter
	repliesDelivered *metrics.Counter
	batchesDelivered *metrics.Counter
	unmatchedReplies *metrics.Counter
	unknownMessages  *metrics.Counter
	notifications    *metrics.Counter
	droppedNotifs    *metrics.Counter
	unknownSubs      *metrics.Counter
	unknownUnsubs    *metrics.Counter
	bytesRead        *metrics.Counter
	bytesWritten     *metrics.Counter
}

// newDriverMetrics creates the metrics set of a driver. The gauges are read lazily from the given callbacks.
func newDriverMetrics(transportName string, queueDepth, pending, subscriptions func() float64) *driverMetrics {
	set := metrics.NewSet()
	labels := fmt.Sprintf(`{transport=%q,driver="%d"}`, transportName, driverSeq.Add(1))
	name := func(metric string) string {
		return "ipcmux_" + metric + labels
	}

	m := &driverMetrics{
		set:              set,
		requestsSent:     set.NewCounter(name("requests_sent_total")),
		batchesSent:      set.NewCounter(name("batches_sent_total")),
		repliesDelivered: set.NewCounter(name("replies_delivered_total")),
		batchesDelivered: set.NewCounter(name("batches_delivered_total")),
		unmatchedReplies: set.NewCounter(name("replies_unmatched_total")),
		unknownMessages:  set.NewCounter(name("messages_unknown_total")),
		notifications:    set.NewCounter(name("notifications_delivered_total")),
		droppedNotifs:    set.NewCounter(name("notifications_dropped_total")),
		unknownSubs:      set.NewCounter(name("notifications_unknown_subscription_total")),
		unknownUnsubs:    set.NewCounter(name("unsubscribe_unknown_total")),
		bytesRead:        set.NewCounter(name("bytes_read_total")),
		bytesWritten:     set.NewCounter(name("bytes_written_total")),
	}
	set.NewGauge(name("control_queue_depth"), queueDepth)
	set.NewGauge(name("pending_requests"), pending)
	set.NewGauge(name("subscriptions"), subscriptions)
	return m
}

// write writes all metrics of the set in Prometheus text format
func (m *driverMetrics) write(w io.Writer) {
	m.set.WritePrometheus(w)
}
