package server

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/codec"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// NotificationMethod is the method name of every pushed notification
	NotificationMethod = "rpc_subscription"

	defaultIntervalMs = 1000
	maxSleepMs        = 60_000
)

// demoSubscription is one running notification stream
type demoSubscription struct {
	sessionID uint64
	stop      chan struct{}
	stopOnce  sync.Once
}

func (d *demoSubscription) cancel() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
}

// demoAdapter implements the methods used for local testing of clients
type demoAdapter struct {
	subs      *xsync.MapOf[common.SubscriptionID, *demoSubscription]
	nextSubID atomic.Uint64
}

func newDemoAdapter() *demoAdapter {
	return &demoAdapter{
		subs: xsync.NewMapOf[common.SubscriptionID, *demoSubscription](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IRPCServerAdapter)
// --------------------------------------------------------------------------

func (a *demoAdapter) Methods() map[string]MethodHandler {
	return map[string]MethodHandler{
		"rpc_ping":        a.ping,
		"rpc_echo":        a.echo,
		"rpc_sleep":       a.sleep,
		"rpc_subscribe":   a.subscribe,
		"rpc_unsubscribe": a.unsubscribe,
	}
}

// --------------------------------------------------------------------------
// Methods
// --------------------------------------------------------------------------

// ping returns "pong"
func (a *demoAdapter) ping(_ transport.ServerSession, _ json.RawMessage) (any, *common.RPCError) {
	return "pong", nil
}

// echo returns its params unchanged
func (a *demoAdapter) echo(_ transport.ServerSession, params json.RawMessage) (any, *common.RPCError) {
	if len(params) == 0 {
		return nil, nil
	}
	return params, nil
}

// sleep waits [ms] milliseconds and returns ms. Used to provoke out of order replies.
func (a *demoAdapter) sleep(_ transport.ServerSession, params json.RawMessage) (any, *common.RPCError) {
	var args []int
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 || args[0] < 0 || args[0] > maxSleepMs {
		return nil, common.NewRPCError(common.CodeInvalidParams, fmt.Sprintf("expected [ms] with 0 <= ms <= %d", maxSleepMs))
	}
	time.Sleep(time.Duration(args[0]) * time.Millisecond)
	return args[0], nil
}

// subscribe starts pushing {"seq": n} every intervalMs milliseconds.
// Params: [] or [intervalMs] or [intervalMs, count], count 0 means unlimited.
func (a *demoAdapter) subscribe(session transport.ServerSession, params json.RawMessage) (any, *common.RPCError) {
	interval, count := defaultIntervalMs, 0
	if len(params) > 0 && string(params) != "null" {
		var args []int
		if err := json.Unmarshal(params, &args); err != nil || len(args) > 2 {
			return nil, common.NewRPCError(common.CodeInvalidParams, "expected [intervalMs, count]")
		}
		if len(args) > 0 {
			interval = args[0]
		}
		if len(args) > 1 {
			count = args[1]
		}
	}
	if interval <= 0 || count < 0 {
		return nil, common.NewRPCError(common.CodeInvalidParams, "intervalMs must be positive and count not negative")
	}

	id := common.MustSubscriptionID(a.nextSubID.Add(1))
	sub := &demoSubscription{sessionID: session.ID(), stop: make(chan struct{})}
	a.subs.Store(id, sub)

	go a.push(session, id, sub, time.Duration(interval)*time.Millisecond, count)

	Logger.Debugf("Session %d subscribed %s (every %dms)", session.ID(), id, interval)
	return id.String(), nil
}

// unsubscribe stops a stream: [id] -> true if it existed
func (a *demoAdapter) unsubscribe(session transport.ServerSession, params json.RawMessage) (any, *common.RPCError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, common.NewRPCError(common.CodeInvalidParams, "expected [subscriptionId]")
	}
	id, err := common.ParseSubscriptionID(args[0])
	if err != nil {
		return nil, common.NewRPCError(common.CodeInvalidParams, err.Error())
	}

	sub, ok := a.subs.Load(id)
	if !ok || sub.sessionID != session.ID() {
		return false, nil
	}
	a.subs.Delete(id)
	sub.cancel()
	return true, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// push sends notifications until the subscription is cancelled, the count is reached or the session ends
func (a *demoAdapter) push(session transport.ServerSession, id common.SubscriptionID, sub *demoSubscription, interval time.Duration, count int) {
	defer a.subs.Delete(id)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for seq := 1; count == 0 || seq <= count; seq++ {
		select {
		case <-sub.stop:
			return
		case <-session.Done():
			return
		case <-ticker.C:
		}

		msg, err := codec.EncodeNotification(NotificationMethod, id, map[string]int{"seq": seq})
		if err != nil {
			Logger.Errorf("Failed to encode notification for %s: %v", id, err)
			return
		}
		if err := session.Send(msg); err != nil {
			Logger.Debugf("Stopping subscription %s: %v", id, err)
			return
		}
	}
}

// stopAll cancels every running subscription
func (a *demoAdapter) stopAll() {
	a.subs.Range(func(id common.SubscriptionID, sub *demoSubscription) bool {
		sub.cancel()
		a.subs.Delete(id)
		return true
	})
}
