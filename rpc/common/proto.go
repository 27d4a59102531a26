package common

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version spoken on the wire
const Version = "2.0"

// --------------------------------------------------------------------------
// Wire Structures
// --------------------------------------------------------------------------

// Request is a single outbound JSON-RPC call.
// Params is kept pre-encoded so encoding errors surface before anything is queued.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest creates a new Request with the protocol version set
func NewRequest(id uint64, method string, params json.RawMessage) Request {
	return Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Response is a reply correlated to a request id. Exactly one of Result and Error is set.
type Response struct {
	ID     uint64
	Result json.RawMessage
	Error  *RPCError
}

// Notification is an unsolicited push for a subscription
type Notification struct {
	Method       string
	Subscription SubscriptionID
	Result       json.RawMessage
}

// --------------------------------------------------------------------------
// Waiter Payloads
// --------------------------------------------------------------------------

// Reply is what a single request waiter receives. Err is only set for
// transport level failures (e.g. the driver terminated), server errors are
// carried in Response.Error.
type Reply struct {
	Response Response
	Err      error
}

// BatchReply is what a batch waiter receives: the raw reply array in the
// order the server sent it, or a transport level error
type BatchReply struct {
	Responses []Response
	Err       error
}

// --------------------------------------------------------------------------
// Control Messages (client handle -> IO driver)
// --------------------------------------------------------------------------

// ControlMessage is sent from the client handle to the writer loop of the IO driver.
// Which fields are used depends on the type of message.
type ControlMessage struct {
	// Type of message
	Type ControlType

	// Used for: Request (request id), Batch (base id of the reserved range)
	ID uint64
	// Used for: Batch (number of reserved ids)
	Size int
	// Used for: Request, Batch (encoded bytes written to the socket)
	Payload []byte

	// Used for: Request
	Waiter chan Reply
	// Used for: Batch
	BatchWaiter chan BatchReply

	// Used for: Subscribe, Unsubscribe
	SubID SubscriptionID
	// Used for: Subscribe
	Sink *NotificationSink
}

// NewRequestMessage creates a new Request control message with a fresh single-use waiter
func NewRequestMessage(id uint64, payload []byte) *ControlMessage {
	return &ControlMessage{
		Type:    CtrlRequest,
		ID:      id,
		Payload: payload,
		Waiter:  make(chan Reply, 1),
	}
}

// NewBatchMessage creates a new Batch control message with a fresh single-use waiter
func NewBatchMessage(baseID uint64, size int, payload []byte) *ControlMessage {
	return &ControlMessage{
		Type:        CtrlBatch,
		ID:          baseID,
		Size:        size,
		Payload:     payload,
		BatchWaiter: make(chan BatchReply, 1),
	}
}

// NewSubscribeMessage creates a new Subscribe control message
func NewSubscribeMessage(subID SubscriptionID, sink *NotificationSink) *ControlMessage {
	return &ControlMessage{
		Type:  CtrlSubscribe,
		SubID: subID,
		Sink:  sink,
	}
}

// NewUnsubscribeMessage creates a new Unsubscribe control message
func NewUnsubscribeMessage(subID SubscriptionID) *ControlMessage {
	return &ControlMessage{
		Type:  CtrlUnsubscribe,
		SubID: subID,
	}
}

// --------------------------------------------------------------------------
// Control Type Definition
// --------------------------------------------------------------------------

// ControlType defines the type of control message.
type ControlType uint8

const (
	CtrlUnknown     ControlType = iota
	CtrlRequest                 // Single call, waiter keyed by request id
	CtrlBatch                   // Batch call, waiter keyed by base id
	CtrlSubscribe               // Register a notification sink
	CtrlUnsubscribe             // Remove a notification sink
)

// String returns the string representation of a ControlType.
func (t ControlType) String() string {
	switch t {
	case CtrlRequest:
		return "request"
	case CtrlBatch:
		return "batch"
	case CtrlSubscribe:
		return "subscribe"
	case CtrlUnsubscribe:
		return "unsubscribe"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}
