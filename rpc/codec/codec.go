package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/common"
)

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// Handler receives the messages parsed from an inbound buffer, in wire order
type Handler interface {
	// OnResponse is called for a top-level object carrying an id and a result or an error
	OnResponse(resp common.Response)
	// OnBatch is called for a top-level array of responses
	OnBatch(resps []common.Response)
	// OnNotification is called for a top-level object with method and params but no id
	OnNotification(n common.Notification)
	// OnUnknown is called for well-formed values that are none of the above
	OnUnknown(raw json.RawMessage, reason error)
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Split decodes as many complete top-level JSON values from buf as possible and
// calls fn for each. It returns the number of leading bytes fully consumed.
// A truncated trailing value is not an error, its bytes are simply not consumed.
// Split starts from scratch on every call, reader loops use a Scanner instead.
func Split(buf []byte, fn func(raw json.RawMessage) error) (int, error) {
	return new(Scanner).Split(buf, fn)
}

// Decode parses every complete message in buf and dispatches it to h.
// Each top-level value is parsed once and branched on its shape:
// an object is a single reply or notification, an array is a batch reply.
func Decode(buf []byte, h Handler) (int, error) {
	return new(Scanner).Decode(buf, h)
}

// Decode is like the package level Decode but resumes the scan of a pending value
func (s *Scanner) Decode(buf []byte, h Handler) (int, error) {
	return s.Split(buf, func(raw json.RawMessage) error {
		return dispatch(raw, h)
	})
}

func dispatch(raw json.RawMessage, h Handler) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '{':
		return decodeObject(raw, h)
	case '[':
		return decodeBatch(raw, h)
	default:
		return &common.ProtocolError{Err: fmt.Errorf("unexpected top-level value %.32s", raw)}
	}
}

// notificationParams holds the members of a subscription notification
type notificationParams struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

func decodeObject(raw json.RawMessage, h Handler) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &common.ProtocolError{Err: err}
	}

	resp, isResp, err := parseResponse(fields)
	if isResp {
		if err != nil {
			h.OnUnknown(raw, err)
			return nil
		}
		h.OnResponse(resp)
		return nil
	}

	n, isNotification, err := parseNotification(fields)
	if isNotification {
		if err != nil {
			h.OnUnknown(raw, err)
			return nil
		}
		h.OnNotification(n)
		return nil
	}

	h.OnUnknown(raw, fmt.Errorf("neither a response nor a notification"))
	return nil
}

func decodeBatch(raw json.RawMessage, h Handler) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return &common.ProtocolError{Err: err}
	}

	resps := make([]common.Response, 0, len(elems))
	for _, elem := range elems {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(elem, &fields); err != nil {
			h.OnUnknown(elem, fmt.Errorf("batch element is not an object"))
			continue
		}
		resp, isResp, err := parseResponse(fields)
		if !isResp || err != nil {
			if err == nil {
				err = fmt.Errorf("batch element is not a response")
			}
			h.OnUnknown(elem, err)
			continue
		}
		resps = append(resps, resp)
	}

	if len(resps) == 0 {
		h.OnUnknown(raw, fmt.Errorf("batch without correlatable responses"))
		return nil
	}
	h.OnBatch(resps)
	return nil
}

// parseResponse reports whether the object is shaped like a response (id plus result or error)
// and parses it. A response with a null id can not be correlated and is reported as an error.
func parseResponse(fields map[string]json.RawMessage) (common.Response, bool, error) {
	rawID, hasID := fields["id"]
	result, hasResult := fields["result"]
	rawErr, hasError := fields["error"]

	if !hasID || (!hasResult && !hasError) {
		return common.Response{}, false, nil
	}

	var resp common.Response
	if isNull(rawID) {
		if hasError {
			return resp, true, fmt.Errorf("uncorrelated error: %s", rawErr)
		}
		return resp, true, fmt.Errorf("response without id")
	}
	if err := json.Unmarshal(rawID, &resp.ID); err != nil {
		return resp, true, fmt.Errorf("invalid response id %s: %w", rawID, err)
	}

	if hasError && !isNull(rawErr) {
		resp.Error = &common.RPCError{}
		if err := json.Unmarshal(rawErr, resp.Error); err != nil {
			return resp, true, fmt.Errorf("invalid error object for id %d: %w", resp.ID, err)
		}
		return resp, true, nil
	}

	if !hasResult {
		return resp, true, fmt.Errorf("response %d has a null error and no result", resp.ID)
	}
	resp.Result = result
	return resp, true, nil
}

// parseNotification reports whether the object is shaped like a subscription notification and parses it
func parseNotification(fields map[string]json.RawMessage) (common.Notification, bool, error) {
	rawMethod, hasMethod := fields["method"]
	rawParams, hasParams := fields["params"]
	if rawID, hasID := fields["id"]; hasID && !isNull(rawID) {
		return common.Notification{}, false, nil
	}
	if !hasMethod || !hasParams {
		return common.Notification{}, false, nil
	}

	var n common.Notification
	if err := json.Unmarshal(rawMethod, &n.Method); err != nil {
		return n, true, fmt.Errorf("invalid notification method: %w", err)
	}

	var p notificationParams
	if err := json.Unmarshal(rawParams, &p); err != nil {
		return n, true, fmt.Errorf("invalid notification params: %w", err)
	}
	subID, err := common.ParseSubscriptionID(p.Subscription)
	if err != nil {
		return n, true, err
	}
	n.Subscription = subID
	n.Result = p.Result
	return n, true, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// EncodeParams encodes call parameters. Already encoded parameters are passed through.
func EncodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		return b, nil
	}
}

// EncodeRequest encodes a single request
func EncodeRequest(req common.Request) ([]byte, error) {
	return json.Marshal(req)
}

// EncodeBatch encodes a batch of requests as one array
func EncodeBatch(reqs []common.Request) ([]byte, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	return json.Marshal(reqs)
}

// responseWire is the outbound form of a response (used by the demo server)
type responseWire struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *common.RPCError `json:"error,omitempty"`
}

// EncodeResponse encodes a response for the given raw request id. A nil id is encoded as null.
func EncodeResponse(id json.RawMessage, result json.RawMessage, rpcErr *common.RPCError) ([]byte, error) {
	return json.Marshal(NewResponseWire(id, result, rpcErr))
}

// NewResponseWire builds the wire form of a response so several can be marshalled as one batch
func NewResponseWire(id json.RawMessage, result json.RawMessage, rpcErr *common.RPCError) any {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	if rpcErr == nil && len(result) == 0 {
		result = json.RawMessage("null")
	}
	return responseWire{JSONRPC: common.Version, ID: id, Result: result, Error: rpcErr}
}

// notificationWire is the outbound form of a subscription notification
type notificationWire struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  notificationParams `json:"params"`
}

// EncodeNotification encodes a subscription notification
func EncodeNotification(method string, subID common.SubscriptionID, result any) ([]byte, error) {
	res, err := EncodeParams(result)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		res = json.RawMessage("null")
	}
	sub, err := json.Marshal(subID.String())
	if err != nil {
		return nil, err
	}
	return json.Marshal(notificationWire{
		JSONRPC: common.Version,
		Method:  method,
		Params:  notificationParams{Subscription: sub, Result: res},
	})
}
