package client

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/codec"
	"github.com/ValentinKolb/ipcmux/rpc/common"
)

// --------------------------------------------------------------------------
// Batch Request
// --------------------------------------------------------------------------

type batchCall struct {
	method string
	params json.RawMessage
}

// BatchRequest collects calls that are sent as one JSON array
type BatchRequest struct {
	calls []batchCall
}

// NewBatchRequest creates an empty batch
func NewBatchRequest() *BatchRequest {
	return &BatchRequest{}
}

// Add appends a call. params are encoded immediately so encoding errors
// surface here and not when the batch is executed.
func (b *BatchRequest) Add(method string, params any) error {
	encoded, err := codec.EncodeParams(params)
	if err != nil {
		return err
	}
	b.calls = append(b.calls, batchCall{method: method, params: encoded})
	return nil
}

// Len returns the number of calls in the batch
func (b *BatchRequest) Len() int {
	return len(b.calls)
}

// --------------------------------------------------------------------------
// Batch Response
// --------------------------------------------------------------------------

// BatchResponse holds the results of a batch in submission order.
// Entries the server did not answer carry an *common.RPCError with code
// common.CodeMissingResponse.
type BatchResponse struct {
	responses []common.Response
	next      int
}

// newBatchResponse re-indexes the reply array by id - base
func newBatchResponse(base uint64, size int, replies []common.Response) *BatchResponse {
	responses := make([]common.Response, size)
	answered := make([]bool, size)

	for _, r := range replies {
		if r.ID < base || r.ID-base >= uint64(size) {
			Logger.Warningf("Ignoring batch reply with id %d outside of [%d, %d)", r.ID, base, base+uint64(size))
			continue
		}
		idx := r.ID - base
		if answered[idx] {
			Logger.Warningf("Ignoring duplicate batch reply for id %d", r.ID)
			continue
		}
		responses[idx] = r
		answered[idx] = true
	}

	for i := range responses {
		if !answered[i] {
			id := base + uint64(i)
			responses[i] = common.Response{
				ID:    id,
				Error: &common.RPCError{Code: common.CodeMissingResponse, Message: fmt.Sprintf("no response for id %d", id)},
			}
		}
	}
	return &BatchResponse{responses: responses}
}

// Len returns the number of entries
func (r *BatchResponse) Len() int {
	return len(r.responses)
}

// Raw returns the undecoded result of entry i or its *common.RPCError
func (r *BatchResponse) Raw(i int) (json.RawMessage, error) {
	if i < 0 || i >= len(r.responses) {
		return nil, fmt.Errorf("batch index %d out of range [0, %d)", i, len(r.responses))
	}
	resp := r.responses[i]
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Result decodes the result of entry i into out
func (r *BatchResponse) Result(i int, out any) error {
	raw, err := r.Raw(i)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &common.DeserializeError{Err: err}
	}
	return nil
}

// Next decodes the next entry into out. It returns false once all entries were consumed.
//
//	for {
//	    var v T
//	    ok, err := resp.Next(&v)
//	    if !ok { break }
//	    ...
//	}
func (r *BatchResponse) Next(out any) (bool, error) {
	if r.next >= len(r.responses) {
		return false, nil
	}
	err := r.Result(r.next, out)
	r.next++
	return true, err
}
