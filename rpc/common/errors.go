package common

import (
	"encoding/json"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Sentinel Errors
// --------------------------------------------------------------------------

var (
	// ErrDisconnected is returned by every call once the IO driver terminated.
	// Errors returned for a terminated driver satisfy errors.Is(err, ErrDisconnected)
	// and unwrap to the cause of the termination.
	ErrDisconnected = errors.New("ipcmux: disconnected")

	// ErrIDSpaceExhausted is returned when allocating ids would wrap the 64-bit counter
	ErrIDSpaceExhausted = errors.New("ipcmux: request id space exhausted")

	// ErrConnectionClosed is the terminal cause when the peer closed the stream
	ErrConnectionClosed = errors.New("ipcmux: connection closed by peer")

	// ErrClientClosed is the terminal cause when the client handle was closed locally
	ErrClientClosed = errors.New("ipcmux: client closed")
)

// --------------------------------------------------------------------------
// Driver Errors (fatal to the connection)
// --------------------------------------------------------------------------

// IOError is a read, write or dial failure
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ipcmux: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ProtocolError reports bytes that could not be parsed as JSON-RPC messages
type ProtocolError struct {
	// Offset of the offending value in the read buffer
	Offset int
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ipcmux: protocol error at offset %d: %v", e.Offset, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// disconnectedError carries the terminal cause of a driver while matching ErrDisconnected
type disconnectedError struct {
	cause error
}

func (e *disconnectedError) Error() string {
	if e.cause == nil {
		return ErrDisconnected.Error()
	}
	return fmt.Sprintf("%s: %v", ErrDisconnected, e.cause)
}

func (e *disconnectedError) Is(target error) bool {
	return target == ErrDisconnected
}

func (e *disconnectedError) Unwrap() error {
	return e.cause
}

// Disconnected wraps the terminal cause of a driver into an error matching ErrDisconnected
func Disconnected(cause error) error {
	if cause != nil && errors.Is(cause, ErrDisconnected) {
		return cause
	}
	return &disconnectedError{cause: cause}
}

// --------------------------------------------------------------------------
// Call Errors (local to a single call)
// --------------------------------------------------------------------------

// Standard JSON-RPC 2.0 error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeMissingResponse marks a batch entry the server did not answer
	CodeMissingResponse = -32099
)

// RPCError is a structured error returned by the server for a specific id
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("json-rpc error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// NewRPCError creates a new RPCError without data
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// DeserializeError reports a success payload that does not match the expected shape
type DeserializeError struct {
	Err error
}

func (e *DeserializeError) Error() string {
	return fmt.Sprintf("ipcmux: failed to deserialize result: %v", e.Err)
}

func (e *DeserializeError) Unwrap() error {
	return e.Err
}
