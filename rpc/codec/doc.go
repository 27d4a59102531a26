// Package codec implements the JSON-RPC 2.0 wire codec of the ipcmux transport.
//
// Inbound bytes arrive as an unframed stream of JSON values. Split and Decode
// work on an accumulating buffer: they consume every complete top-level value
// and report how many leading bytes were consumed, so an incomplete trailing
// fragment can be kept for the next read. A Scanner does the same but keeps
// its position in a pending value across calls, which reader loops use so a
// large message is scanned once in total.
//
// Each top-level value is parsed exactly once and branched on its shape:
//
//   - an object is a single reply (id + result, id + error) or a subscription
//     notification (method + params, no id)
//   - an array is a batch reply, each element parsed with the object rules
//
// Malformed bytes are reported as *common.ProtocolError. Well-formed values
// that are not recognised are handed to Handler.OnUnknown and skipped.
//
// The encoding helpers build requests, batches, responses and notifications.
package codec
