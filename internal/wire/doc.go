// Package wire implements the framing used between the coordinator and its
// workers on their long-lived TCP connections.
//
// # Frame Layout
//
// Every message is a self-delimiting frame:
//
//	┌──────────────────┬─────────────────────────────────────┐
//	│ length (4 bytes) │ body (length bytes)                 │
//	│ big-endian u32   │ protobuf wire format                │
//	└──────────────────┴─────────────────────────────────────┘
//
// The body uses the protobuf wire format without generated code:
//
//	field 1 (varint)  request ID, echoed by the worker
//	field 2 (varint)  chunk index within the job
//	field 3 (bytes)   packed zigzag varints, one per int32 value
//
// Zigzag encoding keeps small negative numbers small on the wire and makes the
// full int32 range, including math.MinInt32, round-trip exactly.
//
// # Stream Lifetime
//
// A Codec never owns its transport. It has no Close method: finishing a
// request/response pair leaves the connection open for the next pair. Closing
// the connection is the job of whoever dialed or accepted it.
//
// # Usage
//
//	codec := wire.NewCodec(conn, wire.DefaultMaxFrameSize)
//	if err := codec.Send(wire.Frame{ID: 7, Index: 0, Values: chunk}); err != nil {
//	    return err
//	}
//	resp, err := codec.Receive()
package wire
