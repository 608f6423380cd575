// Package protocol carries the upload protocol over a single WebSocket per
// session or partition.
//
// Logical channels are multiplexed as msgpack-encoded Frames, one per
// binary WebSocket message. A Frame names its channel; the remaining
// fields are used by the channels that need them:
//
//	hus/key       server -> peer  Data: 32-byte master secret
//	hus/metadata  both ways       Data: metadata JSON
//	hus/signal    peer -> server  Data: {"complete": true}
//	hus/have      server -> peer  Length: blocks already held
//	hus/block     peer -> server  Index, Data, Signature
//	hus/ack       server -> peer  Index, Length, ByteLength
//	hus/sync      peer -> server  Length, ByteLength of the finished log
//
// Conn abstracts the transport so handlers can be driven by an in-memory
// Pipe in tests.
package protocol
