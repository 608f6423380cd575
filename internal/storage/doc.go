// Package storage provides the ordered key-value store that holds session
// state.
//
// The server treats its persistence layer purely as an interface: get,
// set, delete and prefix scan over byte keys, with callers namespacing
// keys by convention. Two engines implement it:
//
//   - BadgerEngine: durable, LSM based, with periodic value log GC and
//     Prometheus size gauges
//   - MemoryEngine: a sharded in-process map for tests and ephemeral runs
//
// Both engines are safe for concurrent use. Writes to a single key are
// serialized by the engine; callers that need read-modify-write atomicity
// across calls must provide their own locking.
package storage
