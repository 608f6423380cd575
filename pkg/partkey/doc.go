// Package partkey derives per-partition log identities from a session
// master secret.
//
// Each partition of an upload is replicated as its own verified log. The
// log's signing identity is an Ed25519 key pair whose seed is expanded
// with HKDF-SHA256 from the session master secret, the partition number,
// and the partition size. Both peers hold the master secret, so either
// side can reconstruct any partition's identity without coordination.
//
// Derivation is a pure function: no IO, no shared state, safe for
// concurrent use.
package partkey
