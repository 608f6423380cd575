// Package vlog is a file-backed, append-only verified log of blocks.
//
// Each feed belongs to one ed25519 identity. Blocks are chained by hash:
//
//	leaf_i = BLAKE2b-256(data_i)
//	root_i = BLAKE2b-256(root_{i-1} || be64(i) || be64(len(data_i)) || leaf_i)
//
// with root_{-1} all zeroes. The writer signs every root with the
// identity's private key; Append accepts a block only if the signature
// over the recomputed root verifies against the public key, so the
// receiving side never needs the private key.
//
// On disk a feed is a directory holding a "tree" file of fixed-size
// records (one per block) and a "data" directory with one file per
// retained block. Evict deletes a block's data but keeps its record, so
// the chain can still be audited after blocks were handed off elsewhere.
package vlog
