// Package cmap is a string-keyed map split into independently locked
// shards. A key's shard is picked by its MurmurHash3 sum.
//
// All reads iterate one shard at a time; All does not see a consistent
// snapshot of the whole map.
package cmap
