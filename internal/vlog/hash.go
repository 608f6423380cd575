package vlog

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/yndnr/ingestmesh/pkg/partkey"
)

// HashSize is the size of leaf and root hashes.
const HashSize = blake2b.Size256

// Hash is a leaf or root hash.
type Hash [HashSize]byte

// Leaf hashes block data.
func Leaf(data []byte) Hash {
	return blake2b.Sum256(data)
}

// NextRoot extends the chain by one block.
func NextRoot(prev Hash, index, size uint64, leaf Hash) Hash {
	var buf [HashSize*2 + 16]byte
	copy(buf[:HashSize], prev[:])
	binary.BigEndian.PutUint64(buf[HashSize:], index)
	binary.BigEndian.PutUint64(buf[HashSize+8:], size)
	copy(buf[HashSize+16:], leaf[:])
	return blake2b.Sum256(buf[:])
}

// Block is a signed block as produced by a Chain.
type Block struct {
	Index     uint64
	Data      []byte
	Signature []byte
}

// Chain produces signed blocks for an identity. It is what an uploading
// peer runs; the server only verifies.
type Chain struct {
	id   partkey.Identity
	root Hash
	n    uint64
}

// NewChain starts an empty chain for id.
func NewChain(id partkey.Identity) *Chain {
	return &Chain{id: id}
}

// Next signs data as the next block.
func (c *Chain) Next(data []byte) Block {
	c.root = NextRoot(c.root, c.n, uint64(len(data)), Leaf(data))
	b := Block{
		Index:     c.n,
		Data:      data,
		Signature: c.id.Sign(c.root[:]),
	}
	c.n++
	return b
}

// Length returns the number of blocks produced.
func (c *Chain) Length() uint64 {
	return c.n
}
