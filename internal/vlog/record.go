package vlog

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// recordSize is CRC(4) + Size(8) + Leaf(32) + Root(32) + Signature(64).
const recordSize = 4 + 8 + HashSize + HashSize + ed25519.SignatureSize

var errCorruptRecord = errors.New("vlog: corrupt tree record")

// record is the tree entry kept for every appended block.
type record struct {
	Size      uint64
	Leaf      Hash
	Root      Hash
	Signature [ed25519.SignatureSize]byte
}

func (r *record) encode() []byte {
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint64(buf[4:], r.Size)
	off := 12
	off += copy(buf[off:], r.Leaf[:])
	off += copy(buf[off:], r.Root[:])
	copy(buf[off:], r.Signature[:])
	binary.BigEndian.PutUint32(buf[:4], crc32.ChecksumIEEE(buf[4:]))
	return buf
}

func decodeRecord(buf []byte) (record, error) {
	var r record
	if len(buf) != recordSize {
		return r, errCorruptRecord
	}
	if binary.BigEndian.Uint32(buf[:4]) != crc32.ChecksumIEEE(buf[4:]) {
		return r, errCorruptRecord
	}
	r.Size = binary.BigEndian.Uint64(buf[4:])
	off := 12
	off += copy(r.Leaf[:], buf[off:])
	off += copy(r.Root[:], buf[off:])
	copy(r.Signature[:], buf[off:])
	return r, nil
}
