package partkey

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the minimum accepted master secret length in bytes.
const MinSecretLength = 16

// infoPrefix namespaces the HKDF info string.
const infoPrefix = "hus/partition"

// Errors returned by Derive.
var (
	ErrSecretTooShort = errors.New("partkey: master secret too short")
	ErrInvalidPage    = errors.New("partkey: page number must be positive")
)

// Identity is the asymmetric identity of one partition's log.
type Identity struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Derive returns the identity for partition page of the session owning
// master. pageSize is mixed into the derivation; pass 0 for peers that
// predate size-bound identities.
func Derive(master []byte, page uint64, pageSize int64) (Identity, error) {
	if len(master) < MinSecretLength {
		return Identity{}, ErrSecretTooShort
	}
	if page == 0 {
		return Identity{}, ErrInvalidPage
	}

	reader := hkdf.New(sha256.New, master, nil, info(page, pageSize))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return Identity{}, fmt.Errorf("partkey: expand seed: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return Identity{
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}, nil
}

// info encodes (page, pageSize) as fixed-width big endian after the
// prefix. Fixed width keeps distinct inputs from producing equal strings.
func info(page uint64, pageSize int64) []byte {
	b := make([]byte, len(infoPrefix)+16)
	n := copy(b, infoPrefix)
	binary.BigEndian.PutUint64(b[n:], page)
	binary.BigEndian.PutUint64(b[n+8:], uint64(pageSize))
	return b
}

// DiscoveryKey returns a hash of the public key that can name the log's
// storage without revealing the key itself.
func (id Identity) DiscoveryKey() [32]byte {
	return blake2b.Sum256(id.PublicKey)
}

// PublicHex returns the hex encoded public key.
func (id Identity) PublicHex() string {
	return hex.EncodeToString(id.PublicKey)
}

// Sign signs msg with the partition's private key.
func (id Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.PrivateKey, msg)
}

// Verify checks sig over msg against the partition's public key.
func (id Identity) Verify(msg, sig []byte) bool {
	return ed25519.Verify(id.PublicKey, msg, sig)
}

// Keys returns the hex public keys of partitions 1..parts. It is used to
// publish the full key set of a session in its metadata.
func Keys(master []byte, parts int, pageSize int64) ([]string, error) {
	keys := make([]string, 0, parts)
	for page := 1; page <= parts; page++ {
		id, err := Derive(master, uint64(page), pageSize)
		if err != nil {
			return nil, err
		}
		keys = append(keys, id.PublicHex())
	}
	return keys, nil
}
