package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const KeySize = 32

// Algorithm is the first byte of a sealed value.
type Algorithm byte

const (
	AESGCM   Algorithm = 1
	ChaCha20 Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case AESGCM:
		return "aes-256-gcm"
	case ChaCha20:
		return "chacha20-poly1305"
	}
	return fmt.Sprintf("Algorithm(%d)", byte(a))
}

var (
	ErrInvalidKeySize = errors.New("adaptive: key must be 32 bytes")
	ErrUnknownCipher  = errors.New("adaptive: unknown algorithm")
	ErrShortInput     = errors.New("adaptive: sealed value too short")
)

// Preferred returns the algorithm New uses on this platform.
func Preferred() Algorithm {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return AESGCM
	}
	return ChaCha20
}

// Sealer seals with one algorithm and opens values sealed with either.
// It is safe for concurrent use.
type Sealer struct {
	alg   Algorithm
	aeads map[Algorithm]cipher.AEAD
}

// New returns a Sealer for key using Preferred().
func New(key []byte) (*Sealer, error) {
	return NewWith(key, Preferred())
}

// NewWith returns a Sealer for key that seals with alg.
func NewWith(key []byte, alg Algorithm) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	gcmBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(gcmBlock)
	if err != nil {
		return nil, err
	}
	chacha, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	s := &Sealer{alg: alg, aeads: map[Algorithm]cipher.AEAD{AESGCM: gcm, ChaCha20: chacha}}
	if _, ok := s.aeads[alg]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCipher, alg)
	}
	return s, nil
}

// Algorithm returns the algorithm Seal uses.
func (s *Sealer) Algorithm() Algorithm {
	return s.alg
}

// Seal encrypts plaintext bound to aad.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	aead := s.aeads[s.alg]
	ns := aead.NonceSize()
	out := make([]byte, 1+ns, 1+ns+len(plaintext)+aead.Overhead())
	out[0] = byte(s.alg)
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[1:], plaintext, aad), nil
}

// Open decrypts a value produced by Seal with the same key and aad.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, ErrShortInput
	}
	aead, ok := s.aeads[Algorithm(sealed[0])]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCipher, sealed[0])
	}
	body := sealed[1:]
	ns := aead.NonceSize()
	if len(body) < ns+aead.Overhead() {
		return nil, ErrShortInput
	}
	return aead.Open(nil, body[:ns], body[ns:], aad)
}

// ParseKey decodes a 32-byte key written as hex or standard base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	return nil, ErrInvalidKeySize
}
