// Package adaptive seals small values, such as session master secrets,
// with an AEAD picked for the platform: AES-256-GCM where Go uses
// hardware AES, ChaCha20-Poly1305 elsewhere.
//
// A sealed value is one algorithm byte, the nonce, then the ciphertext.
// Open reads the algorithm byte, so a store written on one platform can
// be read on another with the same key.
package adaptive
