package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Session constraints.
const (
	// SessionKeySize is the size of a raw session key in bytes.
	SessionKeySize = 32

	// SessionKeyHexLength is the length of a session key on the wire.
	SessionKeyHexLength = SessionKeySize * 2

	// MasterSecretSize is the size of a session master secret in bytes.
	MasterSecretSize = 32
)

// SessionKey identifies one upload session.
type SessionKey [SessionKeySize]byte

// ParseSessionKey decodes a 64 character hex session key.
func ParseSessionKey(s string) (SessionKey, error) {
	var key SessionKey
	if len(s) != SessionKeyHexLength {
		return key, ErrInvalidSessionKey.WithDetails(
			fmt.Sprintf("expected %d hex characters, got %d", SessionKeyHexLength, len(s)))
	}
	if _, err := hex.Decode(key[:], []byte(s)); err != nil {
		return key, ErrInvalidSessionKey.WithDetails("not hex encoded").WithCause(err)
	}
	return key, nil
}

// String returns the lowercase hex form of the key.
func (k SessionKey) String() string {
	return hex.EncodeToString(k[:])
}

// Metadata is the application-defined description of an upload.
//
// Known fields are decoded into typed fields; anything else the client
// sends is kept in Extra and written back unchanged.
type Metadata struct {
	BufferSize int64    `json:"bufferSize"`
	PageSize   int64    `json:"pageSize"`
	Name       string   `json:"name,omitempty"`
	Size       int64    `json:"size"`
	Type       string   `json:"type,omitempty"`
	Parts      int      `json:"parts,omitempty"`
	Key        string   `json:"key,omitempty"`
	Keys       []string `json:"keys,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var metadataFields = map[string]bool{
	"bufferSize": true, "pageSize": true, "name": true, "size": true,
	"type": true, "parts": true, "key": true, "keys": true,
}

type metadataAlias Metadata

// UnmarshalJSON decodes metadata, preserving unknown fields.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var known metadataAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*m = Metadata(known)
	for k, v := range all {
		if metadataFields[k] {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[k] = v
	}
	return nil
}

// MarshalJSON encodes metadata including preserved unknown fields.
func (m Metadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(metadataAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}

	out := make(map[string]json.RawMessage, len(m.Extra)+len(metadataFields))
	for k, v := range m.Extra {
		out[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// Validate checks that the metadata can drive partitioning.
func (m *Metadata) Validate() error {
	if m.PageSize <= 0 {
		return ErrInvalidMetadata.WithDetails("pageSize must be positive")
	}
	if m.BufferSize <= 0 {
		return ErrInvalidMetadata.WithDetails("bufferSize must be positive")
	}
	if m.BufferSize > m.PageSize {
		return ErrInvalidMetadata.WithDetails("bufferSize must not exceed pageSize")
	}
	if m.Size < 0 {
		return ErrInvalidMetadata.WithDetails("size must not be negative")
	}
	if m.Parts < 0 {
		return ErrInvalidMetadata.WithDetails("parts must not be negative")
	}
	return nil
}

// PartCount returns the number of partitions an upload of Size bytes is
// split into. An explicit Parts value sent by the client wins.
func (m *Metadata) PartCount() int {
	if m.Parts > 0 {
		return m.Parts
	}
	if m.PageSize <= 0 || m.Size <= 0 {
		return 0
	}
	return int((m.Size + m.PageSize - 1) / m.PageSize)
}
