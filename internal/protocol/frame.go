package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack"

	"github.com/yndnr/ingestmesh/internal/core/domain"
)

// Namespace prefixes every channel name.
const Namespace = "hus"

// Channel names.
const (
	ChannelKey      = Namespace + "/key"
	ChannelMetadata = Namespace + "/metadata"
	ChannelSignal   = Namespace + "/signal"
	ChannelHave     = Namespace + "/have"
	ChannelBlock    = Namespace + "/block"
	ChannelAck      = Namespace + "/ack"
	ChannelSync     = Namespace + "/sync"
)

// Frame is one message on a logical channel.
type Frame struct {
	Channel    string `msgpack:"c"`
	Index      uint64 `msgpack:"i,omitempty"`
	Data       []byte `msgpack:"d,omitempty"`
	Signature  []byte `msgpack:"s,omitempty"`
	Length     uint64 `msgpack:"l,omitempty"`
	ByteLength uint64 `msgpack:"b,omitempty"`
}

// Marshal encodes f as msgpack.
func (f *Frame) Marshal() ([]byte, error) {
	return msgpack.Marshal(f)
}

// Unmarshal decodes a msgpack frame. Malformed input is reported as
// domain.ErrInvalidRequest.
func Unmarshal(b []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return nil, domain.ErrInvalidRequest.WithDetails("malformed frame").WithCause(err)
	}
	if f.Channel == "" {
		return nil, domain.ErrInvalidRequest.WithDetails("frame without channel")
	}
	return &f, nil
}

// Signal is the payload of the hus/signal channel.
type Signal struct {
	Complete bool `json:"complete"`
}

// SignalFrame builds a hus/signal frame.
func SignalFrame(s Signal) *Frame {
	data, _ := json.Marshal(s)
	return &Frame{Channel: ChannelSignal, Data: data}
}

// DecodeSignal parses a hus/signal payload.
func DecodeSignal(f *Frame) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(f.Data, &s); err != nil {
		return s, fmt.Errorf("protocol: decode signal: %w", err)
	}
	return s, nil
}
