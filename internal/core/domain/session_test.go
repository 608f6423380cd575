package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseSessionKey(t *testing.T) {
	valid := strings.Repeat("a", 64)

	key, err := ParseSessionKey(valid)
	if err != nil {
		t.Fatalf("ParseSessionKey() error = %v", err)
	}
	if key.String() != valid {
		t.Errorf("String() = %q, want %q", key.String(), valid)
	}

	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"short", strings.Repeat("a", 63)},
		{"long", strings.Repeat("a", 65)},
		{"not hex", strings.Repeat("z", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSessionKey(tt.in)
			if !errors.Is(err, ErrInvalidSessionKey) {
				t.Errorf("ParseSessionKey(%q) error = %v, want ErrInvalidSessionKey", tt.in, err)
			}
		})
	}
}

func TestSessionKey_UppercaseHex(t *testing.T) {
	key, err := ParseSessionKey(strings.Repeat("AB", 32))
	if err != nil {
		t.Fatalf("ParseSessionKey() error = %v", err)
	}
	if key.String() != strings.Repeat("ab", 32) {
		t.Errorf("String() = %q, want lowercase form", key.String())
	}
}

func TestMetadata_PreservesUnknownFields(t *testing.T) {
	in := `{"bufferSize":256,"pageSize":1024,"size":2048,"name":"a.bin","type":"application/octet-stream","owner":{"id":7}}`

	var md Metadata
	if err := json.Unmarshal([]byte(in), &md); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if md.BufferSize != 256 || md.PageSize != 1024 || md.Size != 2048 {
		t.Fatalf("unexpected metadata: %+v", md)
	}
	if string(md.Extra["owner"]) != `{"id":7}` {
		t.Errorf("Extra[owner] = %s", md.Extra["owner"])
	}

	md.Parts = 2
	out, err := json.Marshal(md)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(out, &generic); err != nil {
		t.Fatalf("Unmarshal(generic) error = %v", err)
	}
	if _, ok := generic["owner"]; !ok {
		t.Error("owner should survive a round trip")
	}
	if generic["parts"].(float64) != 2 {
		t.Errorf("parts = %v, want 2", generic["parts"])
	}
}

func TestMetadata_Validate(t *testing.T) {
	tests := []struct {
		name    string
		md      Metadata
		wantErr bool
	}{
		{"valid", Metadata{PageSize: 1024, BufferSize: 256, Size: 2048}, false},
		{"zero page size", Metadata{BufferSize: 256, Size: 1}, true},
		{"zero buffer size", Metadata{PageSize: 1024, Size: 1}, true},
		{"buffer larger than page", Metadata{PageSize: 256, BufferSize: 1024}, true},
		{"negative size", Metadata{PageSize: 1024, BufferSize: 256, Size: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.md.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidMetadata) {
				t.Errorf("Validate() error = %v, want ErrInvalidMetadata", err)
			}
		})
	}
}

func TestMetadata_PartCount(t *testing.T) {
	tests := []struct {
		md   Metadata
		want int
	}{
		{Metadata{PageSize: 1024, Size: 2048}, 2},
		{Metadata{PageSize: 1024, Size: 2049}, 3},
		{Metadata{PageSize: 1024, Size: 1}, 1},
		{Metadata{PageSize: 1024, Size: 0}, 0},
		{Metadata{PageSize: 1024, Size: 2048, Parts: 5}, 5},
	}

	for _, tt := range tests {
		if got := tt.md.PartCount(); got != tt.want {
			t.Errorf("PartCount(%+v) = %d, want %d", tt.md, got, tt.want)
		}
	}
}
