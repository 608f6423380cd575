package storage

import (
	"context"
	"testing"
)

func TestMemoryEngine(t *testing.T) {
	testKV(t, func(t *testing.T) KV {
		return NewMemoryEngine()
	})
}

func TestMemoryEngine_Len(t *testing.T) {
	m := NewMemoryEngine()
	ctx := context.Background()

	_ = m.Set(ctx, []byte("a"), []byte("1"))
	_ = m.Set(ctx, []byte("b"), []byte("2"))
	_ = m.Set(ctx, []byte("a"), []byte("3"))
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}
