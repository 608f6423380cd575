package storage

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/yndnr/ingestmesh/pkg/cmap"
)

// MemoryEngine implements KV on a sharded in-process map. Contents are
// lost on Close.
type MemoryEngine struct {
	data   *cmap.Map[string, []byte]
	closed atomic.Bool
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: cmap.New[string, []byte]()}
}

// Get retrieves a value by key.
func (m *MemoryEngine) Get(_ context.Context, key []byte) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	v, ok := m.data.Get(string(key))
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

// Set stores a copy of value under key.
func (m *MemoryEngine) Set(_ context.Context, key, value []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.data.Set(string(key), bytes.Clone(value))
	return nil
}

// Delete removes a key.
func (m *MemoryEngine) Delete(_ context.Context, key []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.data.Delete(string(key))
	return nil
}

// Scan visits keys with prefix in ascending order. The key set is
// snapshotted before the first callback.
func (m *MemoryEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if m.closed.Load() {
		return ErrClosed
	}

	p := string(prefix)
	var keys []string
	for k := range m.data.All() {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, ok := m.data.Get(k)
		if !ok {
			continue
		}
		if !fn([]byte(k), bytes.Clone(v)) {
			break
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryEngine) Len() int {
	return m.data.Len()
}

// Close marks the engine closed. Later calls fail with ErrClosed.
func (m *MemoryEngine) Close() error {
	m.closed.Store(true)
	return nil
}
