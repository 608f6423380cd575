package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

// MemoryDir as Options.Dir selects the in-memory engine.
const MemoryDir = ":memory:"

// KV is an ordered byte-keyed store. Get reports absent keys with
// ErrKeyNotFound and Scan visits a prefix in ascending key order.
// Implementations are safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error

	// Delete of an absent key succeeds.
	Delete(ctx context.Context, key []byte) error

	// Scan stops early when fn returns false.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	Close() error
}

// Options selects and tunes an engine.
type Options struct {
	Dir string

	// SyncWrites fsyncs every commit. Secrets handed to a client must
	// survive a crash, so DefaultOptions turns it on.
	SyncWrites bool

	// GCInterval is the period of value log collection. Zero disables the
	// background loop; GC can still be called directly.
	GCInterval     time.Duration
	GCDiscardRatio float64

	BlockCacheSize   int64
	ValueLogFileSize int64
}

// DefaultOptions returns the options used by the server for dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:              dir,
		SyncWrites:       true,
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
		BlockCacheSize:   16 << 20,
		ValueLogFileSize: 64 << 20,
	}
}

// Open returns a MemoryEngine for MemoryDir and a BadgerEngine otherwise.
func Open(opts Options, logger *slog.Logger) (KV, error) {
	if opts.Dir == MemoryDir {
		return NewMemoryEngine(), nil
	}
	return NewBadgerEngine(opts, logger)
}
