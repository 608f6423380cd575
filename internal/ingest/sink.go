package ingest

import (
	"context"

	"github.com/yndnr/ingestmesh/internal/core/domain"
)

// Sink receives verified blocks. Write must not return before data is
// durable: the block is evicted from the local log as soon as Write
// returns nil.
type Sink interface {
	Write(ctx context.Context, session domain.SessionKey, offset int64, data []byte, md *domain.Metadata) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, session domain.SessionKey, offset int64, data []byte, md *domain.Metadata) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, session domain.SessionKey, offset int64, data []byte, md *domain.Metadata) error {
	return f(ctx, session, offset, data, md)
}
