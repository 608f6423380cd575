package ingest

import (
	"context"
	"log/slog"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/internal/vlog"
	"github.com/yndnr/ingestmesh/pkg/partkey"
)

// SessionStore is the persistence the handlers need.
type SessionStore interface {
	GetSecret(ctx context.Context, k domain.SessionKey) ([]byte, error)
	GetOrCreateSecret(ctx context.Context, k domain.SessionKey) ([]byte, bool, error)
	GetMetadata(ctx context.Context, k domain.SessionKey) (*domain.Metadata, error)
	PutMetadata(ctx context.Context, k domain.SessionKey, md *domain.Metadata) error

	// MarkComplete records that the session completed. It returns true
	// only for the first call per session.
	MarkComplete(ctx context.Context, k domain.SessionKey) (bool, error)
}

// Log is a partition's verified log.
type Log interface {
	Append(index uint64, data, sig []byte) error
	Get(index uint64) ([]byte, error)
	Evict(index uint64) error
	Retained() []uint64
	Length() uint64
	ByteLength() uint64
	Audit() (vlog.AuditReport, error)
	Path() string
	Close() error
}

// LogStore opens the log of a partition identity.
type LogStore interface {
	Path(id partkey.Identity) string
	Open(id partkey.Identity) (Log, error)
}

// FeedStore serves logs from a vlog.Store.
type FeedStore struct {
	Store *vlog.Store
}

// Path returns the directory of id's feed.
func (s FeedStore) Path(id partkey.Identity) string {
	return s.Store.PathFor(id)
}

// Open opens the feed of id.
func (s FeedStore) Open(id partkey.Identity) (Log, error) {
	return s.Store.Open(id)
}

// Collector schedules storage paths for deletion. Remove returns only
// once the path is no longer being deleted.
type Collector interface {
	Add(path string)
	Remove(path string)
}

// CompleteFunc is called once per session when the client signals the
// upload is complete.
type CompleteFunc func(ctx context.Context, session domain.SessionKey, md *domain.Metadata)

// ErrorReporter receives errors that point at the hosting environment
// rather than at a misbehaving client.
type ErrorReporter interface {
	Report(ctx context.Context, route Route, err error)
}

// ErrorReporterFunc adapts a function to ErrorReporter.
type ErrorReporterFunc func(ctx context.Context, route Route, err error)

// Report calls f.
func (f ErrorReporterFunc) Report(ctx context.Context, route Route, err error) {
	f(ctx, route, err)
}

// logReporter is the default reporter.
type logReporter struct {
	logger *slog.Logger
}

func (r logReporter) Report(_ context.Context, route Route, err error) {
	r.logger.Error("connection failed",
		"session", route.Session.String(),
		"kind", route.Kind.String(),
		"page", route.Page,
		"error", err)
}
