package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/pkg/cmap"
)

// File writes each session's blocks at their offsets into
// <dir>/<sessionKey>.
type File struct {
	dir    string
	logger *slog.Logger

	// locks serializes writes per session.
	locks *cmap.Map[string, *sync.Mutex]
}

// NewFile creates a file sink rooted at dir, creating it if needed.
func NewFile(dir string, logger *slog.Logger) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("sink: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &File{
		dir:    dir,
		logger: logger.With("component", "sink"),
		locks:  cmap.New[string, *sync.Mutex](),
	}, nil
}

// PathFor returns the file that holds session k.
func (f *File) PathFor(k domain.SessionKey) string {
	return filepath.Join(f.dir, k.String())
}

// Write stores data at offset and syncs the file before returning.
func (f *File) Write(ctx context.Context, session domain.SessionKey, offset int64, data []byte, md *domain.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("sink: negative offset %d", offset)
	}
	if md != nil && md.Size > 0 && offset+int64(len(data)) > md.Size {
		return fmt.Errorf("sink: write [%d, %d) beyond size %d", offset, offset+int64(len(data)), md.Size)
	}

	mu, _ := f.locks.LoadOrStore(session.String(), &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	path := f.PathFor(session)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("sink: open %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("sink: write at %d: %w", offset, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sink: sync: %w", err)
	}

	f.logger.Debug("block stored", "session", session.String(), "offset", offset, "bytes", len(data))
	return nil
}
