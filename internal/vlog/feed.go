package vlog

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/yndnr/ingestmesh/pkg/partkey"
)

// Errors returned by feeds.
var (
	ErrVerification = errors.New("vlog: block verification failed")
	ErrOutOfOrder   = errors.New("vlog: block index out of order")
	ErrNotRetained  = errors.New("vlog: block not retained")
	ErrClosed       = errors.New("vlog: feed closed")
)

const (
	treeFile = "tree"
	dataDir  = "data"
)

// Store opens feeds below a root directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on
// first use.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// PathFor returns the directory that holds the feed of id.
func (s *Store) PathFor(id partkey.Identity) string {
	dk := id.DiscoveryKey()
	return filepath.Join(s.dir, hex.EncodeToString(dk[:]))
}

// Open opens or creates the feed of id.
func (s *Store) Open(id partkey.Identity) (*Feed, error) {
	return OpenFeed(s.PathFor(id), id.PublicKey)
}

// AuditReport summarizes a feed audit.
type AuditReport struct {
	// Valid counts blocks whose record, chain link and signature check out.
	Valid int
	// Invalid lists indexes that failed any check.
	Invalid []uint64
}

// OK reports whether no block failed.
func (r AuditReport) OK() bool {
	return len(r.Invalid) == 0
}

// Feed is one verified log on disk.
type Feed struct {
	path string
	pub  ed25519.PublicKey

	mu       sync.Mutex
	tree     *os.File
	records  []record
	retained map[uint64]bool
	bytes    uint64
	closed   bool
}

// OpenFeed opens the feed stored in dir, verifying blocks against pub.
// A trailing partial record left by a crash is truncated.
func OpenFeed(dir string, pub ed25519.PublicKey) (*Feed, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("vlog: invalid public key length %d", len(pub))
	}
	if err := os.MkdirAll(filepath.Join(dir, dataDir), 0o755); err != nil {
		return nil, fmt.Errorf("vlog: create feed dir: %w", err)
	}

	tree, err := os.OpenFile(filepath.Join(dir, treeFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vlog: open tree: %w", err)
	}

	f := &Feed{
		path:     dir,
		pub:      append(ed25519.PublicKey(nil), pub...),
		tree:     tree,
		retained: make(map[uint64]bool),
	}
	if err := f.load(); err != nil {
		tree.Close()
		return nil, err
	}
	return f, nil
}

func (f *Feed) load() error {
	raw, err := io.ReadAll(f.tree)
	if err != nil {
		return fmt.Errorf("vlog: read tree: %w", err)
	}

	whole := len(raw) / recordSize * recordSize
	for off := 0; off < whole; off += recordSize {
		r, err := decodeRecord(raw[off : off+recordSize])
		if err != nil {
			// Keep the valid prefix; anything after a bad record is
			// unreachable through the chain anyway.
			whole = off
			break
		}
		f.records = append(f.records, r)
		f.bytes += r.Size
	}
	if whole != len(raw) {
		if err := f.tree.Truncate(int64(whole)); err != nil {
			return fmt.Errorf("vlog: truncate tree: %w", err)
		}
	}
	if _, err := f.tree.Seek(int64(whole), io.SeekStart); err != nil {
		return fmt.Errorf("vlog: seek tree: %w", err)
	}

	entries, err := os.ReadDir(filepath.Join(f.path, dataDir))
	if err != nil {
		return fmt.Errorf("vlog: list data: %w", err)
	}
	for _, e := range entries {
		i, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil || i >= uint64(len(f.records)) {
			continue
		}
		f.retained[i] = true
	}
	return nil
}

// Path returns the feed's storage directory.
func (f *Feed) Path() string {
	return f.path
}

// PublicKey returns the identity the feed verifies against.
func (f *Feed) PublicKey() ed25519.PublicKey {
	return f.pub
}

// Length returns the number of appended blocks.
func (f *Feed) Length() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.records))
}

// ByteLength returns the total size of appended blocks.
func (f *Feed) ByteLength() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bytes
}

func (f *Feed) blockPath(i uint64) string {
	return filepath.Join(f.path, dataDir, strconv.FormatUint(i, 10))
}

// Append verifies and stores the block at index, which must equal
// Length(). The signature must cover the chain root including this block.
func (f *Feed) Append(index uint64, data, sig []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if index != uint64(len(f.records)) {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, index, len(f.records))
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: bad signature length", ErrVerification)
	}

	var prev Hash
	if index > 0 {
		prev = f.records[index-1].Root
	}
	r := record{Size: uint64(len(data)), Leaf: Leaf(data)}
	r.Root = NextRoot(prev, index, r.Size, r.Leaf)
	if !ed25519.Verify(f.pub, r.Root[:], sig) {
		return fmt.Errorf("%w: block %d", ErrVerification, index)
	}
	copy(r.Signature[:], sig)

	if err := os.WriteFile(f.blockPath(index), data, 0o644); err != nil {
		return fmt.Errorf("vlog: write block %d: %w", index, err)
	}
	if _, err := f.tree.Write(r.encode()); err != nil {
		os.Remove(f.blockPath(index))
		return fmt.Errorf("vlog: write record %d: %w", index, err)
	}

	f.records = append(f.records, r)
	f.retained[index] = true
	f.bytes += r.Size
	return nil
}

// Has reports whether block i's data is held locally.
func (f *Feed) Has(i uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retained[i]
}

// Get returns block i's data.
func (f *Feed) Get(i uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}
	if !f.retained[i] {
		return nil, ErrNotRetained
	}
	data, err := os.ReadFile(f.blockPath(i))
	if err != nil {
		return nil, fmt.Errorf("vlog: read block %d: %w", i, err)
	}
	return data, nil
}

// Evict drops block i's data and keeps its tree record. Evicting a block
// that is not held is a no-op.
func (f *Feed) Evict(i uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if !f.retained[i] {
		return nil
	}
	if err := os.Remove(f.blockPath(i)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vlog: evict block %d: %w", i, err)
	}
	delete(f.retained, i)
	return nil
}

// Retained returns the indexes whose data is still held, ascending.
func (f *Feed) Retained() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]uint64, 0, len(f.retained))
	for i := range f.retained {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Audit re-walks the chain from the first record, checks every signature
// and re-hashes every retained block. Each index is judged against its
// own record and its predecessor's stored root.
func (f *Feed) Audit() (AuditReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return AuditReport{}, ErrClosed
	}

	var report AuditReport
	var prev Hash
	for i, r := range f.records {
		idx := uint64(i)
		ok := NextRoot(prev, idx, r.Size, r.Leaf) == r.Root &&
			ed25519.Verify(f.pub, r.Root[:], r.Signature[:])

		if ok && f.retained[idx] {
			data, err := os.ReadFile(f.blockPath(idx))
			if err != nil {
				if !os.IsNotExist(err) {
					return report, fmt.Errorf("vlog: read block %d: %w", idx, err)
				}
				ok = false
			} else {
				leaf := Leaf(data)
				ok = uint64(len(data)) == r.Size && bytes.Equal(leaf[:], r.Leaf[:])
			}
		}

		if ok {
			report.Valid++
		} else {
			report.Invalid = append(report.Invalid, idx)
		}
		prev = r.Root
	}
	return report, nil
}

// Close releases the feed's file handle. Storage stays on disk.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.tree.Sync(); err != nil {
		f.tree.Close()
		return fmt.Errorf("vlog: sync tree: %w", err)
	}
	return f.tree.Close()
}

// Destroy closes the feed and removes its storage.
func (f *Feed) Destroy() error {
	cerr := f.Close()
	if err := os.RemoveAll(f.path); err != nil {
		return fmt.Errorf("vlog: remove feed: %w", err)
	}
	return cerr
}
