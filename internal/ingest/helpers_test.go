package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/internal/core/service"
	"github.com/yndnr/ingestmesh/internal/protocol"
	"github.com/yndnr/ingestmesh/internal/storage"
	"github.com/yndnr/ingestmesh/internal/vlog"
	"github.com/yndnr/ingestmesh/pkg/partkey"
)

var testKey = mustKey(string(bytes.Repeat([]byte("a"), 64)))

func mustKey(s string) domain.SessionKey {
	k, err := domain.ParseSessionKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCollector records scheduled paths.
type fakeCollector struct {
	mu      sync.Mutex
	pending map[string]bool
	removed []string
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{pending: make(map[string]bool)}
}

func (c *fakeCollector) Add(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[path] = true
}

func (c *fakeCollector) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, path)
	c.removed = append(c.removed, path)
}

func (c *fakeCollector) Has(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[path]
}

// write is one sink call.
type write struct {
	Session domain.SessionKey
	Offset  int64
	Data    []byte
}

// recordingSink stores writes and fails when fail returns an error.
type recordingSink struct {
	mu       sync.Mutex
	writes   []write
	attempts []int64
	fail     func(offset int64) error
}

func (s *recordingSink) Write(_ context.Context, session domain.SessionKey, offset int64, data []byte, md *domain.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, offset)
	if s.fail != nil {
		if err := s.fail(offset); err != nil {
			return err
		}
	}
	s.writes = append(s.writes, write{Session: session, Offset: offset, Data: bytes.Clone(data)})
	return nil
}

func (s *recordingSink) Attempts() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.attempts...)
}

// Offsets returns the offsets of successful writes, ascending.
func (s *recordingSink) Offsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, w.Offset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Assemble lays successful writes out at their offsets. It fails the test
// on gaps or overlaps.
func (s *recordingSink) Assemble(t *testing.T, size int) []byte {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, size)
	covered := make([]bool, size)
	for _, w := range s.writes {
		for i := range w.Data {
			pos := int(w.Offset) + i
			if pos >= size {
				t.Fatalf("write at %d overflows size %d", w.Offset, size)
			}
			if covered[pos] {
				t.Fatalf("byte %d written twice", pos)
			}
			covered[pos] = true
			out[pos] = w.Data[i]
		}
	}
	for i, ok := range covered {
		if !ok {
			t.Fatalf("byte %d never written", i)
		}
	}
	return out
}

var errSinkDown = errors.New("sink down")

// failingSessions fails every call with a persistence error.
type failingSessions struct{}

func (failingSessions) GetSecret(context.Context, domain.SessionKey) ([]byte, error) {
	return nil, domain.ErrPersistence.WithDetails("disk gone")
}

func (failingSessions) GetOrCreateSecret(context.Context, domain.SessionKey) ([]byte, bool, error) {
	return nil, false, domain.ErrPersistence.WithDetails("disk gone")
}

func (failingSessions) GetMetadata(context.Context, domain.SessionKey) (*domain.Metadata, error) {
	return nil, domain.ErrPersistence.WithDetails("disk gone")
}

func (failingSessions) PutMetadata(context.Context, domain.SessionKey, *domain.Metadata) error {
	return domain.ErrPersistence.WithDetails("disk gone")
}

func (failingSessions) MarkComplete(context.Context, domain.SessionKey) (bool, error) {
	return false, domain.ErrPersistence.WithDetails("disk gone")
}

// testEnv wires a gateway over in-memory sessions and a temp feed dir.
type testEnv struct {
	sessions  *service.SessionStore
	feeds     *vlog.Store
	collector *fakeCollector
	sink      *recordingSink
	gw        *Gateway

	mu        sync.Mutex
	completed []domain.SessionKey
	mds       []*domain.Metadata
}

type envOption func(*Deps, *Config)

func withoutSink() envOption {
	return func(d *Deps, _ *Config) { d.Sink = nil }
}

func withConfig(fn func(*Config)) envOption {
	return func(_ *Deps, c *Config) { fn(c) }
}

func withDeps(fn func(*Deps)) envOption {
	return func(d *Deps, _ *Config) { fn(d) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	sessions, err := service.NewSessionStore(storage.NewMemoryEngine())
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{
		sessions:  sessions,
		feeds:     vlog.NewStore(t.TempDir()),
		collector: newFakeCollector(),
		sink:      &recordingSink{},
	}

	deps := Deps{
		Sessions:  sessions,
		Logs:      FeedStore{Store: env.feeds},
		Collector: env.collector,
		Sink:      env.sink,
		OnComplete: func(_ context.Context, k domain.SessionKey, md *domain.Metadata) {
			env.mu.Lock()
			defer env.mu.Unlock()
			env.completed = append(env.completed, k)
			env.mds = append(env.mds, md)
		},
		Logger: discardLogger(),
	}
	cfg := Config{CloseGrace: time.Millisecond}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	env.gw = NewGateway(deps, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.gw.Close(ctx)
	})
	return env
}

func (e *testEnv) Completed() ([]domain.SessionKey, []*domain.Metadata) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.SessionKey(nil), e.completed...), append([]*domain.Metadata(nil), e.mds...)
}

// dial starts the gateway on one end of a pipe and returns the other end
// and a channel with Handle's result.
func (e *testEnv) dial(path string) (protocol.Conn, <-chan error) {
	client, server := protocol.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- e.gw.Handle(context.Background(), server, path)
	}()
	return client, done
}

// seed stores a secret and metadata as a finished context connection would.
func (e *testEnv) seed(t *testing.T, k domain.SessionKey, md *domain.Metadata) []byte {
	t.Helper()
	ctx := context.Background()
	secret, _, err := e.sessions.GetOrCreateSecret(ctx, k)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.sessions.PutMetadata(ctx, k, md); err != nil {
		t.Fatal(err)
	}
	return secret
}

func read(t *testing.T, conn protocol.Conn) *protocol.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := conn.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	return f
}

func send(t *testing.T, conn protocol.Conn, f *protocol.Frame) {
	t.Helper()
	if err := conn.WriteFrame(context.Background(), f); err != nil {
		t.Fatalf("WriteFrame(%s) error = %v", f.Channel, err)
	}
}

// expectClose reads until the server closes and checks the code.
func expectClose(t *testing.T, conn protocol.Conn, code int) *protocol.CloseError {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		f, err := conn.ReadFrame(ctx)
		if err == nil {
			t.Logf("skipping %s frame before close", f.Channel)
			continue
		}
		var ce *protocol.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("ReadFrame() error = %v, want close %d", err, code)
		}
		if ce.Code != code {
			t.Fatalf("close code = %d (%s), want %d", ce.Code, ce.Reason, code)
		}
		return ce
	}
}

func result(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
		return nil
	}
}

// negotiate runs a context connection: receive the secret, send metadata
// and read the enriched echo.
func negotiate(t *testing.T, conn protocol.Conn, md map[string]any) ([]byte, *domain.Metadata) {
	t.Helper()
	key := read(t, conn)
	if key.Channel != protocol.ChannelKey {
		t.Fatalf("first frame on %s, want %s", key.Channel, protocol.ChannelKey)
	}

	raw, err := json.Marshal(md)
	if err != nil {
		t.Fatal(err)
	}
	send(t, conn, &protocol.Frame{Channel: protocol.ChannelMetadata, Data: raw})

	echo := read(t, conn)
	if echo.Channel != protocol.ChannelMetadata {
		t.Fatalf("echo on %s, want %s", echo.Channel, protocol.ChannelMetadata)
	}
	var stored domain.Metadata
	if err := json.Unmarshal(echo.Data, &stored); err != nil {
		t.Fatal(err)
	}
	return key.Data, &stored
}

// replicate sends data as blocks of bufferSize signed by the partition
// identity, reading the have frame and every ack, then syncs.
func replicate(t *testing.T, conn protocol.Conn, id partkey.Identity, data []byte, bufferSize int) {
	t.Helper()
	have := read(t, conn)
	if have.Channel != protocol.ChannelHave {
		t.Fatalf("first frame on %s, want %s", have.Channel, protocol.ChannelHave)
	}

	chain := vlog.NewChain(id)
	var total uint64
	for off := 0; off < len(data); off += bufferSize {
		end := min(off+bufferSize, len(data))
		b := chain.Next(data[off:end])
		total += uint64(end - off)
		if b.Index < have.Length {
			continue
		}
		send(t, conn, &protocol.Frame{Channel: protocol.ChannelBlock, Index: b.Index, Data: b.Data, Signature: b.Signature})
		ack := read(t, conn)
		if ack.Channel != protocol.ChannelAck || ack.Index != b.Index {
			t.Fatalf("ack = %+v, want ack of %d", ack, b.Index)
		}
	}
	send(t, conn, &protocol.Frame{Channel: protocol.ChannelSync, Length: chain.Length(), ByteLength: total})
}

func identity(t *testing.T, secret []byte, page uint64, pageSize int64) partkey.Identity {
	t.Helper()
	id, err := partkey.Derive(secret, page, pageSize)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}
