package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/internal/protocol"
	"github.com/yndnr/ingestmesh/pkg/partkey"
)

var testMetadata = map[string]any{
	"pageSize":   1024,
	"bufferSize": 256,
	"size":       2048,
	"name":       "upload.bin",
	"type":       "application/octet-stream",
	"owner":      "ops",
}

func TestContext_SecretStableAcrossRuns(t *testing.T) {
	env := newTestEnv(t)

	var secrets [][]byte
	for i := 0; i < 2; i++ {
		conn, done := env.dial("/" + testKey.String())
		f := read(t, conn)
		if f.Channel != protocol.ChannelKey {
			t.Fatalf("first frame on %s", f.Channel)
		}
		if len(f.Data) != domain.MasterSecretSize {
			t.Fatalf("secret is %d bytes", len(f.Data))
		}
		secrets = append(secrets, f.Data)
		conn.Close(protocol.CodeNormal, "")
		if err := result(t, done); err != nil {
			t.Errorf("Handle() error = %v after peer close", err)
		}
	}

	if !bytes.Equal(secrets[0], secrets[1]) {
		t.Error("second run issued a different secret")
	}
}

func TestContext_ConcurrentConnectionsShareSecret(t *testing.T) {
	env := newTestEnv(t)

	const n = 8
	secrets := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, server := protocol.Pipe()
			go env.gw.Handle(context.Background(), server, "/"+testKey.String())
			f, err := client.ReadFrame(context.Background())
			if err == nil {
				secrets[i] = f.Data
			}
			client.Close(protocol.CodeNormal, "")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if !bytes.Equal(secrets[0], secrets[i]) || secrets[i] == nil {
			t.Fatalf("connection %d saw a different secret", i)
		}
	}
}

func TestContext_MetadataEnrichment(t *testing.T) {
	env := newTestEnv(t)
	conn, done := env.dial("/" + testKey.String())

	secret, md := negotiate(t, conn, testMetadata)

	if md.Parts != 2 {
		t.Errorf("Parts = %d, want 2", md.Parts)
	}
	if md.Key != testKey.String() {
		t.Errorf("Key = %s", md.Key)
	}
	want, err := partkey.Keys(secret, 2, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(md.Keys) != 2 || md.Keys[0] != want[0] || md.Keys[1] != want[1] {
		t.Errorf("Keys = %v, want %v", md.Keys, want)
	}
	if string(md.Extra["owner"]) != `"ops"` {
		t.Errorf("unknown field not preserved: %v", md.Extra)
	}

	stored, err := env.sessions.GetMetadata(context.Background(), testKey)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Parts != 2 || stored.Name != "upload.bin" || len(stored.Keys) != 2 {
		t.Errorf("stored metadata = %+v", stored)
	}

	conn.Close(protocol.CodeNormal, "")
	result(t, done)
}

func TestContext_MetadataOverwrite(t *testing.T) {
	env := newTestEnv(t)

	for _, size := range []int{2048, 4096} {
		md := map[string]any{"pageSize": 1024, "bufferSize": 256, "size": size}
		conn, done := env.dial("/" + testKey.String())
		negotiate(t, conn, md)
		conn.Close(protocol.CodeNormal, "")
		result(t, done)
	}

	stored, err := env.sessions.GetMetadata(context.Background(), testKey)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Size != 4096 || stored.Parts != 4 {
		t.Errorf("stored = size %d parts %d, want 4096/4", stored.Size, stored.Parts)
	}
}

func TestContext_InvalidMetadata(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{"},
		{"missing pageSize", `{"bufferSize":256,"size":10}`},
		{"missing bufferSize", `{"pageSize":1024,"size":10}`},
		{"buffer larger than page", `{"pageSize":256,"bufferSize":1024,"size":10}`},
		{"too many parts", `{"pageSize":1,"bufferSize":1,"size":100000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			conn, done := env.dial("/" + testKey.String())
			read(t, conn)
			send(t, conn, &protocol.Frame{Channel: protocol.ChannelMetadata, Data: []byte(tt.raw)})

			expectClose(t, conn, protocol.CodeBadRequest)
			if err := result(t, done); !domain.HasCode(err, domain.ErrInvalidMetadata.Code) {
				t.Errorf("Handle() error = %v, want InvalidMetadata", err)
			}
			if _, err := env.sessions.GetMetadata(context.Background(), testKey); err == nil {
				t.Error("invalid metadata was stored")
			}
		})
	}
}

func TestContext_CompletionHookFiresOnce(t *testing.T) {
	env := newTestEnv(t)

	conn, done := env.dial("/" + testKey.String())
	negotiate(t, conn, testMetadata)
	send(t, conn, protocol.SignalFrame(protocol.Signal{Complete: true}))
	expectClose(t, conn, protocol.CodeNormal)
	if err := result(t, done); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// A replayed completion closes normally without a second hook call.
	conn, done = env.dial("/" + testKey.String())
	read(t, conn)
	send(t, conn, protocol.SignalFrame(protocol.Signal{Complete: true}))
	expectClose(t, conn, protocol.CodeNormal)
	result(t, done)

	keys, mds := env.Completed()
	if len(keys) != 1 {
		t.Fatalf("hook fired %d times, want 1", len(keys))
	}
	if keys[0] != testKey || mds[0].Size != 2048 || mds[0].Parts != 2 {
		t.Errorf("hook got %s %+v", keys[0], mds[0])
	}
}

func TestContext_IncompleteSignalKeepsOpen(t *testing.T) {
	env := newTestEnv(t)
	conn, done := env.dial("/" + testKey.String())
	negotiate(t, conn, testMetadata)

	send(t, conn, protocol.SignalFrame(protocol.Signal{Complete: false}))
	// The connection still answers metadata after a non-final signal.
	raw, _ := json.Marshal(testMetadata)
	send(t, conn, &protocol.Frame{Channel: protocol.ChannelMetadata, Data: raw})
	if f := read(t, conn); f.Channel != protocol.ChannelMetadata {
		t.Errorf("frame on %s, want metadata echo", f.Channel)
	}

	conn.Close(protocol.CodeNormal, "")
	result(t, done)
	if keys, _ := env.Completed(); len(keys) != 0 {
		t.Error("hook fired without completion")
	}
}

func TestContext_CompleteWithoutMetadata(t *testing.T) {
	env := newTestEnv(t)
	conn, done := env.dial("/" + testKey.String())
	read(t, conn)

	send(t, conn, protocol.SignalFrame(protocol.Signal{Complete: true}))
	expectClose(t, conn, protocol.CodeBadRequest)
	if err := result(t, done); !domain.HasCode(err, domain.ErrMissingMetadata.Code) {
		t.Errorf("Handle() error = %v, want MissingMetadata", err)
	}
}

func TestContext_PersistenceFailure(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	env := newTestEnv(t, withDeps(func(d *Deps) {
		d.Sessions = failingSessions{}
		d.Reporter = ErrorReporterFunc(func(_ context.Context, r Route, err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, err)
		})
	}))

	conn, done := env.dial("/" + testKey.String())
	ce := expectClose(t, conn, protocol.CodeInternal)
	if ce.Reason == "" {
		t.Error("internal close without reason")
	}
	if err := result(t, done); !domain.HasCode(err, domain.ErrPersistence.Code) {
		t.Errorf("Handle() error = %v, want PersistenceFailure", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Errorf("reported %d errors, want 1", len(reported))
	}
}

func TestContext_CompletionReleasesTracker(t *testing.T) {
	env := newTestEnv(t)
	conn, done := env.dial("/" + testKey.String())
	negotiate(t, conn, testMetadata)
	env.gw.Tracker().Accept(testKey, 1)
	env.gw.Tracker().Accept(testKey, 2)

	send(t, conn, protocol.SignalFrame(protocol.Signal{Complete: true}))
	expectClose(t, conn, protocol.CodeNormal)
	result(t, done)

	if n := env.gw.Tracker().Len(); n != 0 {
		t.Errorf("tracker holds %d sessions after completion, want 0", n)
	}

	// A gateway restarted over the same session store does not fire the
	// hook again.
	restarted := NewGateway(Deps{
		Sessions:   env.sessions,
		Logs:       FeedStore{Store: env.feeds},
		Sink:       env.sink,
		OnComplete: func(context.Context, domain.SessionKey, *domain.Metadata) { t.Error("hook fired after restart") },
		Logger:     discardLogger(),
	}, Config{})
	t.Cleanup(func() { restarted.Close(context.Background()) })

	client, server := protocol.Pipe()
	restartedDone := make(chan error, 1)
	go func() { restartedDone <- restarted.Handle(context.Background(), server, "/"+testKey.String()) }()
	read(t, client)
	send(t, client, protocol.SignalFrame(protocol.Signal{Complete: true}))
	expectClose(t, client, protocol.CodeNormal)
	if err := result(t, restartedDone); err != nil {
		t.Errorf("Handle() error = %v", err)
	}
}
