package confloader

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

type testConfig struct {
	Server struct {
		HTTP struct {
			Addr       string `koanf:"addr"`
			MaxPayload int64  `koanf:"max_payload"`
		} `koanf:"http"`
	} `koanf:"server"`
	Storage struct {
		DataDir string `koanf:"data_dir"`
	} `koanf:"storage"`
	GC struct {
		Interval time.Duration `koanf:"interval"`
	} `koanf:"gc"`
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
	Ignored string
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSchemaKeys(t *testing.T) {
	want := []string{"server.http.addr", "server.http.max_payload", "storage.data_dir", "gc.interval", "log.level"}
	if got := SchemaKeys(&testConfig{}); !slices.Equal(got, want) {
		t.Errorf("SchemaKeys() = %v, want %v", got, want)
	}
	if SchemaKeys(42) != nil || SchemaKeys(nil) != nil {
		t.Error("SchemaKeys(non-struct) should be nil")
	}
}

func TestLoader_File(t *testing.T) {
	path := writeConfig(t, "server:\n  http:\n    addr: 0.0.0.0:5080\ngc:\n  interval: 30s\n")
	l := New(WithFile(path))
	if l.File() != path {
		t.Errorf("File() = %q", l.File())
	}

	var cfg testConfig
	cfg.Server.HTTP.MaxPayload = 9 << 20
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTP.Addr != "0.0.0.0:5080" || cfg.GC.Interval != 30*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Server.HTTP.MaxPayload != 9<<20 {
		t.Errorf("default MaxPayload lost: %d", cfg.Server.HTTP.MaxPayload)
	}
	if !slices.Contains(l.Keys(), "gc.interval") {
		t.Errorf("Keys() = %v", l.Keys())
	}
}

func TestLoader_MissingFile(t *testing.T) {
	var cfg testConfig
	cfg.Log.Level = "info"
	if err := New(WithFile("/nonexistent/config.yaml")).Load(&cfg); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("failed Load() changed the target: %q", cfg.Log.Level)
	}
}

func TestLoader_Env(t *testing.T) {
	t.Setenv("INGESTMESH_STORAGE_DATA_DIR", "/srv/data")
	t.Setenv("INGESTMESH_SERVER_HTTP_MAX_PAYLOAD", "1048576")
	t.Setenv("INGESTMESH_LOG_LEVEL", "warn")

	var cfg testConfig
	if err := New(WithSchema(testConfig{})).Load(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DataDir != "/srv/data" || cfg.Server.HTTP.MaxPayload != 1<<20 || cfg.Log.Level != "warn" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoader_EnvWithoutSchema(t *testing.T) {
	t.Setenv("INGESTMESH_STORAGE_DATA_DIR", "/srv/data")
	t.Setenv("CUSTOM_LOG_LEVEL", "error")

	var cfg testConfig
	if err := New(WithEnvPrefix("CUSTOM_")).Load(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
	if cfg.Storage.DataDir != "" {
		t.Errorf("other prefix leaked: %q", cfg.Storage.DataDir)
	}
}

func TestLoader_Priority(t *testing.T) {
	path := writeConfig(t, "server:\n  http:\n    addr: from-file:5080\nlog:\n  level: info\n")
	t.Setenv("INGESTMESH_SERVER_HTTP_ADDR", "from-env:8080")
	t.Setenv("INGESTMESH_LOG_LEVEL", "warn")

	l := New(WithFile(path), WithSchema(testConfig{}))
	l.Set("log.level", "debug")

	var cfg testConfig
	if err := l.Load(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTP.Addr != "from-env:8080" {
		t.Errorf("Addr = %q, env should override file", cfg.Server.HTTP.Addr)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q, overrides should win", cfg.Log.Level)
	}
}

func TestLoader_ReloadKeepsOverrides(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\nstorage:\n  data_dir: /a\n")
	l := New(WithFile(path))
	l.Set("log.level", "error")

	var cfg testConfig
	if err := l.Load(&cfg); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("log:\n  level: debug\nstorage:\n  data_dir: /b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var fresh testConfig
	if err := l.Load(&fresh); err != nil {
		t.Fatal(err)
	}
	if fresh.Storage.DataDir != "/b" || fresh.Log.Level != "error" {
		t.Errorf("reloaded cfg = %+v", fresh)
	}
}

func TestLoader_ConcurrentSet(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Set("log.level", "debug")
		}()
		go func() {
			defer wg.Done()
			var cfg testConfig
			if err := l.Load(&cfg); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}
