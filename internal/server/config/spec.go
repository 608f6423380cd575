package config

import "time"

// ServerConfig is the root configuration for ingestmesh-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Storage   StorageSection   `koanf:"storage"`
	GC        GCSection        `koanf:"gc"`
	Partition PartitionSection `koanf:"partition"`
	Security  SecuritySection  `koanf:"security"`
	Log       LogSection       `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server and the WebSocket endpoint.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// Path is the prefix the WebSocket endpoint is mounted under.
	Path string `koanf:"path"`

	// MaxPayload limits a single WebSocket message in bytes.
	MaxPayload int64 `koanf:"max_payload"`

	// RateLimit is the number of upgrades per second allowed per client IP.
	// Zero disables limiting.
	RateLimit int `koanf:"rate_limit"`
}

// StorageSection configures storage locations.
type StorageSection struct {
	// DataDir holds session secrets and metadata. ":memory:" keeps them
	// in process memory.
	DataDir string `koanf:"data_dir"`

	// FeedDir holds temporary partition logs until they are collected.
	FeedDir string `koanf:"feed_dir"`

	// SinkDir receives uploaded files. Empty runs the server as a
	// verifying relay.
	SinkDir string `koanf:"sink_dir"`

	Badger BadgerSection `koanf:"badger"`
}

// BadgerSection tunes the session database.
type BadgerSection struct {
	GCInterval time.Duration `koanf:"gc_interval"`
	SyncWrites bool          `koanf:"sync_writes"`
}

// GCSection configures the collector of temporary partition storage.
type GCSection struct {
	Interval    time.Duration `koanf:"interval"`
	Workers     int           `koanf:"workers"`
	Concurrency int           `koanf:"concurrency"`
}

// PartitionSection configures partition handling.
type PartitionSection struct {
	// CloseGrace delays closing an accepted partition in relay mode.
	CloseGrace time.Duration `koanf:"close_grace"`
}

// SecuritySection configures security settings.
type SecuritySection struct {
	// EncryptionKey seals master secrets at rest. 32 bytes, hex or base64.
	EncryptionKey string `koanf:"encryption_key"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
