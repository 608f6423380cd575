package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr   = "127.0.0.1:5080"
	DefaultPath       = "/"
	DefaultMaxPayload = 9 << 20
	DefaultRateLimit  = 50

	DefaultDataDir          = "/var/lib/ingestmesh-server/data"
	DefaultFeedDir          = "/var/lib/ingestmesh-server/feeds"
	DefaultBadgerGCInterval = 10 * time.Minute

	DefaultGCInterval    = 5 * time.Second
	DefaultGCWorkers     = 2
	DefaultGCConcurrency = 4

	DefaultCloseGrace = 250 * time.Millisecond

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// MinMaxPayload is the smallest accepted server.http.max_payload.
const MinMaxPayload = 64 << 10

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:       DefaultHTTPAddr,
				Path:       DefaultPath,
				MaxPayload: DefaultMaxPayload,
				RateLimit:  DefaultRateLimit,
			},
		},
		Storage: StorageSection{
			DataDir: DefaultDataDir,
			FeedDir: DefaultFeedDir,
			Badger: BadgerSection{
				GCInterval: DefaultBadgerGCInterval,
				SyncWrites: true,
			},
		},
		GC: GCSection{
			Interval:    DefaultGCInterval,
			Workers:     DefaultGCWorkers,
			Concurrency: DefaultGCConcurrency,
		},
		Partition: PartitionSection{
			CloseGrace: DefaultCloseGrace,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
