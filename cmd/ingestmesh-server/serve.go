package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/internal/core/service"
	"github.com/yndnr/ingestmesh/internal/gc"
	"github.com/yndnr/ingestmesh/internal/infra/buildinfo"
	"github.com/yndnr/ingestmesh/internal/infra/certreload"
	"github.com/yndnr/ingestmesh/internal/infra/confloader"
	"github.com/yndnr/ingestmesh/internal/infra/shutdown"
	"github.com/yndnr/ingestmesh/internal/infra/workerpool"
	"github.com/yndnr/ingestmesh/internal/ingest"
	"github.com/yndnr/ingestmesh/internal/server/config"
	"github.com/yndnr/ingestmesh/internal/server/httpserver"
	"github.com/yndnr/ingestmesh/internal/sink"
	"github.com/yndnr/ingestmesh/internal/storage"
	"github.com/yndnr/ingestmesh/internal/telemetry/logger"
	"github.com/yndnr/ingestmesh/internal/telemetry/metric"
	"github.com/yndnr/ingestmesh/internal/vlog"
	"github.com/yndnr/ingestmesh/pkg/crypto/adaptive"
)

const shutdownTimeout = 30 * time.Second

func serve(c *cli.Context) (err error) {
	configFile := c.String("config")

	loader := newLoader(configFile)
	cfg, err := loadConfig(loader, c.String("log-level"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogger := log.Slog()

	info := buildinfo.Get()
	log.Info("starting ingestmesh-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", configFile)
	log.Debug("configuration loaded", "settings", config.Sanitize(cfg))

	reg := metric.Global()
	stopper := shutdown.NewHandler(shutdownTimeout, slogger)
	defer func() {
		// Startup failed after some components were running.
		if err != nil {
			stopper.Shutdown()
		}
	}()

	kv, err := openKV(cfg, reg, slogger)
	if err != nil {
		return fmt.Errorf("open session database: %w", err)
	}
	stopper.OnShutdown("session database", func(context.Context) error {
		return kv.Close()
	})

	sessions, err := newSessionStore(cfg, kv, slogger)
	if err != nil {
		return err
	}

	pool := workerpool.New(workerpool.Config{Workers: cfg.GC.Workers}, slogger.With("component", "workerpool"))
	stopper.OnShutdown("worker pool", pool.Close)

	collector := gc.New(gc.Config{
		Interval:    cfg.GC.Interval,
		Concurrency: cfg.GC.Concurrency,
	}, pool,
		gc.WithLogger(slogger.With("component", "gc")),
		gc.WithMetrics(reg))
	collector.Start()
	stopper.OnShutdown("collector", collector.Stop)

	deps := ingest.Deps{
		Sessions:   sessions,
		Logs:       ingest.FeedStore{Store: vlog.NewStore(cfg.Storage.FeedDir)},
		Collector:  collector,
		OnComplete: completionLogger(slogger),
		Metrics:    reg,
		Logger:     slogger.With("component", "gateway"),
	}
	if cfg.Storage.SinkDir != "" {
		fileSink, err := sink.NewFile(cfg.Storage.SinkDir, slogger.With("component", "sink"))
		if err != nil {
			return fmt.Errorf("open sink: %w", err)
		}
		deps.Sink = fileSink
		log.Info("writing uploads to sink", "dir", cfg.Storage.SinkDir)
	} else {
		log.Warn("no sink configured, running as verifying relay")
	}

	gateway := ingest.NewGateway(deps, ingest.Config{
		PathPrefix: cfg.Server.HTTP.Path,
		MaxPayload: cfg.Server.HTTP.MaxPayload,
		CloseGrace: cfg.Partition.CloseGrace,
	})
	stopper.OnShutdown("gateway", gateway.Close)

	if configFile != "" {
		w, err := watchConfig(loader, configFile, slogger)
		if err != nil {
			log.Warn("configuration hot reload disabled", "error", err)
		} else {
			stopper.OnShutdown("config watcher", func(context.Context) error { return w.Close() })
		}
	}

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Gateway:   gateway,
		Path:      cfg.Server.HTTP.Path,
		Metrics:   reg,
		Logger:    slogger.With("component", "http"),
		RateLimit: cfg.Server.HTTP.RateLimit,
	})

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	var srvOpts []httpserver.ServerOption
	if cfg.Server.HTTP.TLSCertFile != "" {
		certs, err := certreload.New(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile,
			certreload.WithLogger(slogger.With("component", "tls")))
		if err != nil {
			return err
		}
		go certs.Run(ctx)
		srvOpts = append(srvOpts, httpserver.WithTLS(certs.TLSConfig()))
	}
	srv := httpserver.New(cfg.Server.HTTP.Addr, router, srvOpts...)
	stopper.OnShutdown("http server", srv.Shutdown)

	go func() {
		log.Info("HTTP server listening",
			"addr", srv.Addr(),
			"path", cfg.Server.HTTP.Path,
			"tls", srv.TLS())
		if err := srv.Run(); err != nil {
			log.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	if err := stopper.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

func newLoader(configFile string) *confloader.Loader {
	opts := []confloader.Option{confloader.WithSchema(config.ServerConfig{})}
	if configFile != "" {
		opts = append(opts, confloader.WithFile(configFile))
	}
	return confloader.New(opts...)
}

// loadConfig layers defaults, the file, the environment and the
// --log-level flag, then verifies the result.
func loadConfig(loader *confloader.Loader, logLevel string) (*config.ServerConfig, error) {
	if logLevel != "" {
		loader.Set("log.level", logLevel)
	}
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openKV(cfg *config.ServerConfig, reg *metric.Registry, log *slog.Logger) (storage.KV, error) {
	kvCfg := storage.DefaultOptions(cfg.Storage.DataDir)
	kvCfg.GCInterval = cfg.Storage.Badger.GCInterval
	kvCfg.SyncWrites = cfg.Storage.Badger.SyncWrites

	kv, err := storage.Open(kvCfg, log.With("component", "storage"))
	if err != nil {
		return nil, err
	}
	if b, ok := kv.(*storage.BadgerEngine); ok {
		b.RegisterMetrics(reg.Registerer())
	}
	return kv, nil
}

func newSessionStore(cfg *config.ServerConfig, kv storage.KV, log *slog.Logger) (*service.SessionStore, error) {
	opts := []service.SessionStoreOption{service.WithLogger(log.With("component", "sessions"))}
	if cfg.Security.EncryptionKey != "" {
		key, err := adaptive.ParseKey(cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("security.encryption_key: %w", err)
		}
		opts = append(opts, service.WithEncryptionKey(key))
	}
	return service.NewSessionStore(kv, opts...)
}

// watchConfig reloads the file on change and applies log.level. Other
// settings take effect on restart. A --log-level flag keeps winning over
// the file.
func watchConfig(loader *confloader.Loader, path string, log *slog.Logger) (*confloader.Watcher, error) {
	return confloader.Watch(path, func() {
		fresh := config.Default()
		if err := loader.Load(fresh); err != nil {
			log.Warn("configuration reload failed", "error", err)
			return
		}
		if err := config.Verify(fresh); err != nil {
			log.Warn("reloaded configuration rejected", "error", err)
			return
		}
		prev := logger.GetLevel()
		if err := logger.SetLevel(fresh.Log.Level); err != nil {
			log.Warn("log level not applied", "error", err)
			return
		}
		if now := logger.GetLevel(); now != prev {
			log.Info("log level changed", "from", prev, "to", now)
		}
	}, confloader.WithWatcherLogger(log.With("component", "config")))
}

func completionLogger(log *slog.Logger) ingest.CompleteFunc {
	return func(_ context.Context, session domain.SessionKey, md *domain.Metadata) {
		log.Info("upload complete",
			"session", session.String(),
			"size", md.Size,
			"parts", md.PartCount())
	}
}
