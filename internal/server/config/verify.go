package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/yndnr/ingestmesh/internal/storage"
	"github.com/yndnr/ingestmesh/internal/telemetry/logger"
	"github.com/yndnr/ingestmesh/pkg/crypto/adaptive"
)

// Verify validates the configuration and creates missing directories.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyGC(&cfg.GC); err != nil {
		return err
	}
	if cfg.Partition.CloseGrace < 0 {
		return errors.New("partition.close_grace must not be negative")
	}
	if err := verifySecurity(&cfg.Security); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}
	if !strings.HasPrefix(cfg.HTTP.Path, "/") {
		return errors.New("server.http.path must start with /")
	}
	if cfg.HTTP.MaxPayload < MinMaxPayload {
		return fmt.Errorf("server.http.max_payload must be at least %d", MinMaxPayload)
	}
	if cfg.HTTP.RateLimit < 0 {
		return errors.New("server.http.rate_limit must not be negative")
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if cfg.FeedDir == "" {
		return errors.New("storage.feed_dir is required")
	}
	if cfg.Badger.GCInterval < 0 {
		return errors.New("storage.badger.gc_interval must not be negative")
	}

	dirs := []string{cfg.FeedDir}
	if cfg.DataDir != storage.MemoryDir {
		dirs = append(dirs, cfg.DataDir)
	}
	if cfg.SinkDir != "" {
		dirs = append(dirs, cfg.SinkDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.New("cannot create directory: " + err.Error())
		}
	}
	return nil
}

func verifyGC(cfg *GCSection) error {
	if cfg.Interval <= 0 {
		return errors.New("gc.interval must be positive")
	}
	if cfg.Workers < 1 {
		return errors.New("gc.workers must be at least 1")
	}
	if cfg.Concurrency < 1 {
		return errors.New("gc.concurrency must be at least 1")
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	if cfg.EncryptionKey == "" {
		return nil
	}
	if _, err := adaptive.ParseKey(cfg.EncryptionKey); err != nil {
		return errors.New("security.encryption_key must be 32 bytes, hex or base64 encoded")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logger.ParseFormat(cfg.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	return nil
}
