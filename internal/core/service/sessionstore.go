package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/internal/storage"
	"github.com/yndnr/ingestmesh/pkg/crypto/adaptive"
)

// KeyNamespace prefixes every key the store writes.
const KeyNamespace = "hus"

// lockStripes is the number of mutexes guarding get-or-create.
const lockStripes = 64

// SessionStore maps a session key to its master secret and metadata.
//
// Values live in the KV under "hus/<session>/secret",
// "hus/<session>/metadata" and "hus/<session>/complete". When an encryption key is configured, secrets are
// sealed at rest with the session key as additional data.
type SessionStore struct {
	kv     storage.KV
	sealer *adaptive.Sealer
	logger *slog.Logger

	locks [lockStripes]sync.Mutex
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore) error

// WithEncryptionKey seals master secrets with key before storing them.
func WithEncryptionKey(key []byte) SessionStoreOption {
	return func(s *SessionStore) error {
		if len(key) == 0 {
			return nil
		}
		sealer, err := adaptive.New(key)
		if err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		s.sealer = sealer
		return nil
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) SessionStoreOption {
	return func(s *SessionStore) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// NewSessionStore creates a store on top of kv.
func NewSessionStore(kv storage.KV, opts ...SessionStoreOption) (*SessionStore, error) {
	s := &SessionStore{
		kv:     kv,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func secretKey(k domain.SessionKey) []byte {
	return []byte(KeyNamespace + "/" + k.String() + "/secret")
}

func metadataKey(k domain.SessionKey) []byte {
	return []byte(KeyNamespace + "/" + k.String() + "/metadata")
}

func completeKey(k domain.SessionKey) []byte {
	return []byte(KeyNamespace + "/" + k.String() + "/complete")
}

func (s *SessionStore) lockFor(k domain.SessionKey) *sync.Mutex {
	return &s.locks[murmur3.Sum32(k[:])%lockStripes]
}

// GetSecret returns the stored master secret, or ErrMissingMasterKey.
func (s *SessionStore) GetSecret(ctx context.Context, k domain.SessionKey) ([]byte, error) {
	raw, err := s.kv.Get(ctx, secretKey(k))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, domain.ErrMissingMasterKey
		}
		return nil, domain.ErrPersistence.WithDetails("read secret").WithCause(err)
	}
	return s.unseal(k, raw)
}

// PutSecret stores secret, overwriting any previous value.
func (s *SessionStore) PutSecret(ctx context.Context, k domain.SessionKey, secret []byte) error {
	if len(secret) != domain.MasterSecretSize {
		return domain.ErrInternal.WithDetails(fmt.Sprintf("secret must be %d bytes", domain.MasterSecretSize))
	}
	raw, err := s.seal(k, secret)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, secretKey(k), raw); err != nil {
		return domain.ErrPersistence.WithDetails("write secret").WithCause(err)
	}
	return nil
}

// GetOrCreateSecret returns the session's master secret, generating and
// persisting one if none exists. created reports whether this call
// generated it. Concurrent callers for one key observe the same secret.
func (s *SessionStore) GetOrCreateSecret(ctx context.Context, k domain.SessionKey) (secret []byte, created bool, err error) {
	mu := s.lockFor(k)
	mu.Lock()
	defer mu.Unlock()

	secret, err = s.GetSecret(ctx, k)
	if err == nil {
		return secret, false, nil
	}
	if !errors.Is(err, domain.ErrMissingMasterKey) {
		return nil, false, err
	}

	secret = make([]byte, domain.MasterSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, false, domain.ErrInternal.WithDetails("generate secret").WithCause(err)
	}
	if err := s.PutSecret(ctx, k, secret); err != nil {
		return nil, false, err
	}

	s.logger.Debug("master secret created", "session", k.String())
	return secret, true, nil
}

// GetMetadata returns the stored metadata, or ErrMissingMetadata.
func (s *SessionStore) GetMetadata(ctx context.Context, k domain.SessionKey) (*domain.Metadata, error) {
	raw, err := s.kv.Get(ctx, metadataKey(k))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, domain.ErrMissingMetadata
		}
		return nil, domain.ErrPersistence.WithDetails("read metadata").WithCause(err)
	}

	var md domain.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, domain.ErrPersistence.WithDetails("decode metadata").WithCause(err)
	}
	return &md, nil
}

// PutMetadata stores md as JSON, overwriting any previous value.
func (s *SessionStore) PutMetadata(ctx context.Context, k domain.SessionKey, md *domain.Metadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return domain.ErrInvalidMetadata.WithCause(err)
	}
	if err := s.kv.Set(ctx, metadataKey(k), raw); err != nil {
		return domain.ErrPersistence.WithDetails("write metadata").WithCause(err)
	}
	return nil
}

// MarkComplete records that the session completed. It returns true only
// for the first call per session, including across restarts.
func (s *SessionStore) MarkComplete(ctx context.Context, k domain.SessionKey) (bool, error) {
	mu := s.lockFor(k)
	mu.Lock()
	defer mu.Unlock()

	_, err := s.kv.Get(ctx, completeKey(k))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrKeyNotFound) {
		return false, domain.ErrPersistence.WithDetails("read completion").WithCause(err)
	}
	if err := s.kv.Set(ctx, completeKey(k), []byte{1}); err != nil {
		return false, domain.ErrPersistence.WithDetails("write completion").WithCause(err)
	}
	return true, nil
}

func (s *SessionStore) seal(k domain.SessionKey, secret []byte) ([]byte, error) {
	if s.sealer == nil {
		return append([]byte(nil), secret...), nil
	}
	sealed, err := s.sealer.Seal(secret, k[:])
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("seal secret").WithCause(err)
	}
	return sealed, nil
}

func (s *SessionStore) unseal(k domain.SessionKey, raw []byte) ([]byte, error) {
	if s.sealer == nil {
		if len(raw) != domain.MasterSecretSize {
			return nil, domain.ErrPersistence.WithDetails("stored secret has unexpected length")
		}
		return raw, nil
	}
	secret, err := s.sealer.Open(raw, k[:])
	if err != nil {
		return nil, domain.ErrPersistence.WithDetails("open secret").WithCause(err)
	}
	return secret, nil
}
