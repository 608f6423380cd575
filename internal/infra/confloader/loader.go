package confloader

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is stripped from environment variable names.
const DefaultEnvPrefix = "INGESTMESH_"

// Loader is safe for concurrent use; a hot reload may run while flags
// are still being applied.
type Loader struct {
	path   string
	prefix string
	schema map[string]string

	mu        sync.Mutex
	overrides map[string]any
	last      *koanf.Koanf
}

type Option func(*Loader)

// WithFile loads path as YAML before the environment.
func WithFile(path string) Option {
	return func(l *Loader) { l.path = path }
}

func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.prefix = prefix }
}

// WithSchema registers the keys of v, a koanf-tagged struct, so
// environment names resolve to keys that contain underscores:
// INGESTMESH_STORAGE_DATA_DIR becomes storage.data_dir rather than
// storage.data.dir.
func WithSchema(v any) Option {
	return func(l *Loader) {
		for _, key := range SchemaKeys(v) {
			l.schema[envForm(key)] = key
		}
	}
}

func New(opts ...Option) *Loader {
	l := &Loader{
		prefix:    DefaultEnvPrefix,
		schema:    make(map[string]string),
		overrides: make(map[string]any),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// File returns the configured file path.
func (l *Loader) File() string {
	return l.path
}

// Set registers an override for a dotted key. Overrides win over the
// file and the environment and are kept across loads.
func (l *Loader) Set(key string, value any) {
	l.mu.Lock()
	l.overrides[key] = value
	l.mu.Unlock()
}

// Load reads every source again and unmarshals into target. Keys no
// source mentions keep target's values, so a target holding defaults
// yields defaults for them. target is untouched when a source fails.
func (l *Loader) Load(target any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := koanf.New(".")
	if l.path != "" {
		if err := k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
			return fmt.Errorf("config file %s: %w", l.path, err)
		}
	}
	if err := k.Load(env.Provider(l.prefix, ".", l.envKey), nil); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if len(l.overrides) > 0 {
		if err := k.Load(overrides(maps.Clone(l.overrides)), nil); err != nil {
			return fmt.Errorf("overrides: %w", err)
		}
	}
	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	l.last = k
	return nil
}

// Keys returns the keys set by any source in the last successful Load.
func (l *Loader) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return nil
	}
	return l.last.Keys()
}

func (l *Loader) envKey(name string) string {
	form := envForm(strings.TrimPrefix(name, l.prefix))
	if key, ok := l.schema[form]; ok {
		return key
	}
	return form
}
