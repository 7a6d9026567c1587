package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Store supplies per-tenant AI configuration. Implementations must be safe
// for concurrent use and must never fail a generation: lookups fall back to
// DefaultConfig.
type Store interface {
	// Config returns the AI configuration for a tenant, already normalized.
	Config(tenantID string) AIConfig
}

// StaticStore serves a fixed tenant map. Useful for tests and embedding.
type StaticStore struct {
	mu      sync.RWMutex
	configs map[string]AIConfig
}

// NewStaticStore creates a store over the given tenant map.
func NewStaticStore(configs map[string]AIConfig) *StaticStore {
	if configs == nil {
		configs = make(map[string]AIConfig)
	}
	return &StaticStore{configs: configs}
}

// Config returns the tenant's configuration or the default.
func (s *StaticStore) Config(tenantID string) AIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.configs[tenantID]; ok {
		return cfg.Normalize()
	}
	return DefaultConfig()
}

// Set replaces a tenant's configuration.
func (s *StaticStore) Set(tenantID string, cfg AIConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[tenantID] = cfg
}

// settingsFile is the on-disk layout of the tenant settings YAML file.
type settingsFile struct {
	Tenants map[string]AIConfig `yaml:"tenants"`
}

// FileStore reads tenant settings from a YAML file and hot-reloads it when
// the file changes on disk.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	configs map[string]AIConfig

	watcher *fsnotify.Watcher
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// NewFileStore loads tenant settings from path. A missing file is not an
// error: the store serves defaults until the file appears.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		logger:  slog.Default(),
		configs: make(map[string]AIConfig),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s.logger.Warn("Tenant settings file missing, serving defaults", "path", path)
	}

	return s, nil
}

// Config returns the tenant's configuration or the default.
func (s *FileStore) Config(tenantID string) AIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.configs[tenantID]; ok {
		return cfg.Normalize()
	}
	return DefaultConfig()
}

// Watch begins watching the settings file for changes and reloads it on
// write or create events. It returns once the watcher is installed and
// stops when ctx is cancelled.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory rather than the file so atomic renames (the
	// common editor save pattern) are observed.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = watcher

	go s.processEvents(ctx)

	s.logger.Info("Tenant settings watcher started", "path", s.path)
	return nil
}

func (s *FileStore) processEvents(ctx context.Context) {
	defer s.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn("Tenant settings reload failed", "path", s.path, "error", err)
				continue
			}
			s.logger.Info("Tenant settings reloaded", "path", s.path)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Tenant settings watcher error", "error", err)
		}
	}
}

// reload reads and parses the settings file, replacing the in-memory map.
func (s *FileStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var file settingsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse tenant settings: %w", err)
	}

	configs := file.Tenants
	if configs == nil {
		configs = make(map[string]AIConfig)
	}

	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()

	return nil
}
