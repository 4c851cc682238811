package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultDataFile = ".tagstash.json"
	// EnvPath overrides the default config location.
	EnvPath = "TAGSTASH_CONFIG"
)

// DefaultPath returns $TAGSTASH_CONFIG or ~/.tagstash.json.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, defaultDataFile), nil
}

// Store persists the configuration as a JSON document. Keys it does not
// recognize are kept as-is on every write.
type Store struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	cfg   Config
	raw   map[string]json.RawMessage
	hooks []func(old, new Config)
}

// NewStore creates a store backed by path, or DefaultPath when path is empty.
// Call Load before use; until then Current returns the defaults.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "config"),
		cfg:    Defaults(),
		raw:    map[string]json.RawMessage{},
	}, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load reads the file and merges it over the defaults. A missing file is
// created from the defaults. A malformed file is left alone and the
// defaults are used. The returned Config is always usable; the error only
// reports a failure to create the missing file.
func (s *Store) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.cfg = Defaults()
		s.raw = map[string]json.RawMessage{}
		if err := s.write(s.cfg); err != nil {
			return s.cfg.Clone(), err
		}
		s.logger.Info("created config from defaults", "path", s.path)
		return s.cfg.Clone(), nil
	}
	if err != nil {
		s.fallback(fmt.Errorf("%w: %v", ErrConfig, err))
		return s.cfg.Clone(), nil
	}

	cfg, raw, err := parse(data)
	if err != nil {
		s.fallback(err)
		return s.cfg.Clone(), nil
	}
	s.cfg, s.raw = cfg, raw
	s.logger.Debug("config loaded", "path", s.path)
	return s.cfg.Clone(), nil
}

func (s *Store) fallback(err error) {
	s.logger.Warn("config unusable, using defaults", "path", s.path, "error", err)
	s.cfg = Defaults()
	s.raw = map[string]json.RawMessage{}
}

func parse(data []byte) (Config, map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, raw, nil
}

// Current returns a copy of the in-memory configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// OnChange registers fn to run after every successful Save.
func (s *Store) OnChange(fn func(old, new Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Save applies u, writes the file and only then updates memory and runs
// the change hooks.
func (s *Store) Save(u Update) (Config, error) {
	s.mu.Lock()
	old := s.cfg
	next := u.Apply(old)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return old.Clone(), err
	}
	if err := s.write(next); err != nil {
		s.mu.Unlock()
		return old.Clone(), err
	}
	s.cfg = next
	hooks := append([]func(old, new Config){}, s.hooks...)
	s.mu.Unlock()

	s.logger.Info("config saved", "path", s.path)
	for _, h := range hooks {
		h(old.Clone(), next.Clone())
	}
	return next.Clone(), nil
}

// write must be called with mu held.
func (s *Store) write(cfg Config) error {
	fields, err := cfg.fields()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	merged := make(map[string]json.RawMessage, len(s.raw)+len(fields))
	for k, v := range s.raw {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := writeFileAtomic(s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	s.raw = merged
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tagstash-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
