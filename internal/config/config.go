// Package config provides configuration loading for the kura node.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Node      NodeConfig      `yaml:"node"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// NodeConfig identifies this node and the profile local operations run under.
type NodeConfig struct {
	Name    string `yaml:"name"`
	Profile string `yaml:"profile"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects and locates the key-value backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // sqlite, badger, or memory
	Path    string `yaml:"path"`
}

// EmbeddingConfig holds embedding generator settings. Provider "remote"
// delegates to an HTTP generation service; "mock" is deterministic and local.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	RemoteURL string `yaml:"remote_url"`
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// SearchConfig holds vector search limits.
type SearchConfig struct {
	DefaultLimit    int     `yaml:"default_limit"`
	MaxLimit        int     `yaml:"max_limit"`
	DefaultMinScore float64 `yaml:"default_min_score"`
}

// WatchConfig holds directory-ingestion watch settings. Watched files are
// extracted and saved under TargetFolder in the node profile's filesystem.
type WatchConfig struct {
	Directories  []string `yaml:"directories"`
	Extensions   []string `yaml:"extensions"`
	TargetFolder string   `yaml:"target_folder"`
	Recursive    *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true
// when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies
// defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.Path = expandPath(cfg.Storage.Path, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Validate rejects settings the node cannot start with.
func Validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "sqlite", "badger", "memory":
	default:
		return fmt.Errorf("invalid storage backend %q (supported: sqlite, badger, memory)", cfg.Storage.Backend)
	}
	switch cfg.Embedding.Provider {
	case "mock", "remote":
	default:
		return fmt.Errorf("invalid embedding provider %q (supported: mock, remote)", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Provider == "remote" && cfg.Embedding.RemoteURL == "" {
		return fmt.Errorf("embedding provider %q requires remote_url", cfg.Embedding.Provider)
	}
	if cfg.Search.DefaultLimit > cfg.Search.MaxLimit {
		return fmt.Errorf("search default_limit %d exceeds max_limit %d", cfg.Search.DefaultLimit, cfg.Search.MaxLimit)
	}
	return nil
}

// Save writes the config to path. Used by "kura config init".
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
