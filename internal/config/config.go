// Package config provides configuration loading and structs for pawsort.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/pawsort/internal/codec"
	"github.com/hyperjump/pawsort/internal/export"
	"github.com/hyperjump/pawsort/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Remote  RemoteConfig  `yaml:"remote"`
	Session SessionConfig `yaml:"session"`
	Export  ExportConfig  `yaml:"export"`
	Storage StorageConfig `yaml:"storage"`
	Watch   WatchConfig   `yaml:"watch"`
}

// LogConfig holds optional log file rotation. An empty File logs to stderr only.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RemoteConfig describes the embedding service.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	TargetSize     int           `yaml:"target_size"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
	// CacheSize is the number of embeddings kept in memory; 0 disables the cache.
	CacheSize int `yaml:"cache_size"`
}

// SessionConfig holds the classification settings.
type SessionConfig struct {
	IncomingDir      string   `yaml:"incoming_dir"`
	ReferenceDir     string   `yaml:"reference_dir"`
	TopK             int      `yaml:"top_k"`
	UnknownThreshold *float32 `yaml:"unknown_threshold"`
	BatchSize        int      `yaml:"batch_size"`
	Format           string   `yaml:"format"`
	KeepVectors      bool     `yaml:"keep_vectors"`
}

// Threshold returns the unknown threshold, or the default when unset.
func (s *SessionConfig) Threshold() float32 {
	if s.UnknownThreshold != nil {
		return *s.UnknownThreshold
	}
	return DefaultUnknownThreshold
}

// ExportConfig selects where grouped photos are written.
type ExportConfig struct {
	Target    string          `yaml:"target"`
	OutputDir string          `yaml:"output_dir"`
	S3        export.S3Config `yaml:"s3"`
}

// StorageConfig holds the export history database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// WatchConfig controls restarting the session when photo folders change.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
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

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Session.IncomingDir = expandPath(cfg.Session.IncomingDir, configDir)
	cfg.Session.ReferenceDir = expandPath(cfg.Session.ReferenceDir, configDir)
	cfg.Export.OutputDir = expandPath(cfg.Export.OutputDir, configDir)
	cfg.Log.File = expandPath(cfg.Log.File, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate clamps numeric session settings into range and rejects unusable values.
func Validate(cfg *Config) error {
	s := &cfg.Session
	s.TopK = clamp(s.TopK, MinTopK, MaxTopK)
	s.BatchSize = clamp(s.BatchSize, MinBatchSize, MaxBatchSize)
	if s.UnknownThreshold != nil {
		v := min(max(*s.UnknownThreshold, 0), 1)
		s.UnknownThreshold = &v
	}
	if _, err := codec.ParseDType(s.Format); err != nil {
		return fmt.Errorf("session.format: %w", err)
	}
	switch cfg.Export.Target {
	case ExportLocal:
	case ExportS3:
		if cfg.Export.S3.Bucket == "" {
			return fmt.Errorf("export.s3.bucket is required for the s3 target")
		}
	default:
		return fmt.Errorf("export.target must be %q or %q, got %q", ExportLocal, ExportS3, cfg.Export.Target)
	}
	if cfg.Remote.ConnectTimeout < 0 || cfg.Remote.RequestTimeout < 0 {
		return fmt.Errorf("remote timeouts must not be negative")
	}
	return nil
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// SessionConfig returns the settings of one classification run.
func (c *Config) SessionConfig() models.SessionConfig {
	return models.SessionConfig{
		BaseURL:          c.Remote.BaseURL,
		IncomingRoot:     c.Session.IncomingDir,
		ReferenceRoot:    c.Session.ReferenceDir,
		OutputRoot:       c.Export.OutputDir,
		TopK:             c.Session.TopK,
		UnknownThreshold: c.Session.Threshold(),
		BatchSize:        c.Session.BatchSize,
		EmbeddingFormat:  c.Session.Format,
		KeepVectors:      c.Session.KeepVectors,
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
