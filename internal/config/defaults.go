package config

import "time"

const (
	DefaultTopK             = 5
	DefaultUnknownThreshold = float32(0.42)
	DefaultBatchSize        = 16
	DefaultFormat           = "f16"
	DefaultTargetSize       = 440
	DefaultJPEGQuality      = 90
	DefaultConnectTimeout   = 20 * time.Second
	DefaultRequestTimeout   = 180 * time.Second

	MinTopK      = 1
	MaxTopK      = 20
	MinBatchSize = 1
	MaxBatchSize = 64

	ExportLocal = "local"
	ExportS3    = "s3"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = "http://127.0.0.1:8000"
	}
	if cfg.Remote.ConnectTimeout == 0 {
		cfg.Remote.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Remote.RequestTimeout == 0 {
		cfg.Remote.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Remote.TargetSize == 0 {
		cfg.Remote.TargetSize = DefaultTargetSize
	}
	if cfg.Remote.JPEGQuality == 0 {
		cfg.Remote.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.Session.TopK == 0 {
		cfg.Session.TopK = DefaultTopK
	}
	if cfg.Session.UnknownThreshold == nil {
		t := DefaultUnknownThreshold
		cfg.Session.UnknownThreshold = &t
	}
	if cfg.Session.BatchSize == 0 {
		cfg.Session.BatchSize = DefaultBatchSize
	}
	if cfg.Session.Format == "" {
		cfg.Session.Format = DefaultFormat
	}
	if cfg.Export.Target == "" {
		cfg.Export.Target = ExportLocal
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/pawsort/data/db/exports.db"
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 50
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 3
		}
		if cfg.Log.MaxAgeDays == 0 {
			cfg.Log.MaxAgeDays = 28
		}
	}
}
