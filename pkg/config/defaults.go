package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittodrop/pkg/adapter/upload"
	"github.com/spf13/viper"
)

// Deployment defaults.
const (
	DefaultUploadPort  = 1026
	DefaultStoragePath = "/tmp"
	DefaultMetricsPort = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by the backends themselves
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

// applyStorageDefaults sets storage defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if path, _ := cfg.Filesystem["path"].(string); path == "" {
		cfg.Filesystem["path"] = DefaultStoragePath
	}
	if _, ok := cfg.Memory["max_size_bytes"]; !ok {
		cfg.Memory["max_size_bytes"] = uint64(0) // unlimited
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// A struct with no upload section at all (port still 0) gets the
	// adapter enabled so that it passes validation. Configs read through
	// viper restore explicit zero values afterwards, see applyExplicitZeros.
	if !cfg.Upload.Enabled && cfg.Upload.Port == 0 {
		cfg.Upload.Enabled = true
	}

	applyUploadDefaults(&cfg.Upload)
}

// applyUploadDefaults sets upload adapter defaults.
func applyUploadDefaults(cfg *upload.UploadConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultUploadPort
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = 150
	}
	if cfg.MaxEvents == 0 {
		cfg.MaxEvents = 150
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = 30 * time.Second
	}
	if cfg.MaxNameLength == 0 {
		cfg.MaxNameLength = 255
	}
	if cfg.MaxContentSize == 0 {
		cfg.MaxContentSize = 1 << 30
	}
	if cfg.StatusByteOrder == "" {
		cfg.StatusByteOrder = "network"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	// IOTimeout, MaxAcceptRate, AcceptBurst and MetricsLogInterval default
	// to 0 (disabled).
}

// applyExplicitZeros restores settings whose zero value was given on
// purpose in a file, the environment, or a changed flag, and that
// ApplyDefaults cannot tell apart from "unset":
//
//   - adapters.upload.enabled: false stays disabled
//   - adapters.upload.port: 0 lets the kernel pick a port
func applyExplicitZeros(v *viper.Viper, cfg *Config) {
	if v.IsSet("adapters.upload.enabled") {
		cfg.Adapters.Upload.Enabled = v.GetBool("adapters.upload.enabled")
	}
	if v.IsSet("adapters.upload.port") && v.GetInt("adapters.upload.port") == 0 {
		cfg.Adapters.Upload.Port = 0
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Storage: StorageConfig{
			Filesystem: map[string]any{
				"path": DefaultStoragePath,
				"sync": false,
			},
			Memory: make(map[string]any),
			S3:     make(map[string]any),
		},
		Adapters: AdaptersConfig{
			Upload: upload.UploadConfig{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
