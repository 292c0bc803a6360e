package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WARN"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level
		if err := Validate(cfg); err != nil {
			t.Errorf("Expected level %q to be accepted, got: %v", level, err)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "storage type",
			mutate:  func(c *Config) { c.Storage.Type = "ftp" },
			wantErr: "Type",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "ShutdownTimeout",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Server.Metrics.Port = 70000 },
			wantErr: "Port",
		},
		{
			name:    "upload port out of range",
			mutate:  func(c *Config) { c.Adapters.Upload.Port = 65536 },
			wantErr: "Port",
		},
		{
			name:    "negative upload port",
			mutate:  func(c *Config) { c.Adapters.Upload.Port = -1 },
			wantErr: "Port",
		},
		{
			name:    "negative io timeout",
			mutate:  func(c *Config) { c.Adapters.Upload.IOTimeout = -time.Second },
			wantErr: "IOTimeout",
		},
		{
			name:    "bad bind address",
			mutate:  func(c *Config) { c.Adapters.Upload.BindAddress = "not an address!" },
			wantErr: "BindAddress",
		},
		{
			name:    "status byte order",
			mutate:  func(c *Config) { c.Adapters.Upload.StatusByteOrder = "little" },
			wantErr: "StatusByteOrder",
		},
		{
			name:    "no adapters",
			mutate:  func(c *Config) { c.Adapters.Upload.Enabled = false },
			wantErr: "at least one adapter",
		},
		{
			name:    "no workers",
			mutate:  func(c *Config) { c.Adapters.Upload.Workers = 0 },
			wantErr: "workers",
		},
		{
			name: "metrics port clash",
			mutate: func(c *Config) {
				c.Server.Metrics.Enabled = true
				c.Server.Metrics.Port = c.Adapters.Upload.Port
			},
			wantErr: "already used",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Storage.Type = "s3" },
			wantErr: "bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_S3WithBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Type = "s3"
	cfg.Storage.S3 = map[string]any{"bucket": "uploads", "region": "eu-west-1"}

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected s3 config with bucket to pass, got: %v", err)
	}
}

func TestValidate_HostnameBindAddress(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.Upload.BindAddress = "localhost"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected hostname bind address to pass, got: %v", err)
	}
}
