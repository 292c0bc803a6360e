package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a commented default configuration file to the default
// location and returns its path.
//
// Returns an error if the file already exists and force is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration file to path,
// creating parent directories as needed.
//
// Returns an error if the file already exists and force is false.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to check config file: %w", err)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var configTemplate = template.Must(template.New("config").Funcs(template.FuncMap{
	"quote": strconv.Quote,
	"opt": func(m map[string]any, key string) any {
		return m[key]
	},
}).Parse(`# DittoDrop Configuration File
#
# Every value can be overridden with an environment variable named after its
# path, e.g. DITTODROP_ADAPTERS_UPLOAD_PORT=2000 or DITTODROP_LOGGING_LEVEL=DEBUG.

logging:
  # Minimum level: DEBUG, INFO, WARN, ERROR
  level: {{ quote .Logging.Level }}
  # Output format: text, json
  format: {{ quote .Logging.Format }}
  # Destination: stdout, stderr, or a file path
  output: {{ quote .Logging.Output }}

server:
  # How long stopping all adapters may take once a shutdown signal arrives
  shutdown_timeout: {{ .Server.ShutdownTimeout }}

  metrics:
    # Expose Prometheus metrics on http://<host>:<port>/metrics
    enabled: {{ .Server.Metrics.Enabled }}
    port: {{ .Server.Metrics.Port }}

storage:
  # Backend receiving uploads: filesystem, memory, s3
  type: {{ quote .Storage.Type }}

  filesystem:
    # Directory uploads are written to, as <path>/<random>_<name>
    path: {{ quote (printf "%v" (opt .Storage.Filesystem "path")) }}
    # Flush every upload to stable storage before acknowledging it
    sync: {{ or (opt .Storage.Filesystem "sync") false }}

  memory:
    # Total bytes kept in memory, 0 for unlimited
    max_size_bytes: {{ or (opt .Storage.Memory "max_size_bytes") 0 }}

  # s3:
  #   region: "us-east-1"
  #   bucket: "uploads"
  #   key_prefix: "incoming/"
  #   # S3-compatible endpoint (MinIO, Localstack); enables path-style addressing
  #   endpoint: "http://localhost:9000"
  #   # Leave empty to use the default AWS credential chain
  #   access_key_id: ""
  #   secret_access_key: ""
  #   max_retries: 10
  #   # For services that reject If-None-Match on PutObject
  #   disable_conditional_writes: false

adapters:
  upload:
    enabled: {{ .Adapters.Upload.Enabled }}
    # IPv4 address to listen on; empty for all interfaces
    bind_address: {{ quote .Adapters.Upload.BindAddress }}
    port: {{ .Adapters.Upload.Port }}

    # Worker goroutines sharing one epoll instance
    workers: {{ .Adapters.Upload.Workers }}
    backlog: {{ .Adapters.Upload.Backlog }}
    # Readiness events collected per wait, and how long one wait may block
    max_events: {{ .Adapters.Upload.MaxEvents }}
    wait_timeout: {{ .Adapters.Upload.WaitTimeout }}

    # Socket send/receive timeout; 0s lets a stalled client hold its worker
    io_timeout: {{ .Adapters.Upload.IOTimeout }}

    # Requests announcing larger values are rejected with a failure status
    max_name_length: {{ .Adapters.Upload.MaxNameLength }}
    max_content_size: {{ .Adapters.Upload.MaxContentSize }}

    # New connections admitted per second (0 = unlimited) and burst size
    max_accept_rate: {{ .Adapters.Upload.MaxAcceptRate }}
    accept_burst: {{ .Adapters.Upload.AcceptBurst }}

    # Byte order of the status reply: network (big endian) or native
    status_byte_order: {{ quote .Adapters.Upload.StatusByteOrder }}

    # Time in-flight uploads get to finish before connections are force-closed
    shutdown_timeout: {{ .Adapters.Upload.ShutdownTimeout }}
    # Periodically log connection counters; 0s disables
    metrics_log_interval: {{ .Adapters.Upload.MetricsLogInterval }}
`))

// generateYAMLWithComments renders cfg as a commented YAML document.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, cfg); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}

	var check map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &check); err != nil {
		return "", fmt.Errorf("generated config is not valid YAML: %w", err)
	}

	return buf.String(), nil
}
