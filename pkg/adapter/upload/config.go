package upload

import (
	"fmt"
	"time"

	"github.com/marmos91/dittodrop/internal/wire"
)

// UploadConfig holds configuration parameters for the upload server.
//
// Default values (applied by New if zero):
//   - Workers: 4
//   - Backlog: 150
//   - MaxEvents: 150
//   - WaitTimeout: 30s
//   - MaxNameLength: 255
//   - MaxContentSize: 1 GiB
//   - StatusByteOrder: "network"
//   - ShutdownTimeout: 30s
//
// Port 0 asks the kernel for a free port; pkg/config supplies the 1026
// default for deployments.
type UploadConfig struct {
	// Enabled controls whether the upload adapter is started.
	Enabled bool `mapstructure:"enabled"`

	// BindAddress is the IPv4 address to listen on. Empty means all interfaces.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ipv4|hostname"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// Workers is the fixed size of the worker pool sharing the poller.
	Workers int `mapstructure:"workers" validate:"min=0,max=1024"`

	// Backlog is passed to listen(2).
	Backlog int `mapstructure:"backlog" validate:"min=0"`

	// MaxEvents is the number of readiness events each worker collects per wait.
	MaxEvents int `mapstructure:"max_events" validate:"min=0"`

	// WaitTimeout bounds a single epoll wait. Workers simply wait again
	// when it expires; it only matters for how fast an idle pool notices
	// shutdown if the wake-up event is lost.
	WaitTimeout time.Duration `mapstructure:"wait_timeout" validate:"min=0"`

	// IOTimeout sets SO_RCVTIMEO and SO_SNDTIMEO on client sockets.
	// 0 means none: a peer that stalls mid-request holds its worker until
	// it sends more or disconnects.
	IOTimeout time.Duration `mapstructure:"io_timeout" validate:"min=0"`

	// MaxNameLength rejects requests announcing a longer name.
	MaxNameLength uint32 `mapstructure:"max_name_length"`

	// MaxContentSize rejects requests announcing more content bytes.
	MaxContentSize uint32 `mapstructure:"max_content_size"`

	// MaxAcceptRate caps admitted connections per second. 0 disables the cap.
	MaxAcceptRate uint `mapstructure:"max_accept_rate"`

	// AcceptBurst is the token bucket size for MaxAcceptRate. 0 uses the rate.
	AcceptBurst uint `mapstructure:"accept_burst"`

	// StatusByteOrder is "network" (big endian) or "native" (host order,
	// for clients built against the old host-order status word).
	StatusByteOrder string `mapstructure:"status_byte_order" validate:"omitempty,oneof=network native"`

	// ShutdownTimeout is how long in-flight uploads may take to finish once
	// shutdown starts. Remaining connections are then shut down forcibly.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval logs connection counters periodically. 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// applyDefaults fills in zero values.
func (c *UploadConfig) applyDefaults() {
	// Enabled and Port defaults live in pkg/config so an explicit false or
	// an explicit 0 from a config file survive.

	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.Backlog == 0 {
		c.Backlog = 150
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = 150
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = 30 * time.Second
	}
	if c.MaxNameLength == 0 {
		c.MaxNameLength = 255
	}
	if c.MaxContentSize == 0 {
		c.MaxContentSize = 1 << 30
	}
	if c.StatusByteOrder == "" {
		c.StatusByteOrder = "network"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// validate checks the configuration after defaults are applied.
func (c *UploadConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid Workers %d: must be >= 1", c.Workers)
	}
	if c.Backlog < 1 {
		return fmt.Errorf("invalid Backlog %d: must be >= 1", c.Backlog)
	}
	if c.MaxEvents < 1 {
		return fmt.Errorf("invalid MaxEvents %d: must be >= 1", c.MaxEvents)
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("invalid WaitTimeout %v: must be >= 0", c.WaitTimeout)
	}
	if c.IOTimeout < 0 {
		return fmt.Errorf("invalid IOTimeout %v: must be >= 0", c.IOTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.MetricsLogInterval < 0 {
		return fmt.Errorf("invalid MetricsLogInterval %v: must be >= 0", c.MetricsLogInterval)
	}
	if _, err := wire.ParseByteOrder(c.StatusByteOrder); err != nil {
		return fmt.Errorf("invalid StatusByteOrder: %w", err)
	}
	return nil
}

// limits returns the request limits enforced by the decoder.
func (c *UploadConfig) limits() wire.Limits {
	return wire.Limits{
		MaxNameLength:  c.MaxNameLength,
		MaxContentSize: c.MaxContentSize,
	}
}
