// Command dittodrop runs the DittoDrop upload server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/config"
	"github.com/marmos91/dittodrop/pkg/server"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usage = `DittoDrop - epoll file upload server

Usage:
  dittodrop [flags]            start the server
  dittodrop init [--force]     write a commented default config file

Configuration is read from --config, or from
$XDG_CONFIG_HOME/dittodrop/config.yaml when present. Every setting can be
overridden with DITTODROP_* environment variables, and the flags below
override both.

Flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dittodrop: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("dittodrop", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "path to config file (YAML or TOML)")
	force := flagSet.Bool("force", false, "init: overwrite an existing config file")
	flagSet.IntP("port", "p", 0, "upload port (default 1026)")
	flagSet.String("bind", "", "IPv4 address to listen on (default all interfaces)")
	flagSet.StringP("dir", "d", "", "storage directory for the filesystem backend (default /tmp)")
	flagSet.Int("workers", 0, "number of epoll workers (default 4)")
	flagSet.String("status-byte-order", "", "status reply byte order: network or native")
	flagSet.String("log-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	flagSet.Bool("metrics", false, "expose Prometheus metrics")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if rest := flagSet.Args(); len(rest) > 0 {
		if rest[0] != "init" || len(rest) > 1 {
			return fmt.Errorf("unexpected argument: %s", rest[len(rest)-1])
		}
		return initConfig(*configPath, *force)
	}

	v := viper.New()
	for flag, key := range map[string]string{
		"port":              "adapters.upload.port",
		"bind":              "adapters.upload.bind_address",
		"dir":               "storage.filesystem.path",
		"workers":           "adapters.upload.workers",
		"status-byte-order": "adapters.upload.status_byte_order",
		"log-level":         "logging.level",
		"metrics":           "server.metrics.enabled",
	} {
		if err := v.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}

	cfg, err := config.LoadWith(v, *configPath)
	if err != nil {
		return err
	}

	return serve(cfg)
}

// initConfig writes the default configuration file.
func initConfig(path string, force bool) error {
	if path == "" {
		written, err := config.InitConfig(force)
		if err != nil {
			return err
		}
		path = written
	} else if err := config.InitConfigToPath(path, force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

// serve runs the server described by cfg until SIGINT or SIGTERM.
func serve(cfg *config.Config) error {
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Step 1: Metrics
	// ========================================================================

	metricsResult := config.InitializeMetrics(cfg)
	metricsDone := make(chan struct{})
	if metricsResult.Server != nil {
		go func() {
			defer close(metricsDone)
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	} else {
		close(metricsDone)
	}
	defer func() {
		stop()
		<-metricsDone
	}()

	// ========================================================================
	// Step 2: Storage
	// ========================================================================

	store, err := config.CreateStore(ctx, &cfg.Storage)
	if err != nil {
		logger.Error("Failed to create storage: %v", err)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// ========================================================================
	// Step 3: Adapters
	// ========================================================================

	adapters, err := config.CreateAdapters(cfg, metricsResult.UploadMetrics)
	if err != nil {
		return err
	}

	srv := server.New(store)
	srv.StopTimeout = cfg.Server.ShutdownTimeout
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return fmt.Errorf("failed to add %s adapter: %w", a.Protocol(), err)
		}
	}

	logger.Info("DittoDrop starting: storage=%s, log level=%s", store.Type(), cfg.Logging.Level)

	// ========================================================================
	// Step 4: Serve until signalled
	// ========================================================================

	err = srv.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server stopped with error: %v", err)
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
