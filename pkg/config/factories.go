package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/metrics"
	"github.com/marmos91/dittodrop/pkg/storage"
	storageFs "github.com/marmos91/dittodrop/pkg/storage/fs"
	storageMemory "github.com/marmos91/dittodrop/pkg/storage/memory"
	storageS3 "github.com/marmos91/dittodrop/pkg/storage/s3"
	"github.com/mitchellh/mapstructure"
)

// defaultS3MaxAttempts replaces the SDK default of 3 attempts.
const defaultS3MaxAttempts = 10

// CreateStore creates a storage backend based on configuration.
//
// The Type field selects the implementation; the matching option map is
// decoded into that backend's configuration and passed to its constructor.
//
// Supported types:
//   - "filesystem": pkg/storage/fs (one file per upload, memory-mapped writes)
//   - "memory": pkg/storage/memory (ephemeral, for tests and demos)
//   - "s3": pkg/storage/s3 (Amazon S3 or a compatible service)
//
// Call InitializeMetrics first so backends that report metrics pick up the
// registry.
func CreateStore(ctx context.Context, cfg *StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemStore(ctx, cfg.Filesystem)
	case "memory":
		return createMemoryStore(ctx, cfg.Memory)
	case "s3":
		return createS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage type: %q (supported: filesystem, memory, s3)", cfg.Type)
	}
}

// decodeOptions decodes a backend option map into out. Weak typing lets
// environment overrides ("true", "0644") land in typed fields.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// createFilesystemStore creates a filesystem-based store.
func createFilesystemStore(ctx context.Context, options map[string]any) (storage.Store, error) {
	var storeCfg storageFs.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem storage config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem storage: path is required")
	}

	store, err := storageFs.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}

	logger.Info("Filesystem storage initialized: path=%s, sync=%v", storeCfg.Path, storeCfg.Sync)
	return store, nil
}

// createMemoryStore creates an in-memory store.
func createMemoryStore(ctx context.Context, options map[string]any) (storage.Store, error) {
	var storeCfg storageMemory.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory storage config: %w", err)
	}

	store, err := storageMemory.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory storage: %w", err)
	}

	logger.Info("Memory storage initialized: max_size_bytes=%d", storeCfg.MaxSizeBytes)
	return store, nil
}

// s3Options are the user-facing S3 settings.
type s3Options struct {
	Region                   string `mapstructure:"region"`
	Bucket                   string `mapstructure:"bucket"`
	KeyPrefix                string `mapstructure:"key_prefix"`
	Endpoint                 string `mapstructure:"endpoint"`
	AccessKeyID              string `mapstructure:"access_key_id"`
	SecretAccessKey          string `mapstructure:"secret_access_key"`
	MaxRetries               int    `mapstructure:"max_retries"`
	DisableConditionalWrites bool   `mapstructure:"disable_conditional_writes"`
}

// decodeS3Options decodes and checks the S3 option map.
func decodeS3Options(options map[string]any) (s3Options, error) {
	var opts s3Options
	if err := decodeOptions(options, &opts); err != nil {
		return opts, fmt.Errorf("failed to decode S3 storage config: %w", err)
	}

	if opts.Bucket == "" {
		return opts, fmt.Errorf("S3 storage: bucket is required")
	}
	if opts.Region == "" {
		return opts, fmt.Errorf("S3 storage: region is required")
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultS3MaxAttempts
	}

	return opts, nil
}

// createS3Store creates an S3-backed store.
func createS3Store(ctx context.Context, options map[string]any) (storage.Store, error) {
	opts, err := decodeS3Options(options)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxAttempts := opts.MaxRetries
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxAttempts
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Store
	// ========================================================================

	store, err := storageS3.NewS3Store(ctx, storageS3.S3StoreConfig{
		Client:                   client,
		Bucket:                   opts.Bucket,
		KeyPrefix:                opts.KeyPrefix,
		DisableConditionalWrites: opts.DisableConditionalWrites,
		Metrics:                  metrics.NewS3Metrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 storage: %w", err)
	}

	logger.Info("S3 storage initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)

	return store, nil
}
