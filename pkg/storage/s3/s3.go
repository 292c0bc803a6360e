// Package s3 stores uploads as objects in an S3 or S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/storage"
)

// API is the subset of the S3 client used by the store. *s3.Client
// satisfies it; tests substitute a fake.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3StoreConfig contains configuration for the S3 store.
type S3StoreConfig struct {
	// Client is the configured S3 client
	Client API

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key
	// Example: "uploads/" results in keys like "uploads/1804289383_a.txt"
	KeyPrefix string

	// DisableConditionalWrites skips the If-None-Match precondition for
	// S3-compatible services that reject it. Key collisions then overwrite.
	DisableConditionalWrites bool

	// Metrics observes each S3 call. Optional.
	Metrics Metrics
}

// S3Store implements storage.Store on top of PutObject.
//
// Every upload is a single PutObject call carrying If-None-Match: *, so an
// existing object under the same key is never replaced; the service answers
// 412 and Put reports storage.ErrExists.
//
// Thread Safety:
// Safe for concurrent use; the AWS client is goroutine-safe.
type S3Store struct {
	client      API
	bucket      string
	keyPrefix   string
	conditional bool
	metrics     Metrics
}

// NewS3Store creates an S3 store and verifies the bucket is reachable.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	// ========================================================================
	// Step 1: Check context and configuration
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	// ========================================================================
	// Step 2: Verify bucket access
	// ========================================================================

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	start := time.Now()
	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	metrics.ObserveOperation("HeadBucket", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3Store{
		client:      cfg.Client,
		bucket:      cfg.Bucket,
		keyPrefix:   cfg.KeyPrefix,
		conditional: !cfg.DisableConditionalWrites,
		metrics:     metrics,
	}, nil
}

func (s *S3Store) objectKey(key string) string {
	return s.keyPrefix + key
}

// Put uploads content as a single object.
func (s *S3Store) Put(ctx context.Context, key string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	objectKey := s.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	}
	if s.conditional {
		input.IfNoneMatch = aws.String("*")
	}

	start := time.Now()
	_, err := s.client.PutObject(ctx, input)
	s.metrics.ObserveOperation("PutObject", time.Since(start), err)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("s3://%s/%s: %w", s.bucket, objectKey, storage.ErrExists)
		}
		return "", fmt.Errorf("failed to put object %s: %w", objectKey, err)
	}

	s.metrics.RecordBytes("PutObject", int64(len(content)))
	logger.Debug("S3 object written: bucket=%s key=%s size=%d", s.bucket, objectKey, len(content))

	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}

// isPreconditionFailed reports whether err is the service refusing a
// conditional write because the object exists.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

// Type returns "s3".
func (s *S3Store) Type() string {
	return "s3"
}

// Close is a no-op; the AWS client holds no resources that need release.
func (s *S3Store) Close() error {
	return nil
}
