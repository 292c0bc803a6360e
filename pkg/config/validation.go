package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittodrop/internal/wire"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both uppercase and lowercase levels.
//
// Returns an error describing the first validation failure.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that cannot be expressed in tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.Upload.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	upload := cfg.Adapters.Upload
	if upload.Workers < 1 {
		return fmt.Errorf("adapters.upload.workers: must be at least 1")
	}
	if upload.ShutdownTimeout <= 0 {
		return fmt.Errorf("adapters.upload.shutdown_timeout: must be positive")
	}
	if _, err := wire.ParseByteOrder(upload.StatusByteOrder); err != nil {
		return fmt.Errorf("adapters.upload.status_byte_order: %w", err)
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == upload.Port {
		return fmt.Errorf("server.metrics.port: %d is already used by the upload adapter", upload.Port)
	}

	if cfg.Storage.Type == "s3" {
		if bucket, _ := cfg.Storage.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("storage.s3.bucket: required when storage.type is s3")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
