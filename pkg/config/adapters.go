package config

import (
	"fmt"

	"github.com/marmos91/dittodrop/pkg/adapter"
	"github.com/marmos91/dittodrop/pkg/adapter/upload"
	"github.com/marmos91/dittodrop/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete DittoDrop configuration
//   - uploadMetrics: Optional upload metrics collector (nil = no metrics)
//
// Returns the enabled adapters, ready to be added to the server.
func CreateAdapters(cfg *Config, uploadMetrics metrics.UploadMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.Upload.Enabled {
		adapters = append(adapters, upload.New(cfg.Adapters.Upload, uploadMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
