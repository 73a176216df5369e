package config

import (
	"strings"
	"time"

	"github.com/dbihost/dbihost/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyUSBDefaults(&cfg.USB)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyUSBDefaults sets device identification and transfer tuning defaults.
func applyUSBDefaults(cfg *USBConfig) {
	if cfg.VendorID == 0 {
		cfg.VendorID = 0x057e // Nintendo
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = 0x3000 // Switch, bulk mode
	}
	// Interface defaults to 0, the zero value.

	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = bytesize.MiB
	}
	if cfg.ShortTimeout == 0 {
		cfg.ShortTimeout = 100 * time.Millisecond
	}
	if cfg.LongTimeout == 0 {
		cfg.LongTimeout = 30 * time.Second
	}
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = 3
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.PipeRetryDelay == 0 {
		cfg.PipeRetryDelay = 100 * time.Millisecond
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
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
		Logging: LoggingConfig{},
		USB:     USBConfig{},
		Metrics: MetricsConfig{},
		Catalog: []CatalogEntry{},
	}

	ApplyDefaults(cfg)
	return cfg
}
