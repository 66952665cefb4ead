package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Called after loading configuration from file and environment variables
// to fill in any missing values.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetadataDefaults(&cfg.Metadata)
	applyProductionDefaults(&cfg.Production)
	applyStorageDefaults(&cfg.Storage)
	applyWorkerDefaults(cfg)
	applyAPIDefaults(&cfg.API)
	applyMetricsDefaults(&cfg.Metrics)
	applyTelemetryDefaults(&cfg.Telemetry)
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
		cfg.Output = "stderr"
	}
}

// applyMetadataDefaults sets backup metadata database defaults.
func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.DBType == "" {
		cfg.DBType = "mysql"
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Database == "" {
		cfg.Database = "mediabackups"
	}
	if cfg.Batchsize == 0 {
		cfg.Batchsize = 1000
	}
}

// applyProductionDefaults sets MediaWiki database defaults.
func applyProductionDefaults(cfg *ProductionConfig) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Batchsize == 0 {
		cfg.Batchsize = 100
	}
}

// applyStorageDefaults sets backup storage defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Bucket == "" {
		cfg.Bucket = "mediabackups"
	}
}

// applyWorkerDefaults sets batch worker defaults.
// The worker batch size falls back to the metadata claim batch size.
func applyWorkerDefaults(cfg *Config) {
	if cfg.Worker.TmpDir == "" {
		cfg.Worker.TmpDir = "/srv/mediabackup"
	}
	if cfg.Worker.Batchsize == 0 {
		cfg.Worker.Batchsize = cfg.Metadata.Batchsize
	}
}

// applyAPIDefaults sets MediaWiki API polling defaults.
func applyAPIDefaults(cfg *APIConfig) {
	if cfg.WaitTime == 0 {
		cfg.WaitTime = 10 * time.Second
	}
	if cfg.BatchWaitTime == 0 {
		cfg.BatchWaitTime = 1 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mediabackups https://phabricator.wikimedia.org/diffusion/OSWB/"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
