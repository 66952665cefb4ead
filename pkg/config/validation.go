package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against struct tags plus cross-field
// rules that tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		return err
	}

	return validateCrossFields(cfg)
}

// validateCrossFields applies rules spanning multiple fields or sections.
func validateCrossFields(cfg *Config) error {
	if cfg.Metadata.DBType == "sqlite" && cfg.Metadata.Database == "" {
		return fmt.Errorf("metadata: sqlite requires a database path (or \":memory:\")")
	}

	if cfg.Production.Wiki != "" && len(cfg.Production.DBLists) > 0 {
		return fmt.Errorf("production: wiki and dblists are mutually exclusive")
	}

	// storage endpoints are optional for metadata-only commands, but when
	// present each must name a shard
	for i, e := range cfg.Storage.Endpoints {
		if e == "" {
			return fmt.Errorf("storage: endpoint #%d is empty", i+1)
		}
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry: enabled but no endpoint configured")
	}

	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("telemetry: profiling enabled but no endpoint configured")
	}

	return nil
}
