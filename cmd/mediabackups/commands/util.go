package commands

import (
	"context"
	"errors"
	"fmt"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/telemetry"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadConfig loads the configuration and initializes the logger.
// Every subcommand starts here.
func loadConfig() (*config.Config, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// wikisToProcess resolves which wikis a metadata scan covers: the
// configured single wiki when set, otherwise every entry of the
// configured dblist files.
func wikisToProcess(cfg *config.Config) ([]string, error) {
	if cfg.Production.Wiki != "" {
		return []string{cfg.Production.Wiki}, nil
	}

	var wikis []string
	for _, path := range cfg.Production.DBLists {
		list, err := media.ReadDBList(path)
		if err != nil {
			return nil, err
		}
		wikis = append(wikis, list...)
	}
	if len(wikis) == 0 {
		return nil, errors.New("config does not contain a valid wiki or dblist definition")
	}
	return wikis, nil
}

// initTelemetry sets up OpenTelemetry tracing and Pyroscope profiling
// from configuration and returns a combined shutdown function. Both are
// no-ops when disabled.
func initTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "mediabackups",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "mediabackups",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		_ = telemetryShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", logger.KeyEndpoint, cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("profiling enabled", logger.KeyEndpoint, cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("profiling disabled")
	}

	shutdown := func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}
	return shutdown, nil
}
