package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/backupstore"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/encryption"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
	metrics "gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metrics/prometheus"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/pipeline"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/swift"
)

var backupCmd = &cobra.Command{
	Use:   "backup-wiki",
	Short: "Back up all pending media files",
	Long: `Drain the pending backup queue: download each claimed file from
production storage, skip duplicates already backed up, encrypt media of
non-public wikis and upload everything to the backup endpoints,
recording the outcome of every file on the metadata database.

Several backup-wiki processes may run in parallel, also on different
hosts: each one claims its own batches. The command exits once a claim
round comes back empty, or after the current batch when interrupted.

Examples:
  # Back up everything pending
  mediabackups backup-wiki

  # With metrics exposed for Prometheus
  MEDIABACKUPS_METRICS_ENABLED=true mediabackups backup-wiki`,
	RunE: runBackupWiki,
}

func runBackupWiki(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer telemetryShutdown()

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	// The worker batch size wins over the claim default
	if cfg.Worker.Batchsize > 0 {
		cfg.Metadata.Batchsize = cfg.Worker.Batchsize
	}

	store := metadata.New(cfg.Metadata)
	if err := store.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	backups, err := backupstore.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	enc, err := encryption.New(cfg.Encryption.IdentityFile)
	if err != nil {
		return err
	}

	// Metrics listener (if enabled)
	var pipelineMetrics *metrics.Metrics
	var metricsServer *metrics.Server
	metricsDone := make(chan error, 1)
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		pipelineMetrics = metrics.NewMetrics(registry)
		metricsServer = metrics.NewServer(cfg.Metrics.Port, registry)
		go func() {
			metricsDone <- metricsServer.Start(ctx)
		}()
	} else {
		logger.Info("metrics collection disabled")
	}

	p := &pipeline.Pipeline{
		Metadata:  store,
		Swift:     swift.NewClient(cfg.Swift, cfg.Production.Batchsize),
		Store:     backups,
		Encryptor: enc,
		TmpRoot:   cfg.Worker.TmpDir,
		Metrics:   pipelineMetrics,
	}

	// Run the pipeline in background so signals stop it between batches
	runDone := make(chan error, 1)
	var processed int
	go func() {
		n, err := p.Run(ctx)
		processed = n
		runDone <- err
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, stopping after the current batch")
		cancel()
		runErr = <-runDone
	case runErr = <-runDone:
		signal.Stop(sigChan)
	}

	cancel()
	if metricsServer != nil {
		if err := <-metricsDone; err != nil {
			logger.Error("metrics server error", logger.Err(err))
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("backup run finished", logger.KeyRows, processed)
	return nil
}
