package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/catalog"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/updater"
)

var (
	uploadsWiki      string
	uploadsAPIURL    string
	uploadsAPIWait   time.Duration
	uploadsBatchWait time.Duration
)

var addRecentUploadsCmd = &cobra.Command{
	Use:   "add-recent-uploads",
	Short: "Continuously record new uploads on the metadata database",
	Long: `Poll the MediaWiki action API for upload log events newer than the
latest upload already recorded, query production for the full metadata
of each batch, and reconcile it into the metadata database as pending
backups. Runs until stopped.

Examples:
  # Follow commons uploads
  mediabackups add-recent-uploads --wiki commonswiki

  # Poll another wiki's API, more slowly
  mediabackups add-recent-uploads --wiki testwiki \
    --api-url https://test.wikipedia.org/w/api.php --api-wait-time 60s`,
	RunE: runAddRecentUploads,
}

func init() {
	addRecentUploadsCmd.Flags().StringVar(&uploadsWiki, "wiki", defaultWiki, "Wiki whose uploads are followed")
	addRecentUploadsCmd.Flags().StringVar(&uploadsAPIURL, "api-url", updater.DefaultAPIURL, "MediaWiki action API endpoint")
	addRecentUploadsCmd.Flags().DurationVar(&uploadsAPIWait, "api-wait-time", 0, "Pause between polling cycles (overrides config)")
	addRecentUploadsCmd.Flags().DurationVar(&uploadsBatchWait, "batch-wait-time", 0, "Pause between continuation pages (overrides config)")
}

func runAddRecentUploads(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer telemetryShutdown()

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	apiWait := cfg.API.WaitTime
	if uploadsAPIWait > 0 {
		apiWait = uploadsAPIWait
	}
	batchWait := cfg.API.BatchWaitTime
	if uploadsBatchWait > 0 {
		batchWait = uploadsBatchWait
	}

	u := &updater.Updater{
		Catalog:   catalog.New(cfg.Production),
		Metadata:  metadata.New(cfg.Metadata),
		Wiki:      uploadsWiki,
		APIURL:    uploadsAPIURL,
		UserAgent: cfg.API.UserAgent,
		APIWait:   apiWait,
		BatchWait: batchWait,
	}

	logger.Info("following recent uploads", logger.KeyWiki, uploadsWiki, logger.KeyURL, uploadsAPIURL)
	if err := u.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped following recent uploads", logger.KeyWiki, uploadsWiki)
	return nil
}
