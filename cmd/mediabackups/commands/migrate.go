package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|version]",
	Short:     "Run metadata database migrations",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "version"},
	Long: `Run schema migrations on the metadata database.

This command applies pending schema migrations to the configured metadata
database. It is required after upgrading mediabackups when schema changes
have been made, and on a freshly provisioned metadata host.

Examples:
  # Apply all pending migrations
  mediabackups migrate

  # Report the current schema version
  mediabackups migrate version

  # Run migrations with custom config
  mediabackups migrate --config /etc/mediabackup/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	ctx := cmd.Context()
	switch action {
	case "up":
		logger.Info("running metadata schema migrations", "type", cfg.Metadata.DBType)
		if err := metadata.Migrate(ctx, cfg.Metadata); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Println("Migrations completed successfully")
	case "version":
		version, dirty, err := metadata.MigrationVersion(ctx, cfg.Metadata)
		if err != nil {
			return fmt.Errorf("reading schema version failed: %w", err)
		}
		if version == 0 {
			fmt.Println("No migrations have been applied yet")
			return nil
		}
		fmt.Printf("Schema version: %d\n", version)
		if dirty {
			fmt.Println("WARNING: the schema is dirty, a previous migration failed halfway")
		}
	default:
		return fmt.Errorf("unknown migrate action %q (expected up or version)", action)
	}
	return nil
}
