package commands

import (
	"github.com/spf13/cobra"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
)

var queryCmd = &cobra.Command{
	Use:   "query-media-file",
	Short: "Find backed up media files",
	Long: `Interactively search the backup metadata for media files by title,
content hash, original storage path or date, and print every property
of the matching backups.

Exits with code 4 when nothing matches the given criteria.`,
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rows, err := searchSession(cmd.Context(), cfg, "query")
	if err != nil {
		return err
	}

	logger.Info("printed file(s) and finished execution", logger.KeyRows, len(rows))
	return nil
}
