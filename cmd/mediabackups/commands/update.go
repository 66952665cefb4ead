package commands

import (
	"context"

	"github.com/spf13/cobra"

	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
)

var updateCmd = &cobra.Command{
	Use:   "update-mysql-metadata",
	Short: "Reconcile the metadata database with production",
	Long: `Re-read the media files of every configured wiki from the production
MediaWiki databases and reconcile them against the records already on
the metadata database: unchanged files are left alone, renamed or
re-archived files are updated (keeping their history), and files never
seen before are inserted as pending backups.

Examples:
  # Reconcile every wiki of the configured dblists
  mediabackups update-mysql-metadata

  # Reconcile a single wiki
  MEDIABACKUPS_PRODUCTION_WIKI=testwiki mediabackups update-mysql-metadata`,
	RunE: runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) error {
	return runMetadataScan("update-mysql-metadata",
		func(ctx context.Context, store *metadata.Store, wiki string, batch []*media.File) (int, error) {
			return store.CheckAndUpdate(ctx, wiki, batch)
		})
}
