package commands

import (
	"context"

	"github.com/spf13/cobra"

	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
)

var gatherCmd = &cobra.Command{
	Use:   "gather-mysql-metadata",
	Short: "Discover media files from the production databases",
	Long: `Read the full list of media files from the production MediaWiki
databases (image, oldimage and filearchive tables) of every configured
wiki and record them on the metadata database as pending backups.

A full scan of a large wiki takes hours. Batches are committed one at a
time, so an interrupted scan can be re-run.

Examples:
  # Scan every wiki of the configured dblists
  mediabackups gather-mysql-metadata

  # Scan a single wiki
  MEDIABACKUPS_PRODUCTION_WIKI=testwiki mediabackups gather-mysql-metadata`,
	RunE: runGather,
}

func runGather(cmd *cobra.Command, args []string) error {
	return runMetadataScan("gather-mysql-metadata",
		func(ctx context.Context, store *metadata.Store, wiki string, batch []*media.File) (int, error) {
			return store.Add(ctx, batch)
		})
}
