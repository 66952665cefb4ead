package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/output"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/backupstore"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/query"
)

var deleteExecute bool

var deleteCmd = &cobra.Command{
	Use:   "delete-media-file [batchlog]",
	Short: "Delete backed up media files (dry run by default)",
	Long: `Search the backup metadata interactively, or resolve the files named
by an eraseArchivedFile maintenance log, and delete the matching copies
from backup storage together with their metadata.

Deletions run in dry-run mode unless --execute is given: the session
follows the same steps and confirmations but nothing is touched. Before
any deletion every file's production URL is probed; a file still
publicly reachable aborts the whole session.

Examples:
  # Interactive dry run
  mediabackups delete-media-file

  # Interactive, for real
  mediabackups delete-media-file --execute

  # Resolve deletions from a maintenance log, for real
  mediabackups delete-media-file --execute /var/log/eraseArchivedFile.log`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeleteMediaFile,
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteExecute, "execute", false, "Perform the deletion instead of a dry run")
}

func runDeleteMediaFile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	dryRun := !deleteExecute

	p := output.DefaultPrinter()
	if dryRun {
		p.Warning("This is a dry run deletion: no actual file or metadata will be affected, " +
			"even if the session follows the same steps and confirmation.")
	} else {
		p.Warning("An actual backup file deletion will be performed. These actions cannot be " +
			"undone, although you will be given the chance of a final confirmation.")
	}

	store := metadata.New(cfg.Metadata)
	if err := store.Connect(ctx); err != nil {
		return err
	}

	var rows []*metadata.BackupRow
	if len(args) == 1 {
		rows, err = batchLogRows(ctx, store, args[0])
	} else {
		var criteria query.Criteria
		criteria, err = interactiveCriteria(ctx, store, "deletion")
		if err == nil {
			rows, err = query.Search(ctx, store, criteria)
		}
	}
	// The operator may sit on the confirmation for a long time; the
	// metadata session is reopened after the physical deletion.
	_ = store.Close()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		logger.Warn("no file was found that matched the given criteria, exiting")
		return errNoResults
	}

	if err := query.PrintFiles(os.Stdout, rows); err != nil {
		return err
	}
	if dryRun {
		p.Warning("Executing deletion in dry mode, so files will not be actually deleted")
	} else {
		p.Warning("WARNING! File deletion cannot be reverted")
	}
	if err := confirmAction("deletion", len(rows)); err != nil {
		return err
	}

	backups, err := backupstore.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	deletion := &query.Deletion{
		Store:     backups,
		UserAgent: cfg.API.UserAgent,
		DryRun:    dryRun,
	}
	deleted, err := deletion.DeleteFiles(ctx, rows)
	if err != nil {
		return err
	}

	if err := store.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	failed, err := store.MarkAsDeleted(ctx, deleted, dryRun)
	if err != nil {
		return err
	}
	if failed > 0 {
		p.Warning(fmt.Sprintf("%d metadata statements did not match exactly one row; check the logs", failed))
	}

	finishSession(p, "deletion")
	return nil
}

// batchLogRows resolves the deletions recorded on an eraseArchivedFile
// maintenance log against the backup metadata.
func batchLogRows(ctx context.Context, store *metadata.Store, path string) ([]*metadata.BackupRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening batch log: %w", err)
	}
	defer func() { _ = f.Close() }()

	result, err := query.ParseBatchLog(ctx, store, f)
	if err != nil {
		return nil, err
	}
	if n := len(result.Missing); n > 0 {
		logger.Warn("searches returned no files", logger.KeyRows, n)
	}
	if n := len(result.Multiple); n > 0 {
		logger.Warn("searches returned multiple results", logger.KeyRows, n)
	}
	return result.Found, nil
}
