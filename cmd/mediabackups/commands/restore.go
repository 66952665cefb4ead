package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/output"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/backupstore"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/encryption"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/query"
)

var (
	restoreTargetDir string
	restoreExecute   bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore-media-file",
	Short: "Recover backed up media files to the local filesystem",
	Long: `Interactively search the backup metadata and download the matching
files from backup storage into a local directory, decrypting the ones
that were backed up encrypted.

Recoveries run in dry-run mode unless --execute is given: the session
searches, confirms and checks that every backup is reachable, but
writes nothing. A confirmation prompt gates the writes. Existing local
files are never overwritten: a recovered file that would collide gets
"~" appended to its name instead.

Examples:
  # Check what would be recovered into the current directory
  mediabackups restore-media-file

  # Recover somewhere else, for real
  mediabackups restore-media-file --execute --target-dir /srv/recovered`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreTargetDir, "target-dir", "d", ".", "Directory the recovered files are written to")
	restoreCmd.Flags().BoolVar(&restoreExecute, "execute", false, "Perform the recovery instead of a dry run")
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	dryRun := !restoreExecute
	p := output.DefaultPrinter()
	if dryRun {
		p.Warning("This is a dry run recovery: the backups will be located and checked, " +
			"but nothing will be written to the local filesystem.")
	}

	rows, err := searchSession(ctx, cfg, "recovery")
	if err != nil {
		return err
	}
	if err := confirmAction("recovery", len(rows)); err != nil {
		return err
	}

	backups, err := backupstore.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	enc, err := encryption.New(cfg.Encryption.IdentityFile)
	if err != nil {
		return err
	}

	recovery := &query.Recovery{
		Store:     backups,
		Decryptor: enc,
		TargetDir: restoreTargetDir,
		DryRun:    dryRun,
	}
	recovered, err := recovery.RecoverToLocal(ctx, rows)
	if err != nil {
		return err
	}

	if dryRun {
		p.Success(fmt.Sprintf("%d file(s) would be written to the local filesystem", recovered))
	} else {
		p.Success(fmt.Sprintf("%d file(s) were written to the local filesystem", recovered))
	}
	finishSession(p, "recovery")
	return nil
}
