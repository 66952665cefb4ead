package query

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/encryption"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
)

// RecoveryStore is the backup storage surface recoveries read from.
type RecoveryStore interface {
	Exists(ctx context.Context, key string, endpoint ...string) (bool, error)
	LocationOf(endpointURL string) (int, error)
	Get(ctx context.Context, locationID int, key, localPath string) error
}

// Decryptor recreates the cleartext of an encrypted backup. Decrypt
// names the file to be produced; the ciphertext is read from the same
// path with the encryption suffix appended.
type Decryptor interface {
	Decrypt(path string) error
}

// Recovery downloads backed up files into the local filesystem.
type Recovery struct {
	Store     RecoveryStore
	Decryptor Decryptor

	// TargetDir is where recovered files are written. Empty means the
	// current directory.
	TargetDir string

	// DryRun checks that every backup is present and resolvable but
	// writes nothing to the local filesystem.
	DryRun bool
}

// RecoverToLocal downloads every given backup next to the operator,
// named after the file's production path. Files that cannot be
// recovered are logged and skipped; the count of files actually
// written is returned.
func (r *Recovery) RecoverToLocal(ctx context.Context, rows []*metadata.BackupRow) (int, error) {
	logger.InfoCtx(ctx, "about to recover files", logger.KeyRows, len(rows))

	recovered := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}

		localPath := r.targetPath(row.ProductionPath)
		logger.InfoCtx(ctx, "attempting to recover file",
			logger.KeyKey, row.BackupPath,
			logger.KeyLocation, row.BackupLocation,
			logger.KeyPath, localPath)

		exists, err := r.Store.Exists(ctx, row.BackupPath)
		if err != nil {
			logger.ErrorCtx(ctx, "backup storage check failed",
				logger.KeyKey, row.BackupPath, logger.Err(err))
			continue
		}
		if !exists {
			logger.ErrorCtx(ctx, "file was not found on the backup storage",
				logger.KeyKey, row.BackupPath, logger.KeyLocation, row.BackupLocation)
			continue
		}
		locationID, err := r.Store.LocationOf(row.BackupLocation)
		if err != nil {
			logger.ErrorCtx(ctx, "backup location is not configured",
				logger.KeyLocation, row.BackupLocation, logger.Err(err))
			continue
		}

		if r.DryRun {
			logger.InfoCtx(ctx, "dry run: file would be recovered",
				logger.KeyKey, row.BackupPath, logger.KeyPath, localPath)
			recovered++
			continue
		}

		encrypted := strings.HasSuffix(row.BackupPath, encryption.Suffix)
		downloadPath := localPath
		if encrypted {
			downloadPath = localPath + encryption.Suffix
		}
		if err := r.Store.Get(ctx, locationID, row.BackupPath, downloadPath); err != nil {
			logger.ErrorCtx(ctx, "file failed to be downloaded",
				logger.KeyKey, row.BackupPath,
				logger.KeyLocation, row.BackupLocation,
				logger.Err(err))
			continue
		}
		logger.InfoCtx(ctx, "file downloaded from the backup storage",
			logger.KeyKey, row.BackupPath, logger.KeyPath, downloadPath)

		if encrypted {
			if err := r.Decryptor.Decrypt(localPath); err != nil {
				// The ciphertext is left in place so the operator can
				// retry with a different identity.
				logger.ErrorCtx(ctx, "decryption failed",
					logger.KeyPath, downloadPath, logger.Err(err))
				continue
			}
			if err := os.Remove(downloadPath); err != nil {
				logger.WarnCtx(ctx, "encrypted artifact was not removed",
					logger.KeyPath, downloadPath, logger.Err(err))
			}
		}
		recovered++
	}

	logger.InfoCtx(ctx, "files were written to the local filesystem",
		"recovered", recovered, logger.KeyRows, len(rows))
	return recovered, nil
}

// targetPath picks a local name for a recovered file: the leaf of its
// production path, never clobbering anything already on disk.
func (r *Recovery) targetPath(productionPath string) string {
	name := leafName(productionPath)
	if name == "" {
		name = "unnamed_file"
	}
	dir := r.TargetDir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, name)
	for pathTaken(path) {
		path += "~"
	}
	return path
}

func leafName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func pathTaken(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
