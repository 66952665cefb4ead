package query

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/backupstore"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
)

// Deletion failure modes the caller turns into distinct exit codes.
var (
	// ErrStillPublic means a file slated for deletion is still being
	// served by production, so no deletion may proceed.
	ErrStillPublic = errors.New("file is still publicly available on production")

	// ErrProbeTimeout means production could not be checked in time.
	ErrProbeTimeout = errors.New("production availability check timed out")
)

// probeTimeout bounds each HEAD request against production.
const probeTimeout = 30 * time.Second

// DeletionStore is the backup storage surface deletions run against.
type DeletionStore interface {
	Exists(ctx context.Context, key string, endpoint ...string) (bool, error)
	LocationOf(endpointURL string) (int, error)
	Delete(ctx context.Context, locationID int, key string) error
}

// Deletion removes backed up files from the backup storage, after
// making sure production no longer serves them.
type Deletion struct {
	Store DeletionStore

	// UserAgent identifies the tool on requests against production.
	UserAgent string

	// DryRun goes through the whole flow without removing anything.
	DryRun bool

	// Client checks production availability. Nil means a default
	// client bounded by probeTimeout.
	Client *http.Client
}

// DeleteFiles removes every given backup from the backup storage and
// returns the rows actually deleted, so the metadata can be updated to
// match. Rows that fail are logged and skipped. Nothing is deleted if
// any file is still reachable on production.
func (d *Deletion) DeleteFiles(ctx context.Context, rows []*metadata.BackupRow) ([]*metadata.BackupRow, error) {
	logger.InfoCtx(ctx, "about to delete files", logger.KeyRows, len(rows))

	// Failsafe: deleting a backup of a file production still serves
	// would be unrecoverable the day the production copy goes away.
	if err := d.CheckDeletedFromProduction(ctx, rows); err != nil {
		return nil, err
	}

	deleted := make([]*metadata.BackupRow, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		logger.InfoCtx(ctx, "attempting to delete file from the backup storage",
			logger.KeyKey, row.BackupPath, logger.KeyLocation, row.BackupLocation)

		exists, err := d.Store.Exists(ctx, row.BackupPath)
		if err != nil {
			logger.ErrorCtx(ctx, "backup storage check failed",
				logger.KeyKey, row.BackupPath, logger.Err(err))
			continue
		}
		if !exists {
			// Rows sharing the same content share one object; once a
			// previous row of this batch removed it, the ones after it
			// only need their metadata updated.
			if !deletedInBatch(deleted, row) {
				logger.ErrorCtx(ctx, "file was not found on the backup storage",
					logger.KeyKey, row.BackupPath, logger.KeyLocation, row.BackupLocation)
				continue
			}
			logger.InfoCtx(ctx, "file was a duplicate of a previous file and already deleted",
				logger.KeyKey, row.BackupPath)
			deleted = append(deleted, row)
			continue
		}

		if d.DryRun {
			logger.WarnCtx(ctx, "not actually deleting the file because this is a dry run",
				logger.KeyKey, row.BackupPath, logger.KeyLocation, row.BackupLocation)
			deleted = append(deleted, row)
			continue
		}

		locationID, err := d.Store.LocationOf(row.BackupLocation)
		if err != nil {
			logger.ErrorCtx(ctx, "backup location is not configured",
				logger.KeyLocation, row.BackupLocation, logger.Err(err))
			continue
		}
		if err := d.Store.Delete(ctx, locationID, row.BackupPath); err != nil {
			if errors.Is(err, backupstore.ErrObjectNotFound) && deletedInBatch(deleted, row) {
				logger.InfoCtx(ctx, "file was a duplicate of a previous file and already deleted",
					logger.KeyKey, row.BackupPath)
				deleted = append(deleted, row)
				continue
			}
			logger.ErrorCtx(ctx, "file failed to be deleted from the backup storage",
				logger.KeyKey, row.BackupPath, logger.KeyLocation, row.BackupLocation,
				logger.Err(err))
			continue
		}
		logger.InfoCtx(ctx, "file deleted from the backup storage",
			logger.KeyKey, row.BackupPath, logger.KeyLocation, row.BackupLocation)
		deleted = append(deleted, row)
	}

	logger.InfoCtx(ctx, "files were deleted from the backup storage",
		"deleted", len(deleted), logger.KeyRows, len(rows))
	return deleted, nil
}

// CheckDeletedFromProduction queries production for every row with a
// public URL and fails if any of them is still served. Rows without a
// URL never were, or no longer are, publicly reachable.
func (d *Deletion) CheckDeletedFromProduction(ctx context.Context, rows []*metadata.BackupRow) error {
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	for _, row := range rows {
		if row.ProductionURL == "" {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, row.ProductionURL, nil)
		if err != nil {
			return fmt.Errorf("building production check for %q: %w", row.ProductionURL, err)
		}
		if d.UserAgent != "" {
			req.Header.Set("User-Agent", d.UserAgent)
		}
		resp, err := client.Do(req)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.ErrorCtx(ctx, "production availability check timed out",
					logger.KeyURL, row.ProductionURL)
				return fmt.Errorf("%w: %s", ErrProbeTimeout, row.ProductionURL)
			}
			return fmt.Errorf("querying %q from production: %w", row.ProductionURL, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			logger.ErrorCtx(ctx, "file is still reachable on production, aborting deletion",
				logger.KeyURL, row.ProductionURL, logger.KeyStatus, resp.StatusCode)
			return fmt.Errorf("%w: %s returned %d", ErrStillPublic, row.ProductionURL, resp.StatusCode)
		}
	}
	logger.InfoCtx(ctx, "all files were queried from production and none were found publicly available")
	return nil
}

func deletedInBatch(deleted []*metadata.BackupRow, row *metadata.BackupRow) bool {
	for _, prev := range deleted {
		if prev.Wiki == row.Wiki && prev.SHA256 == row.SHA256 {
			return true
		}
	}
	return false
}
