package metadata

import (
	"context"
	"time"

	"gorm.io/gorm"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/backupstore"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/swift"
)

// backupsQuery joins the backups ledger back to the production metadata,
// so a single row carries everything needed to recover or delete a file.
const backupsQuery = `SELECT wiki_name, upload_name, storage_container_name, storage_path,
files.sha1, backups.sha256, size, status_name, type_name AS file_type,
upload_timestamp, archived_timestamp, deleted_timestamp,
backup_status_name, backup_time, endpoint_url,
COALESCE(files.id, -1) AS file_id
FROM backups
JOIN wikis ON backups.wiki = wikis.id
JOIN locations ON backups.location = locations.id
LEFT JOIN files ON backups.wiki = files.wiki AND backups.sha1 = files.sha1
LEFT JOIN storage_containers ON files.storage_container = storage_containers.id
LEFT JOIN file_status ON files.status = file_status.id
LEFT JOIN file_types ON files.file_type = file_types.id
LEFT JOIN backup_status ON files.backup_status = backup_status.id
WHERE `

// Only files with a finished backup are recoverable.
const backupsFilter = ` AND backup_status_name IN ('backedup', 'duplicate')`

const backupsOrder = ` ORDER BY upload_name, status, upload_timestamp, archived_timestamp, deleted_timestamp`

// BackupRow is one recoverable copy of a file: the production metadata it
// was backed up with plus where the copy lives on the backup storage.
type BackupRow struct {
	Wiki                string
	Title               string
	ProductionContainer string
	ProductionPath      string
	SHA1                string
	SHA256              string
	Size                *int64
	ProductionStatus    string
	FileType            string
	UploadDate          *time.Time
	ArchiveDate         *time.Time
	DeleteDate          *time.Time
	BackupStatus        string
	BackupDate          *time.Time
	BackupLocation      string
	BackupContainer     string
	BackupPath          string
	ProductionURL       string

	// FileID ties the row back to the files table for hard deletion.
	// It is -1 when the production row no longer exists and is not
	// meant to be shown on listings.
	FileID int64
}

// backupJoinRow is the raw scan target of backupsQuery.
type backupJoinRow struct {
	WikiName             string
	UploadName           []byte
	StorageContainerName *string
	StoragePath          []byte
	SHA1                 []byte `gorm:"column:sha1"`
	SHA256               []byte `gorm:"column:sha256"`
	Size                 *int64
	StatusName           *string
	FileType             *string
	UploadTimestamp      *time.Time
	ArchivedTimestamp    *time.Time
	DeletedTimestamp     *time.Time
	BackupStatusName     *string
	BackupTime           *time.Time
	EndpointURL          string
	FileID               int64
}

// QueryBackupsByTitle returns the backups of every revision of a title on
// a wiki, as stored at upload time (no namespace, spaces as underscores).
func (s *Store) QueryBackupsByTitle(ctx context.Context, wiki, title string) ([]*BackupRow, error) {
	return s.queryBackups(ctx, "wiki_name = ? AND upload_name = ?", wiki, binaryValue(title))
}

// QueryBackupsBySHA1 returns the backups of every file on a wiki with the
// given sha1 hash.
func (s *Store) QueryBackupsBySHA1(ctx context.Context, wiki, sha1 string) ([]*BackupRow, error) {
	return s.queryBackups(ctx, "wiki_name = ? AND files.sha1 = ?", wiki, binaryValue(sha1))
}

// QueryBackupsBySHA256 returns the backups of every file on a wiki with
// the given sha256 hash, as computed during backup.
func (s *Store) QueryBackupsBySHA256(ctx context.Context, wiki, sha256 string) ([]*BackupRow, error) {
	return s.queryBackups(ctx, "wiki_name = ? AND backups.sha256 = ?", wiki, binaryValue(sha256))
}

// QueryBackupsByPath returns the backups of the file stored at the given
// production container and path.
func (s *Store) QueryBackupsByPath(ctx context.Context, wiki, container, path string) ([]*BackupRow, error) {
	return s.queryBackups(ctx,
		"wiki_name = ? AND storage_container_name = ? AND storage_path = ?",
		wiki, container, binaryValue(path))
}

// QueryBackupsByUploadDate returns the backups of every file on a wiki
// uploaded at the exact given time.
func (s *Store) QueryBackupsByUploadDate(ctx context.Context, wiki string, date time.Time) ([]*BackupRow, error) {
	return s.queryBackups(ctx, "wiki_name = ? AND upload_timestamp = ?", wiki, date)
}

// QueryBackupsByArchiveDate returns the backups of every file on a wiki
// archived at the exact given time.
func (s *Store) QueryBackupsByArchiveDate(ctx context.Context, wiki string, date time.Time) ([]*BackupRow, error) {
	return s.queryBackups(ctx, "wiki_name = ? AND archived_timestamp = ?", wiki, date)
}

// QueryBackupsByDeleteDate returns the backups of every file on a wiki
// deleted at the exact given time.
func (s *Store) QueryBackupsByDeleteDate(ctx context.Context, wiki string, date time.Time) ([]*BackupRow, error) {
	return s.queryBackups(ctx, "wiki_name = ? AND deleted_timestamp = ?", wiki, date)
}

// QueryBackupsByTitleUploadDateAndSHA1 pins down a single file revision,
// the way deletion batch logs identify them.
func (s *Store) QueryBackupsByTitleUploadDateAndSHA1(ctx context.Context, wiki, title string, date time.Time, sha1 string) ([]*BackupRow, error) {
	return s.queryBackups(ctx,
		"wiki_name = ? AND upload_name = ? AND upload_timestamp = ? AND files.sha1 = ?",
		wiki, binaryValue(title), date, binaryValue(sha1))
}

func (s *Store) queryBackups(ctx context.Context, where string, args ...any) ([]*BackupRow, error) {
	nonPublic, err := s.GetNonPublicWikis(ctx)
	if err != nil {
		return nil, err
	}
	encrypted := make(map[string]bool, len(nonPublic))
	for _, wiki := range nonPublic {
		encrypted[wiki] = true
	}

	var rows []backupJoinRow
	query := backupsQuery + where + backupsFilter + backupsOrder
	if _, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Raw(query, args...).Scan(&rows)
	}); err != nil {
		return nil, err
	}

	results := make([]*BackupRow, 0, len(rows))
	for _, row := range rows {
		sha256 := string(row.SHA256)
		results = append(results, &BackupRow{
			Wiki:                row.WikiName,
			Title:               string(row.UploadName),
			ProductionContainer: orEmpty(row.StorageContainerName),
			ProductionPath:      string(row.StoragePath),
			SHA1:                string(row.SHA1),
			SHA256:              sha256,
			Size:                row.Size,
			ProductionStatus:    orEmpty(row.StatusName),
			FileType:            orEmpty(row.FileType),
			UploadDate:          row.UploadTimestamp,
			ArchiveDate:         row.ArchivedTimestamp,
			DeleteDate:          row.DeletedTimestamp,
			BackupStatus:        orEmpty(row.BackupStatusName),
			BackupDate:          row.BackupTime,
			BackupLocation:      row.EndpointURL,
			BackupContainer:     backupstore.DefaultBucket,
			BackupPath:          backupstore.BackupKey(row.WikiName, sha256, encrypted[row.WikiName]),
			ProductionURL: swift.SwiftToURL(orEmpty(row.StatusName),
				orEmpty(row.StorageContainerName), string(row.StoragePath)),
			FileID: row.FileID,
		})
	}
	return results, nil
}

// MarkAsDeleted erases the given backups from the ledger and flips the
// matching files rows to hard-deleted, after the objects themselves were
// removed from the backup storage. With dryRun it only verifies every
// statement would affect exactly one row. Returns how many statements
// missed that expectation.
func (s *Store) MarkAsDeleted(ctx context.Context, rows []*BackupRow, dryRun bool) (int, error) {
	fks, err := s.LoadFKs(ctx)
	if err != nil {
		return 0, err
	}
	hardDeletedID, err := requireID(fks.FileStatus, "file status", media.StatusHardDeleted)
	if err != nil {
		return 0, err
	}

	errorCount := 0
	for _, row := range rows {
		wikiID, err := requireID(fks.Wikis, "wiki", row.Wiki)
		if err != nil {
			return errorCount, err
		}

		if dryRun {
			var ledger []struct{ ID int64 }
			if _, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
				return db.Raw("SELECT id FROM backups WHERE wiki = ? AND sha256 = ?",
					wikiID, binaryValue(row.SHA256)).Scan(&ledger)
			}); err != nil {
				return errorCount, err
			}
			if len(ledger) != 1 {
				logger.Warn("deletion would match an unexpected number of ledger rows",
					logger.Wiki(row.Wiki), "sha256", row.SHA256, "matches", len(ledger))
				errorCount++
			}
			var production []struct{ ID int64 }
			if _, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
				return db.Raw("SELECT id FROM files WHERE id = ?", row.FileID).Scan(&production)
			}); err != nil {
				return errorCount, err
			}
			if len(production) != 1 {
				logger.Warn("file row to mark as hard-deleted was not found",
					logger.Wiki(row.Wiki), "id", row.FileID)
				errorCount++
			}
			continue
		}

		affected, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
			return db.Exec("DELETE FROM backups WHERE wiki = ? AND sha256 = ?",
				wikiID, binaryValue(row.SHA256))
		})
		if err != nil {
			return errorCount, err
		}
		if affected != 1 {
			logger.Error("backup ledger row could not be deleted",
				logger.Wiki(row.Wiki), "sha256", row.SHA256, "affected", affected)
			errorCount++
		}

		affected, err = s.run(ctx, func(db *gorm.DB) *gorm.DB {
			return db.Exec("UPDATE files SET status = ? WHERE id = ?", hardDeletedID, row.FileID)
		})
		if err != nil {
			return errorCount, err
		}
		if affected != 1 {
			logger.Error("file row could not be marked as hard-deleted",
				logger.Wiki(row.Wiki), "id", row.FileID, "affected", affected)
			errorCount++
		}
	}
	return errorCount, nil
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
