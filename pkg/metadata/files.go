package metadata

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/telemetry"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
)

// historyInsertQuery archives the current state of a files row before it
// is rewritten, so every previous version stays queryable.
const historyInsertQuery = `INSERT INTO file_history (file_id, wiki, upload_name, storage_container,
storage_path, file_type, status, sha1, md5, sha256, size, upload_timestamp,
archived_timestamp, deleted_timestamp, backup_status)
SELECT id, wiki, upload_name, storage_container, storage_path, file_type,
status, sha1, md5, sha256, size, upload_timestamp, archived_timestamp,
deleted_timestamp, backup_status FROM files WHERE id = ?`

// StatusUpdate carries the outcome of one file backup attempt: the files
// row to flip, the file as it was processed, the new backup status name
// and, for backed up files, the location the copy was written to.
type StatusUpdate struct {
	ID       int64
	File     *media.File
	Status   string
	Location int
}

// Add inserts new files into the metadata database in a single multi-row
// statement and returns the number of rows written. The backup status of
// new rows is left to the schema default (pending).
func (s *Store) Add(ctx context.Context, files []*media.File) (int, error) {
	fks, err := s.LoadFKs(ctx)
	if err != nil {
		return 0, err
	}
	return s.addFiles(ctx, files, fks)
}

func (s *Store) addFiles(ctx context.Context, files []*media.File, fks *Dictionaries) (int, error) {
	if len(files) == 0 {
		logger.Warn("zero files were requested to be added to the metadata database")
		return 0, nil
	}

	props := files[0].Properties()
	columns := make([]string, len(props))
	for i, p := range props {
		columns[i] = p.Name
	}
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(props)), ", ") + ")"

	rows := make([]string, 0, len(files))
	args := make([]any, 0, len(files)*len(props))
	for _, file := range files {
		wikiID, err := requireID(fks.Wikis, "wiki", file.Wiki)
		if err != nil {
			return 0, err
		}
		typeID, err := requireID(fks.FileTypes, "file type", file.FileType)
		if err != nil {
			return 0, err
		}
		statusID, err := requireID(fks.FileStatus, "file status", file.Status)
		if err != nil {
			return 0, err
		}
		for _, p := range file.Properties() {
			switch p.Name {
			case "wiki":
				args = append(args, wikiID)
			case "file_type":
				args = append(args, typeID)
			case "status":
				args = append(args, statusID)
			case "storage_container":
				args = append(args, lookupID(fks.StorageContainers, file.StorageContainer))
			case "upload_name", "md5", "sha1", "storage_path":
				args = append(args, binaryValue(p.Value))
			default:
				args = append(args, p.Value)
			}
		}
		rows = append(rows, row)
	}

	query := "INSERT INTO files (" + strings.Join(columns, ", ") + ") VALUES " + strings.Join(rows, ", ")
	affected, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Exec(query, args...)
	})
	if err != nil {
		return 0, err
	}
	if affected != int64(len(files)) {
		return int(affected), fmt.Errorf("%w: added %d files out of %d", ErrSchema, affected, len(files))
	}
	return len(files), nil
}

// Update rewrites the metadata of existing files, keyed by files row id.
// The previous state of every row is archived to file_history first, and
// a file whose storage location changed while its backup had failed is
// re-armed for another backup attempt. The wiki of a row is its identity
// and is never rewritten. Returns the number of rows actually changed.
func (s *Store) Update(ctx context.Context, files map[int64]*media.File) (int, error) {
	fks, err := s.LoadFKs(ctx)
	if err != nil {
		return 0, err
	}
	return s.updateFiles(ctx, files, fks)
}

func (s *Store) updateFiles(ctx context.Context, files map[int64]*media.File, fks *Dictionaries) (int, error) {
	errorID, err := requireID(fks.BackupStatus, "backup status", media.BackupError)
	if err != nil {
		return 0, err
	}
	pendingID, err := requireID(fks.BackupStatus, "backup status", media.BackupPending)
	if err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	count := 0
	for _, id := range ids {
		file := files[id]
		changed := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			changed, txErr = updateOne(tx, id, file, fks, errorID, pendingID)
			return txErr
		})
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

// updateOne archives and rewrites a single files row inside tx. It
// reports whether both the archival and the rewrite took effect.
func updateOne(tx *gorm.DB, id int64, file *media.File, fks *Dictionaries, errorID, pendingID int) (bool, error) {
	var previous []FileRow
	if err := tx.Where("id = ?", id).Find(&previous).Error; err != nil {
		return false, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	if len(previous) != 1 {
		logger.Warn("file to be updated was not found on the database, skipping",
			"id", id, logger.Wiki(file.Wiki), "upload_name", file.UploadName)
		return false, nil
	}

	archive := tx.Exec(historyInsertQuery, id)
	if archive.Error != nil {
		return false, fmt.Errorf("%w: %v", ErrQuery, archive.Error)
	}
	if archive.RowsAffected != 1 {
		logger.Warn("previous state of the file could not be archived to the history table",
			"id", id, logger.Wiki(file.Wiki))
	}

	containerID := lookupID(fks.StorageContainers, file.StorageContainer)
	assignments := make([]string, 0, 12)
	args := make([]any, 0, 13)
	for _, p := range file.Properties() {
		switch p.Name {
		case "wiki":
			continue
		case "file_type":
			assignments = append(assignments, "file_type = ?")
			args = append(args, lookupID(fks.FileTypes, file.FileType))
		case "status":
			assignments = append(assignments, "status = ?")
			args = append(args, lookupID(fks.FileStatus, file.Status))
		case "storage_container":
			assignments = append(assignments, "storage_container = ?")
			args = append(args, containerID)
		case "upload_name", "md5", "sha1", "storage_path":
			assignments = append(assignments, p.Name+" = ?")
			args = append(args, binaryValue(p.Value))
		default:
			assignments = append(assignments, p.Name+" = ?")
			args = append(args, p.Value)
		}
	}

	// a file that failed its backup and then moved gets another chance
	prior := previous[0]
	moved := !intsEqual(prior.StorageContainer, containerID) ||
		string(prior.StoragePath) != file.StoragePath
	if moved && prior.BackupStatus == errorID {
		assignments = append(assignments, "backup_status = ?")
		args = append(args, pendingID)
	}

	args = append(args, id)
	update := tx.Exec("UPDATE files SET "+strings.Join(assignments, ", ")+" WHERE id = ?", args...)
	if update.Error != nil {
		return false, fmt.Errorf("%w: %v", ErrQuery, update.Error)
	}
	return archive.RowsAffected == 1 && update.RowsAffected == 1, nil
}

// CheckAndUpdate reconciles a batch of freshly-read files from a single
// wiki against the stored metadata: rows that moved or changed status get
// updated, unknown files get added, identical ones are left alone. A file
// matches a stored row when sha1, size and upload time all agree. Returns
// the number of rows added plus updated.
func (s *Store) CheckAndUpdate(ctx context.Context, wiki string, files []*media.File) (int, error) {
	fks, err := s.LoadFKs(ctx)
	if err != nil {
		return 0, err
	}
	wikiID, err := requireID(fks.Wikis, "wiki", wiki)
	if err != nil {
		return 0, err
	}

	hashes := make([][]byte, 0, len(files))
	for _, file := range files {
		if file.SHA1 == "" {
			logger.Warn("file has no sha1 hash and cannot be checked, skipping",
				logger.Wiki(wiki), "upload_name", file.UploadName)
			continue
		}
		hashes = append(hashes, []byte(file.SHA1))
	}

	bySHA1 := make(map[string][]FileRow, len(hashes))
	if len(hashes) > 0 {
		var rows []FileRow
		if _, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
			return db.Where("wiki = ? AND sha1 IN ?", wikiID, hashes).Find(&rows)
		}); err != nil {
			return 0, err
		}
		for _, row := range rows {
			bySHA1[string(row.SHA1)] = append(bySHA1[string(row.SHA1)], row)
		}
	}

	var toAdd []*media.File
	toUpdate := make(map[int64]*media.File)
	for _, file := range files {
		if file.SHA1 == "" {
			continue
		}
		var candidates []FileRow
		for _, row := range bySHA1[file.SHA1] {
			if sizesEqual(row.Size, file.Size) && timesEqual(row.UploadTimestamp, file.UploadTimestamp) {
				candidates = append(candidates, row)
			}
		}
		switch {
		case len(candidates) == 0:
			logger.Warn("file was not found on the metadata database, adding it",
				logger.Wiki(wiki), "file", file.String())
			toAdd = append(toAdd, file)
		case len(candidates) > 1:
			logger.Error("more than one stored file matched, skipping",
				logger.Wiki(wiki), "file", file.String())
		case rowMatchesFile(candidates[0], file, fks):
			// already up to date
		default:
			toUpdate[candidates[0].ID] = file
		}
	}

	count := 0
	if len(toUpdate) > 0 {
		updated, err := s.updateFiles(ctx, toUpdate, fks)
		count += updated
		if err != nil {
			return count, err
		}
	}
	if len(toAdd) > 0 {
		added, err := s.addFiles(ctx, toAdd, fks)
		count += added
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

// rowMatchesFile reports whether a stored row already carries the same
// metadata as the freshly-read file. sha1, size and upload time matched
// before this is called; the remaining fields decide.
func rowMatchesFile(row FileRow, file *media.File, fks *Dictionaries) bool {
	statusID := lookupID(fks.FileStatus, file.Status)
	if statusID == nil || row.Status != *statusID {
		return false
	}
	return string(row.UploadName) == file.UploadName &&
		intsEqual(row.FileType, lookupID(fks.FileTypes, file.FileType)) &&
		timesEqual(row.ArchivedTimestamp, file.ArchivedTimestamp) &&
		timesEqual(row.DeletedTimestamp, file.DeletedTimestamp) &&
		intsEqual(row.StorageContainer, lookupID(fks.StorageContainers, file.StorageContainer)) &&
		string(row.StoragePath) == file.StoragePath
}

// ProcessFiles claims the next batch of pending files for backup: inside
// a single transaction the oldest pending rows are read and flipped to
// processing, so concurrent workers never claim the same file twice. An
// empty result means the queue is drained.
func (s *Store) ProcessFiles(ctx context.Context) (map[int64]*media.File, error) {
	ctx, span := telemetry.StartMetadataSpan(ctx, "claim")
	defer span.End()

	fks, err := s.LoadFKs(ctx)
	if err != nil {
		return nil, err
	}
	pendingID, err := requireID(fks.BackupStatus, "backup status", media.BackupPending)
	if err != nil {
		return nil, err
	}
	processingID, err := requireID(fks.BackupStatus, "backup status", media.BackupProcessing)
	if err != nil {
		return nil, err
	}

	claimed := make(map[int64]*media.File)
	dicts := fks.FileDictionaries()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("backup_status = ?", pendingID).Order("id ASC").Limit(s.batchsize)
		if s.cfg.DBType != "sqlite" {
			// sqlite does not support FOR UPDATE
			query = query.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
		}
		var rows []FileRow
		if err := query.Find(&rows).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrQuery, err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(rows))
		for _, row := range rows {
			claimed[row.ID] = media.RowToFile(row.toMediaRow(), dicts)
			ids = append(ids, row.ID)
		}
		res := tx.Model(&FileRow{}).Where("id IN ?", ids).Update("backup_status", processingID)
		if res.Error != nil {
			return fmt.Errorf("%w: %v", ErrQuery, res.Error)
		}
		if res.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("%w: marked %d files as processing out of %d", ErrSchema, res.RowsAffected, len(ids))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.SetAttributes(ctx, telemetry.Rows(len(claimed)))
	return claimed, nil
}

// UpdateStatus records the outcome of a batch of backup attempts. Files
// that were backed up also get a row on the backups ledger; a duplicate
// ledger row is tolerated, any other ledger failure is reported at the
// end without aborting the rest of the batch.
func (s *Store) UpdateStatus(ctx context.Context, updates []StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ctx, span := telemetry.StartMetadataSpan(ctx, "update", telemetry.Rows(len(updates)))
	defer span.End()

	fks, err := s.LoadFKs(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, update := range updates {
		statusID, err := requireID(fks.BackupStatus, "backup status", update.Status)
		if err != nil {
			return err
		}
		affected, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
			return db.Exec("UPDATE files SET backup_status = ? WHERE id = ?", statusID, update.ID)
		})
		if err != nil {
			return err
		}
		if affected != 1 {
			return fmt.Errorf("%w: backup status update of file %d affected %d rows", ErrSchema, update.ID, affected)
		}
		if update.Status != media.BackupBackedup {
			continue
		}

		wikiID, err := requireID(fks.Wikis, "wiki", update.File.Wiki)
		if err != nil {
			return err
		}
		_, err = s.run(ctx, func(db *gorm.DB) *gorm.DB {
			return db.Exec(
				"INSERT INTO backups (location, wiki, sha256, sha1, backup_time) VALUES (?, ?, ?, ?, ?)",
				update.Location, wikiID, binaryValue(update.File.SHA256),
				binaryValue(update.File.SHA1), time.Now().UTC(),
			)
		})
		if err != nil {
			if isUniqueConstraintError(err) {
				logger.Warn("file was already on the backups table",
					logger.Wiki(update.File.Wiki), "sha256", update.File.SHA256)
				continue
			}
			logger.Error("backup record could not be written",
				logger.Err(err), logger.Wiki(update.File.Wiki), "sha256", update.File.SHA256)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d backup records could not be written", ErrQuery, failed)
	}
	return nil
}

// GetLatestUploadTime returns the upload time of the most recent public
// file known for a wiki, or nil when none is stored yet. The updater uses
// it as the watermark to poll new uploads from.
func (s *Store) GetLatestUploadTime(ctx context.Context, wiki string) (*time.Time, error) {
	fks, err := s.LoadFKs(ctx)
	if err != nil {
		return nil, err
	}
	wikiID, err := requireID(fks.Wikis, "wiki", wiki)
	if err != nil {
		return nil, err
	}
	publicID, err := requireID(fks.FileStatus, "file status", media.StatusPublic)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		UploadTimestamp *time.Time
	}
	if _, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Raw(
			"SELECT upload_timestamp FROM files WHERE wiki = ? AND status = ? "+
				"ORDER BY upload_timestamp DESC LIMIT 1",
			wikiID, publicID,
		).Scan(&rows)
	}); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].UploadTimestamp, nil
}

func (r FileRow) toMediaRow() media.Row {
	return media.Row{
		Wiki:              r.Wiki,
		UploadName:        r.UploadName,
		Size:              r.Size,
		FileType:          r.FileType,
		Status:            r.Status,
		UploadTimestamp:   r.UploadTimestamp,
		ArchivedTimestamp: r.ArchivedTimestamp,
		DeletedTimestamp:  r.DeletedTimestamp,
		MD5:               r.MD5,
		SHA1:              r.SHA1,
		SHA256:            r.SHA256,
		StorageContainer:  r.StorageContainer,
		StoragePath:       r.StoragePath,
	}
}

// binaryValue rebinds a string as the byte string the varbinary columns
// store and compare. Empty strings stay NULL.
func binaryValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if s == "" {
		return nil
	}
	return []byte(s)
}

// lookupID resolves a dictionary name leniently: the empty name and
// unknown names map to nil, which persists as NULL.
func lookupID(m map[string]int, name string) *int {
	if name == "" {
		return nil
	}
	id, ok := m[name]
	if !ok {
		return nil
	}
	return &id
}

// requireID resolves a dictionary name that has to exist.
func requireID(m map[string]int, kind, name string) (int, error) {
	id, ok := m[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown %s %q", ErrDictionary, kind, name)
	}
	return id, nil
}

func intsEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sizesEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
