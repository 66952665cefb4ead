package metadata

import "time"

// WikiType classifies a wiki as public, private, closed or deleted.
// Non-public wikis get their backups encrypted at rest.
type WikiType struct {
	ID       int    `gorm:"primaryKey"`
	TypeName string `gorm:"uniqueIndex;not null;size:20"`
}

// TableName returns the table name for WikiType.
func (WikiType) TableName() string {
	return "wiki_types"
}

// Wiki is one row of the wikis dictionary.
type Wiki struct {
	ID       int    `gorm:"primaryKey"`
	WikiName string `gorm:"uniqueIndex;not null;size:255"`
	Type     int    `gorm:"not null;default:1"`
}

// TableName returns the table name for Wiki.
func (Wiki) TableName() string {
	return "wikis"
}

// FileType is one row of the file_types dictionary (bitmap, drawing, ...).
type FileType struct {
	ID       int    `gorm:"primaryKey"`
	TypeName string `gorm:"uniqueIndex;not null;size:50"`
}

// TableName returns the table name for FileType.
func (FileType) TableName() string {
	return "file_types"
}

// FileStatus is one row of the file_status dictionary
// (public, archived, deleted, hard-deleted).
type FileStatus struct {
	ID         int    `gorm:"primaryKey"`
	StatusName string `gorm:"uniqueIndex;not null;size:20;column:status_name"`
}

// TableName returns the table name for FileStatus.
func (FileStatus) TableName() string {
	return "file_status"
}

// BackupStatus is one row of the backup_status dictionary
// (pending, processing, backedup, error, duplicate).
type BackupStatus struct {
	ID         int    `gorm:"primaryKey"`
	StatusName string `gorm:"uniqueIndex;not null;size:20;column:backup_status_name"`
}

// TableName returns the table name for BackupStatus.
func (BackupStatus) TableName() string {
	return "backup_status"
}

// StorageContainer is one row of the storage_containers dictionary,
// holding production Swift container names.
type StorageContainer struct {
	ID                   int    `gorm:"primaryKey"`
	StorageContainerName string `gorm:"uniqueIndex;not null;size:255"`
}

// TableName returns the table name for StorageContainer.
func (StorageContainer) TableName() string {
	return "storage_containers"
}

// Location is one backup endpoint files can be stored at.
type Location struct {
	ID          int    `gorm:"primaryKey"`
	EndpointURL string `gorm:"not null;size:255"`
}

// TableName returns the table name for Location.
func (Location) TableName() string {
	return "locations"
}

// FileRow is one row of the files table: a single revision of a single
// media file known to exist (or to have existed) on production. String
// domains are normalized through the dictionary tables; nullable columns
// are pointers.
type FileRow struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	Wiki              int    `gorm:"not null;index:by_hash,priority:2;index:by_name,priority:1"`
	UploadName        []byte `gorm:"type:varbinary(255);index:by_name,priority:2"`
	StorageContainer  *int
	StoragePath       []byte `gorm:"type:varbinary(270)"`
	FileType          *int
	Status            int    `gorm:"not null"`
	SHA1              []byte `gorm:"type:varbinary(40);column:sha1;index:by_hash,priority:1"`
	MD5               []byte `gorm:"type:varbinary(32);column:md5"`
	SHA256            []byte `gorm:"type:varbinary(64);column:sha256"`
	Size              *int64
	UploadTimestamp   *time.Time
	ArchivedTimestamp *time.Time
	DeletedTimestamp  *time.Time
	BackupStatus      int `gorm:"not null;default:1;index"`
}

// TableName returns the table name for FileRow.
func (FileRow) TableName() string {
	return "files"
}

// Backup is one row of the backups ledger: a successful physical copy of
// a file's content to a backup location. (wiki, sha256) is unique, so a
// second upload of identical content to the same wiki collides here and
// is recorded as a duplicate instead.
type Backup struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Location   int       `gorm:"not null"`
	Wiki       int       `gorm:"not null;uniqueIndex:wiki_sha256,priority:1"`
	SHA1       []byte    `gorm:"type:varbinary(40);column:sha1"`
	SHA256     []byte    `gorm:"type:varbinary(64);column:sha256;uniqueIndex:wiki_sha256,priority:2"`
	BackupTime time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for Backup.
func (Backup) TableName() string {
	return "backups"
}

// FileHistory is an append-only copy of a previous files row, written
// just before the live row is updated in place.
type FileHistory struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	FileID            int64  `gorm:"not null;index"`
	Wiki              int    `gorm:"not null"`
	UploadName        []byte `gorm:"type:varbinary(255)"`
	StorageContainer  *int
	StoragePath       []byte `gorm:"type:varbinary(270)"`
	FileType          *int
	Status            int    `gorm:"not null"`
	SHA1              []byte `gorm:"type:varbinary(40);column:sha1"`
	MD5               []byte `gorm:"type:varbinary(32);column:md5"`
	SHA256            []byte `gorm:"type:varbinary(64);column:sha256"`
	Size              *int64
	UploadTimestamp   *time.Time
	ArchivedTimestamp *time.Time
	DeletedTimestamp  *time.Time
	BackupStatus      int `gorm:"not null;default:1"`
}

// TableName returns the table name for FileHistory.
func (FileHistory) TableName() string {
	return "file_history"
}

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&WikiType{},
		&Wiki{},
		&FileType{},
		&FileStatus{},
		&BackupStatus{},
		&StorageContainer{},
		&Location{},
		&FileRow{},
		&Backup{},
		&FileHistory{},
	}
}
