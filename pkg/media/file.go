// Package media holds the domain model of a backed-up media file plus the
// hashing, date and dblist helpers shared by discovery, backup and recovery.
package media

import (
	"fmt"
	"strings"
	"time"
)

// File statuses as stored in the file_status dictionary.
const (
	StatusPublic      = "public"
	StatusArchived    = "archived"
	StatusDeleted     = "deleted"
	StatusHardDeleted = "hard-deleted"
)

// Backup statuses as stored in the backup_status dictionary.
const (
	BackupPending    = "pending"
	BackupProcessing = "processing"
	BackupBackedup   = "backedup"
	BackupError      = "error"
	BackupDuplicate  = "duplicate"
)

// defaultFileType marks rows whose media type is unknown or missing.
const defaultFileType = "ERROR"

// File stores the metadata of an individual image, video, document or any
// other object uploaded to a wiki, as one revision of one title.
type File struct {
	Wiki       string
	UploadName string
	FileType   string
	Status     string

	// Size in bytes; nil when the source row carries no length
	Size *int64

	UploadTimestamp   *time.Time
	ArchivedTimestamp *time.Time
	DeletedTimestamp  *time.Time

	// SHA1 is 40 lowercase hex characters, empty when the source row has none
	SHA1 string
	// SHA256 is filled in during backup from the downloaded content
	SHA256 string
	MD5    string

	StorageContainer string
	StoragePath      string
}

// NewFile builds a File from the three required properties.
// The file type defaults to ERROR until a real media type is known.
func NewFile(wiki, uploadName, status string) *File {
	return &File{
		Wiki:       wiki,
		UploadName: uploadName,
		Status:     status,
		FileType:   defaultFileType,
	}
}

// NormalizeTitle turns a page title, as typed by an operator or as
// reported by the upload log, into the upload_name form stored in the
// metadata: trimmed, spaces as underscores and without the File:
// namespace prefix. The prefix is only stripped after spaces become
// underscores, so "File: X" keeps a leading underscore.
func NormalizeTitle(title string) string {
	return strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(title), " ", "_"), "File:")
}

// Property is one named value of the persistence projection.
type Property struct {
	Name  string
	Value any
}

// Properties returns the file properties in the expected persisting
// (database) order. The key set is stable; absent values are nil.
// SHA256 is deliberately not part of the projection: it lives only in
// the backups ledger.
func (f *File) Properties() []Property {
	return []Property{
		{Name: "wiki", Value: f.Wiki},
		{Name: "upload_name", Value: nullableString(f.UploadName)},
		{Name: "size", Value: nullableInt(f.Size)},
		{Name: "file_type", Value: f.FileType},
		{Name: "status", Value: f.Status},
		{Name: "upload_timestamp", Value: nullableTime(f.UploadTimestamp)},
		{Name: "archived_timestamp", Value: nullableTime(f.ArchivedTimestamp)},
		{Name: "deleted_timestamp", Value: nullableTime(f.DeletedTimestamp)},
		{Name: "md5", Value: nullableString(f.MD5)},
		{Name: "sha1", Value: nullableString(f.SHA1)},
		{Name: "storage_container", Value: nullableString(f.StorageContainer)},
		{Name: "storage_path", Value: nullableString(f.StoragePath)},
	}
}

// Equal reports structural equality over every field.
func (f *File) Equal(other *File) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.Wiki == other.Wiki &&
		f.UploadName == other.UploadName &&
		f.FileType == other.FileType &&
		f.Status == other.Status &&
		equalInt(f.Size, other.Size) &&
		equalTime(f.UploadTimestamp, other.UploadTimestamp) &&
		equalTime(f.ArchivedTimestamp, other.ArchivedTimestamp) &&
		equalTime(f.DeletedTimestamp, other.DeletedTimestamp) &&
		f.SHA1 == other.SHA1 &&
		f.SHA256 == other.SHA256 &&
		f.MD5 == other.MD5 &&
		f.StorageContainer == other.StorageContainer &&
		f.StoragePath == other.StoragePath
}

// HashKey returns the de-duplication key of the file. Two files with the
// same sha1 are interchangeable for backup purposes.
func (f *File) HashKey() string {
	return f.SHA1
}

// String renders the identifying properties for logging.
func (f *File) String() string {
	ts := ""
	if f.UploadTimestamp != nil {
		ts = f.UploadTimestamp.UTC().Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("%s %s %s %s", f.Wiki, f.UploadName, f.SHA1, ts)
}

// Row is the raw numeric projection of a files row, before foreign keys
// are resolved through the dictionaries. Byte slices are nil for NULL.
type Row struct {
	Wiki              int
	UploadName        []byte
	Size              *int64
	FileType          *int
	Status            int
	UploadTimestamp   *time.Time
	ArchivedTimestamp *time.Time
	DeletedTimestamp  *time.Time
	MD5               []byte
	SHA1              []byte
	SHA256            []byte
	StorageContainer  *int
	StoragePath       []byte
}

// Dictionaries resolves numeric foreign keys to their names.
type Dictionaries struct {
	Wikis      map[int]string
	FileTypes  map[int]string
	Status     map[int]string
	Containers map[int]string
}

// RowToFile converts a raw database row into a File, resolving foreign
// keys through the given dictionaries and decoding nullable columns.
func RowToFile(row Row, dicts Dictionaries) *File {
	f := &File{
		Wiki:              dicts.Wikis[row.Wiki],
		UploadName:        string(row.UploadName),
		Status:            dicts.Status[row.Status],
		Size:              row.Size,
		UploadTimestamp:   row.UploadTimestamp,
		ArchivedTimestamp: row.ArchivedTimestamp,
		DeletedTimestamp:  row.DeletedTimestamp,
		MD5:               string(row.MD5),
		SHA1:              string(row.SHA1),
		SHA256:            string(row.SHA256),
		StoragePath:       string(row.StoragePath),
	}
	if row.FileType != nil {
		f.FileType = dicts.FileTypes[*row.FileType]
	}
	if f.FileType == "" {
		f.FileType = defaultFileType
	}
	if row.StorageContainer != nil {
		f.StorageContainer = dicts.Containers[*row.StorageContainer]
	}
	return f
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
