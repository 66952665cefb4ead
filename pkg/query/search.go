// Package query finds backed up media files by operator-supplied
// criteria and acts on the results: printing them, recovering them to
// the local filesystem or hard-deleting them from the backup storage.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
)

// ErrInvalidMethod is returned when a search names a method that does
// not exist.
var ErrInvalidMethod = errors.New("invalid method to search a file")

// Identification methods.
const (
	MethodUploadTitle = "upload_title"
	MethodSHA1        = "sha1"
	MethodSHA1Base36  = "sha1_base36"
	MethodSwiftPath   = "swift_path"
	MethodSHA256      = "sha256"
	MethodUploadDate  = "upload_date"
	MethodArchiveDate = "archive_date"
	MethodDeleteDate  = "delete_date"
)

// Input kinds, one per prompt shape.
const (
	KindTitle         = "title"
	KindHex           = "hex_string"
	KindBase36        = "base36_string"
	KindSwiftLocation = "swift_location"
	KindDate          = "datetime"
)

// Method describes one way of identifying a media file.
type Method struct {
	ID          string
	Description string
	Kind        string
}

// Methods lists the identification methods in prompt order.
func Methods() []Method {
	return []Method{
		{MethodUploadTitle, "Title of the file on upload (or after rename)", KindTitle},
		{MethodSHA1, "sha1sum hash of the file contents, in hexadecimal", KindHex},
		{MethodSHA1Base36, "sha1sum hash of the file contents, in MediaWiki's base 36", KindBase36},
		{MethodSwiftPath, "Original container name and full path as was stored on Swift", KindSwiftLocation},
		{MethodSHA256, "sha256sum hash of the file contents, in hexadecimal", KindHex},
		{MethodUploadDate, "Exact date of the original file upload, as registered on the metadata", KindDate},
		{MethodArchiveDate, "Exact date of the latest file archival, as registered on the metadata", KindDate},
		{MethodDeleteDate, "Exact date of the latest file deletion, as registered on the metadata", KindDate},
	}
}

// MethodByID returns the method with the given identifier.
func MethodByID(id string) (Method, error) {
	for _, m := range Methods() {
		if m.ID == id {
			return m, nil
		}
	}
	return Method{}, fmt.Errorf("%w: %q", ErrInvalidMethod, id)
}

// Searcher is the metadata surface searches run against.
type Searcher interface {
	QueryBackupsByTitle(ctx context.Context, wiki, title string) ([]*metadata.BackupRow, error)
	QueryBackupsBySHA1(ctx context.Context, wiki, sha1 string) ([]*metadata.BackupRow, error)
	QueryBackupsBySHA256(ctx context.Context, wiki, sha256 string) ([]*metadata.BackupRow, error)
	QueryBackupsByPath(ctx context.Context, wiki, container, path string) ([]*metadata.BackupRow, error)
	QueryBackupsByUploadDate(ctx context.Context, wiki string, date time.Time) ([]*metadata.BackupRow, error)
	QueryBackupsByArchiveDate(ctx context.Context, wiki string, date time.Time) ([]*metadata.BackupRow, error)
	QueryBackupsByDeleteDate(ctx context.Context, wiki string, date time.Time) ([]*metadata.BackupRow, error)
}

// Criteria is one resolved search: the wiki, the method and the
// method's input as read from the operator or from flags.
type Criteria struct {
	Wiki      string
	Method    string
	Value     string    // title, hash or base36 input
	Container string    // swift_path: production container name
	Path      string    // swift_path: path inside the container
	Date      time.Time // date methods
}

// Search queries the metadata for backups matching the criteria,
// normalizing the input the way each method expects: titles lose their
// namespace prefix and get underscores, hex hashes are zero-filled to
// their full width and base-36 hashes are converted to hexadecimal.
func Search(ctx context.Context, store Searcher, c Criteria) ([]*metadata.BackupRow, error) {
	switch c.Method {
	case MethodUploadTitle:
		return store.QueryBackupsByTitle(ctx, c.Wiki, media.NormalizeTitle(c.Value))
	case MethodSHA1:
		return store.QueryBackupsBySHA1(ctx, c.Wiki, zfill(strings.TrimSpace(c.Value), 40))
	case MethodSHA1Base36:
		sha1, err := media.Base36ToBase16(c.Value)
		if err != nil {
			return nil, err
		}
		return store.QueryBackupsBySHA1(ctx, c.Wiki, sha1)
	case MethodSHA256:
		return store.QueryBackupsBySHA256(ctx, c.Wiki, zfill(strings.TrimSpace(c.Value), 64))
	case MethodSwiftPath:
		return store.QueryBackupsByPath(ctx, c.Wiki, strings.TrimSpace(c.Container), strings.TrimSpace(c.Path))
	case MethodUploadDate:
		return store.QueryBackupsByUploadDate(ctx, c.Wiki, c.Date)
	case MethodArchiveDate:
		return store.QueryBackupsByArchiveDate(ctx, c.Wiki, c.Date)
	case MethodDeleteDate:
		return store.QueryBackupsByDeleteDate(ctx, c.Wiki, c.Date)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, c.Method)
	}
}

// zfill left-pads s with zeros to the given width.
func zfill(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
