package query

import (
	"io"
	"strconv"
	"time"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/output"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/timeutil"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
)

// Results is a list of backup rows ready for operator display. It
// renders as per-file property blocks, as a compact table or as JSON,
// depending on the printer's format.
type Results []*metadata.BackupRow

// Details returns one property block per file. The file id is carried
// as a hidden field so deletion can recover it without showing it.
func (r Results) Details() [][]output.Field {
	blocks := make([][]output.Field, 0, len(r))
	for _, row := range r {
		blocks = append(blocks, []output.Field{
			{Name: "wiki", Value: row.Wiki},
			{Name: "title", Value: row.Title},
			{Name: "production_container", Value: row.ProductionContainer},
			{Name: "production_path", Value: row.ProductionPath},
			{Name: "sha1", Value: row.SHA1},
			{Name: "sha256", Value: row.SHA256},
			{Name: "size", Value: formatSize(row.Size)},
			{Name: "production_status", Value: row.ProductionStatus},
			{Name: "type", Value: row.FileType},
			{Name: "upload_date", Value: formatDate(row.UploadDate)},
			{Name: "archive_date", Value: formatDate(row.ArchiveDate)},
			{Name: "delete_date", Value: formatDate(row.DeleteDate)},
			{Name: "backup_status", Value: row.BackupStatus},
			{Name: "backup_date", Value: formatDate(row.BackupDate)},
			{Name: "backup_location", Value: row.BackupLocation},
			{Name: "backup_container", Value: row.BackupContainer},
			{Name: "backup_path", Value: row.BackupPath},
			{Name: "production_url", Value: row.ProductionURL},
			{Name: "_file_id", Value: strconv.FormatInt(row.FileID, 10)},
		})
	}
	return blocks
}

// Headers implements output.TableRenderer.
func (r Results) Headers() []string {
	return []string{"wiki", "title", "status", "upload date", "backup status", "sha1"}
}

// Rows implements output.TableRenderer.
func (r Results) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, row := range r {
		rows = append(rows, []string{
			row.Wiki,
			row.Title,
			row.ProductionStatus,
			formatDate(row.UploadDate),
			row.BackupStatus,
			row.SHA1,
		})
	}
	return rows
}

// PrintFiles writes the numbered property blocks operators review
// before confirming a recovery or a deletion.
func PrintFiles(w io.Writer, rows []*metadata.BackupRow) error {
	return output.PrintDetails(w, Results(rows).Details())
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timeutil.FormatTimestamp(*t)
}

func formatSize(size *int64) string {
	if size == nil {
		return ""
	}
	return strconv.FormatInt(*size, 10)
}
