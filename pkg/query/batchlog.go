package query

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/timeutil"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
)

// Batch deletion logs are the output of maintenance runs of
// eraseArchivedFile.php: a line naming the wiki being worked on,
// followed by one line per erased file version.
var (
	wikiPattern = regexp.MustCompile(
		`.*mwscript\s+eraseArchivedFile\.php\s+--wiki\s*=?\s*["']?([a-zA-Z0-9\-_]+)["']?\s.*--delete`)
	deletionPattern = regexp.MustCompile(
		`^Deleted\sversion\s'([a-z0-9]*)\..*'\s\(([0-9]{14})\)\sof\sfile\s'(.+)'`)
)

// BatchResolver is the metadata surface batch logs are resolved against.
type BatchResolver interface {
	IsValidWiki(ctx context.Context, wiki string) (bool, error)
	QueryBackupsByTitleUploadDateAndSHA1(ctx context.Context, wiki, title string, date time.Time, sha1 string) ([]*metadata.BackupRow, error)
}

// BatchResult is the outcome of resolving a batch deletion log: the
// backup rows to act on, plus the log entries that matched nothing or
// more than one backup, kept aside for operator review.
type BatchResult struct {
	Found    []*metadata.BackupRow
	Missing  []*media.File
	Multiple []*media.File
}

// ParseBatchLog reads an eraseArchivedFile log and resolves each
// deleted version against the backup metadata. Lines before a valid
// wiki is announced are skipped, as are entries with malformed hashes
// or dates.
func ParseBatchLog(ctx context.Context, store BatchResolver, r io.Reader) (*BatchResult, error) {
	result := &BatchResult{}
	wiki := ""

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if m := wikiPattern.FindStringSubmatch(line); m != nil {
			valid, err := store.IsValidWiki(ctx, m[1])
			if err != nil {
				return nil, fmt.Errorf("validating wiki %q: %w", m[1], err)
			}
			if valid {
				wiki = m[1]
				continue
			}
		}
		m := deletionPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if wiki == "" {
			continue
		}
		sha1, err := media.Base36ToBase16(m[1])
		if err != nil || sha1 == "" {
			logger.ErrorCtx(ctx, "bad sha1 found on file", logger.KeySHA1, m[1])
			continue
		}
		date, err := timeutil.ParseSearchDate(m[2])
		if err != nil {
			logger.ErrorCtx(ctx, "bad date found on file", "date", m[2])
			continue
		}
		title := m[3]

		found, err := store.QueryBackupsByTitleUploadDateAndSHA1(ctx, wiki, title, date, sha1)
		if err != nil {
			return nil, fmt.Errorf("resolving %q on %s: %w", title, wiki, err)
		}
		switch {
		case len(found) == 0:
			logger.WarnCtx(ctx, "no backups found for file",
				logger.Wiki(wiki), logger.KeyTitle, title,
				"date", timeutil.FormatTimestamp(date), logger.KeySHA1, sha1)
			result.Missing = append(result.Missing, deletedEntry(wiki, title, date, sha1))
		case len(found) == 1:
			result.Found = append(result.Found, found...)
		default:
			result.Found = append(result.Found, found...)
			logger.WarnCtx(ctx, "multiple backups found for file",
				logger.Wiki(wiki), logger.KeyTitle, title,
				"date", timeutil.FormatTimestamp(date), logger.KeySHA1, sha1)
			result.Multiple = append(result.Multiple, deletedEntry(wiki, title, date, sha1))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch log: %w", err)
	}
	return result, nil
}

func deletedEntry(wiki, title string, date time.Time, sha1 string) *media.File {
	f := media.NewFile(wiki, title, media.StatusDeleted)
	f.UploadTimestamp = &date
	f.SHA1 = sha1
	return f
}
