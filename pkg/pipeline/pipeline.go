// Package pipeline drains the pending backup queue: each claimed file
// is downloaded from production, hashed, checked against the backup
// store for duplicates, encrypted when its wiki is not public and
// uploaded, with the outcome written back to the metadata database one
// batch at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/telemetry"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/backupstore"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/encryption"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metrics/prometheus"
)

const tempDirMode = 0o750

// Temp directory creation failures, distinguished so callers can map
// each of them to a distinct exit code.
var (
	ErrTempPermission    = errors.New("temporary directory is not writable")
	ErrTempConflict      = errors.New("temporary directory already exists")
	ErrTempMissingParent = errors.New("temporary directory parent does not exist")
)

// Metadata is the metadata store surface the pipeline drives: claiming
// pending batches and writing back terminal statuses.
type Metadata interface {
	GetNonPublicWikis(ctx context.Context) ([]string, error)
	ProcessFiles(ctx context.Context) (map[int64]*media.File, error)
	UpdateStatus(ctx context.Context, updates []metadata.StatusUpdate) error
}

// Downloader fetches the production copy of a media file.
type Downloader interface {
	DownloadFile(ctx context.Context, f *media.File, localPath string) error
}

// ObjectStore is the backup storage surface the pipeline writes to.
type ObjectStore interface {
	Exists(ctx context.Context, key string, endpoint ...string) (bool, error)
	Put(ctx context.Context, localPath, key string) (int, error)
}

// Encryptor produces the .age artifact of non-public media.
type Encryptor interface {
	Encrypt(path string) error
}

// Pipeline backs up claimed pending files until the queue drains.
// A file's failure is an outcome written back to the database, not an
// error: only infrastructure problems (temp dir, metadata round trips)
// abort a run.
type Pipeline struct {
	Metadata  Metadata
	Swift     Downloader
	Store     ObjectStore
	Encryptor Encryptor

	// TmpRoot is the directory the per-process scratch dir is created
	// in. It has to exist already.
	TmpRoot string

	// Metrics may be nil; a nil receiver records nothing.
	Metrics *prometheus.Metrics
}

// CreateTempDir creates the per-process scratch directory <root>/<pid>.
// A leftover directory from a previous run with the same pid is a
// conflict, not something to reuse: it may hold another process' files.
func CreateTempDir(root string) (string, error) {
	dir := filepath.Join(root, strconv.Itoa(os.Getpid()))
	err := os.Mkdir(dir, tempDirMode)
	switch {
	case err == nil:
		return dir, nil
	case os.IsPermission(err):
		return "", fmt.Errorf("%w: %s", ErrTempPermission, dir)
	case os.IsExist(err):
		return "", fmt.Errorf("%w: %s", ErrTempConflict, dir)
	case os.IsNotExist(err):
		return "", fmt.Errorf("%w: %s", ErrTempMissingParent, dir)
	default:
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
}

// Run drains the pending queue until a claim round comes back empty or
// the context is cancelled between batches. It returns how many files
// reached a terminal backup status.
func (p *Pipeline) Run(ctx context.Context) (int, error) {
	ctx = logger.WithContext(ctx, logger.NewLogContext("backup", uuid.NewString()))

	tmpDir, err := CreateTempDir(p.TmpRoot)
	if err != nil {
		return 0, err
	}
	defer removeTempDir(ctx, tmpDir)

	nonPublic, err := p.Metadata.GetNonPublicWikis(ctx)
	if err != nil {
		return 0, err
	}
	encrypted := make(map[string]bool, len(nonPublic))
	for _, wiki := range nonPublic {
		encrypted[wiki] = true
	}

	logger.InfoCtx(ctx, "backup pipeline starting", logger.KeyPath, tmpDir)

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		batch, err := p.Metadata.ProcessFiles(ctx)
		if err != nil {
			return processed, err
		}
		if len(batch) == 0 {
			break
		}

		start := time.Now()
		bctx, span := telemetry.StartSpan(ctx, telemetry.SpanPipelineBatch)
		telemetry.SetAttributes(bctx, telemetry.Rows(len(batch)))

		ids := make([]int64, 0, len(batch))
		for id := range batch {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		updates := make([]metadata.StatusUpdate, 0, len(batch))
		for _, id := range ids {
			update := p.backupOne(bctx, id, batch[id], tmpDir, encrypted)
			p.Metrics.ObserveFile(update.File.Wiki, update.Status, uploadedBytes(update))
			updates = append(updates, update)
		}

		err = p.Metadata.UpdateStatus(bctx, updates)
		span.End()
		if err != nil {
			return processed, err
		}
		processed += len(updates)
		p.Metrics.ObserveBatch(time.Since(start).Seconds())
		logger.InfoCtx(ctx, "batch completed",
			logger.KeyRows, len(updates), logger.DurationMs(logger.Duration(start)))
	}

	logger.InfoCtx(ctx, "backup pipeline finished", logger.KeyRows, processed)
	return processed, nil
}

// backupOne runs one claimed file through download, hashing, dedup,
// encryption and upload, and returns its terminal status update.
func (p *Pipeline) backupOne(ctx context.Context, id int64, f *media.File, tmpDir string, encrypted map[string]bool) (update metadata.StatusUpdate) {
	ctx, span := telemetry.StartFileSpan(ctx, "file", f.Wiki, f.UploadName, telemetry.SHA1(f.SHA1))
	defer func() {
		telemetry.SetAttributes(ctx, telemetry.FileStatus(update.Status))
		span.End()
	}()

	update = metadata.StatusUpdate{ID: id, File: f, Status: media.BackupError}

	leaf := leafName(f.StoragePath)
	if leaf == "" {
		logger.ErrorCtx(ctx, "file has no storage path", logger.KeyFile, f.String())
		return update
	}
	localPath := filepath.Join(tmpDir, leaf)
	defer removeQuietly(localPath)

	if err := p.Swift.DownloadFile(ctx, f, localPath); err != nil {
		logger.ErrorCtx(ctx, "download failed", logger.KeyFile, f.String(), logger.Err(err))
		return update
	}

	if err := p.verifyChecksums(ctx, f, localPath); err != nil {
		logger.ErrorCtx(ctx, "hashing failed", logger.KeyFile, f.String(), logger.Err(err))
		return update
	}

	key := backupstore.BackupKey(f.Wiki, f.SHA256, encrypted[f.Wiki])

	exists, err := p.Store.Exists(ctx, key)
	if err != nil {
		logger.ErrorCtx(ctx, "backup storage check failed", logger.KeyKey, key, logger.Err(err))
		return update
	}
	if exists {
		logger.WarnCtx(ctx, "a file with the same sha256 was already uploaded, skipping",
			logger.KeyFile, f.String(), logger.KeyKey, key)
		update.Status = media.BackupDuplicate
		return update
	}

	uploadPath := localPath
	if encrypted[f.Wiki] {
		if err := p.Encryptor.Encrypt(localPath); err != nil {
			logger.ErrorCtx(ctx, "encryption failed", logger.KeyFile, f.String(), logger.Err(err))
			return update
		}
		uploadPath = localPath + encryption.Suffix
		defer removeQuietly(uploadPath)
	}

	location, err := p.Store.Put(ctx, uploadPath, key)
	if err != nil {
		logger.ErrorCtx(ctx, "upload failed", logger.KeyFile, f.String(), logger.KeyKey, key, logger.Err(err))
		return update
	}

	update.Status = media.BackupBackedup
	update.Location = location
	logger.InfoCtx(ctx, "backup completed",
		logger.KeyFile, f.String(), logger.KeyKey, key, logger.KeyLocation, location)
	return update
}

// verifyChecksums recomputes the digests of the downloaded copy. A
// sha1 disagreeing with the metadata is logged and replaced with the
// computed value; the sha256 is always computed here, production does
// not carry it.
func (p *Pipeline) verifyChecksums(ctx context.Context, f *media.File, localPath string) error {
	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	sha1, err := media.SHA1Sum(in)
	if err != nil {
		return err
	}
	if f.SHA1 != sha1 {
		logger.WarnCtx(ctx, "calculated and queried sha1 checksums are not the same",
			"calculated", sha1, "queried", f.SHA1, logger.KeyFile, f.UploadName)
		f.SHA1 = sha1
	}

	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return err
	}
	sha256, err := media.SHA256Sum(in)
	if err != nil {
		return err
	}
	f.SHA256 = sha256
	logger.DebugCtx(ctx, "checksums computed",
		logger.KeyFile, f.UploadName, logger.KeySHA256, sha256)
	return nil
}

// leafName returns the last path component of a production storage
// path, which is what the scratch copy is named after.
func leafName(storagePath string) string {
	if i := strings.LastIndexByte(storagePath, '/'); i >= 0 {
		return storagePath[i+1:]
	}
	return storagePath
}

// uploadedBytes returns how many bytes an update actually wrote to the
// backup storage. Duplicates and failures wrote nothing.
func uploadedBytes(update metadata.StatusUpdate) int64 {
	if update.Status != media.BackupBackedup || update.File.Size == nil {
		return 0
	}
	return *update.File.Size
}

// removeQuietly deletes a scratch file; one that was never created is
// not worth reporting.
func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not remove temporary file", logger.KeyPath, path, logger.Err(err))
	}
}

// removeTempDir removes the per-process scratch directory. Leftover
// content makes it fail, which is worth a warning but not an error.
func removeTempDir(ctx context.Context, dir string) {
	if err := os.Remove(dir); err != nil {
		logger.WarnCtx(ctx, "temporary directory was not removed", logger.KeyPath, dir, logger.Err(err))
	}
}
