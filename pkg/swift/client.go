package swift

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ncw/swift/v2"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/telemetry"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
)

const defaultBatchsize = 100

// Client downloads and lists media files from the production Swift
// cluster. The connection authenticates lazily on first use.
type Client struct {
	conn      *swift.Connection
	batchsize int
}

// NewClient builds a production Swift client. A batchsize of zero or
// less selects the default listing batch size.
func NewClient(cfg config.SwiftConfig, batchsize int) *Client {
	if batchsize <= 0 {
		batchsize = defaultBatchsize
	}
	return &Client{
		conn: &swift.Connection{
			UserName:       cfg.User,
			ApiKey:         cfg.Key,
			AuthUrl:        cfg.AuthURL,
			AuthVersion:    1,
			ConnectTimeout: cfg.ConnectTimeout,
			Timeout:        cfg.DownloadTimeout,
		},
		batchsize: batchsize,
	}
}

// Download fetches one object into localPath, removing the local copy
// again on failure.
func (c *Client) Download(ctx context.Context, container, path, localPath string) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSwiftDownload)
	telemetry.SetAttributes(ctx, telemetry.Container(container), telemetry.SwiftPath(path))
	defer span.End()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	_, err = c.conn.ObjectGet(ctx, container, path, out, false, nil)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(localPath)
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("downloading %s/%s: %w", container, path, err)
	}
	return nil
}

// DownloadFile fetches the production copy of f into localPath.
func (c *Client) DownloadFile(ctx context.Context, f *media.File, localPath string) error {
	return c.Download(ctx, f.StorageContainer, f.StoragePath, localPath)
}

// ListFiles walks every object the wiki stores with the given status
// and calls fn with batches of decoded files. Containers missing on the
// cluster are skipped, any other error ends the walk.
func (c *Client) ListFiles(ctx context.Context, wiki, status string, fn func([]*media.File) error) error {
	containers, err := Containers(wiki, status)
	if err != nil {
		return err
	}
	batch := make([]*media.File, 0, c.batchsize)
	for _, container := range containers {
		opts := swift.ObjectsOpts{Limit: c.batchsize}
		if status == media.StatusArchived {
			opts.Prefix = "archive"
		}
		for {
			objects, err := c.conn.Objects(ctx, container, &opts)
			if err != nil {
				if errors.Is(err, swift.ContainerNotFound) {
					break
				}
				return fmt.Errorf("listing %s: %w", container, err)
			}
			if len(objects) == 0 {
				break
			}
			for _, object := range objects {
				f, ok := fileFromObject(wiki, status, container, object)
				if !ok {
					continue
				}
				batch = append(batch, f)
				if len(batch) >= c.batchsize {
					if err := fn(batch); err != nil {
						return err
					}
					batch = make([]*media.File, 0, c.batchsize)
				}
			}
			if len(objects) < c.batchsize {
				break
			}
			opts.Marker = objects[len(objects)-1].Name
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// fileFromObject decodes one Swift listing entry into a file record.
// Objects whose paths do not follow the expected hierarchy for the
// status are reported as not decodable.
func fileFromObject(wiki, status, container string, object swift.Object) (*media.File, bool) {
	if status == media.StatusPublic && strings.HasPrefix(object.Name, "archive/") {
		return nil, false
	}
	// public files live under m/mm/<name>, archived ones under
	// archive/m/mm/<timestamp>!<name> and deleted ones under
	// s/h/a/<sha1 base36>.<extension>
	depth := 2
	if status != media.StatusPublic {
		depth = 3
	}
	parts := strings.SplitN(object.Name, "/", depth+1)
	if len(parts) <= depth {
		logger.Info("ignoring file", "path", object.Name, "container", container)
		return nil, false
	}
	swiftName := parts[depth]

	f := media.NewFile(wiki, "", status)
	f.FileType = object.ContentType
	f.MD5 = object.Hash
	f.StorageContainer = container
	f.StoragePath = object.Name
	size := object.Bytes
	f.Size = &size

	switch status {
	case media.StatusPublic:
		f.UploadName = swiftName
	case media.StatusArchived:
		_, name, found := strings.Cut(swiftName, "!")
		if !found {
			logger.Info("ignoring file", "path", swiftName, "container", container)
			return nil, false
		}
		f.UploadName = name
	case media.StatusDeleted:
		base36, _, _ := strings.Cut(swiftName, ".")
		sha1, err := media.Base36ToBase16(base36)
		if err != nil {
			logger.Info("ignoring file", "path", swiftName, "container", container)
			return nil, false
		}
		f.SHA1 = sha1
	}

	if !object.LastModified.IsZero() {
		modified := object.LastModified
		if status == media.StatusDeleted {
			f.DeletedTimestamp = &modified
		} else {
			f.UploadTimestamp = &modified
		}
	}
	return f, true
}
