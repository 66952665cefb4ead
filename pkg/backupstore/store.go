// Package backupstore provides the sharded S3-compatible store backups
// are written to. Objects are spread over an ordered list of endpoints
// by the first hex digit of the key's last path component.
package backupstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/telemetry"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/encryption"
)

// DefaultBucket is the bucket backups are written to unless configured
// otherwise.
const DefaultBucket = "mediabackups"

// ErrObjectNotFound is returned when a key does not exist on its endpoint.
var ErrObjectNotFound = errors.New("object not found")

// ErrUnknownEndpoint is returned when an endpoint URL or location id does
// not match any configured endpoint.
var ErrUnknownEndpoint = errors.New("unknown storage endpoint")

// BackupKey returns the object key a file's content is stored under:
// the wiki, the first three characters of the sha256 and the full
// sha256, with the encryption suffix appended for non-public wikis.
func BackupKey(wiki, sha256 string, encrypted bool) string {
	prefix := sha256
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	key := wiki + "/" + prefix + "/" + sha256
	if encrypted {
		key += encryption.Suffix
	}
	return key
}

// Store is a thin client over a set of S3-compatible endpoints holding
// one bucket each. The endpoint order defines the shard layout, so it
// must match the locations table of the metadata database.
//
// The store performs no retries; callers decide what a failure means.
type Store struct {
	endpoints []string
	clients   []*s3.Client
	bucket    string
}

// New opens one S3 client per configured endpoint.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one storage endpoint is required")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}

	clients := make([]*s3.Client, 0, len(cfg.Endpoints))
	for _, endpoint := range cfg.Endpoints {
		client, err := NewS3Client(ctx, endpoint, cfg.Region, cfg.AccessKey, cfg.SecretKey, cfg.ForcePathStyle)
		if err != nil {
			return nil, fmt.Errorf("failed to configure endpoint %q: %w", endpoint, err)
		}
		clients = append(clients, client)
	}

	return &Store{
		endpoints: cfg.Endpoints,
		clients:   clients,
		bucket:    bucket,
	}, nil
}

// NewS3Client creates an S3 client for a single endpoint using static
// credentials and, optionally, path-style addressing.
func NewS3Client(
	ctx context.Context,
	endpoint,
	region,
	accessKey,
	secretKey string,
	forcePathStyle bool,
) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = forcePathStyle
	})

	return client, nil
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Endpoints returns the configured endpoint URLs in shard order.
func (s *Store) Endpoints() []string {
	return s.endpoints
}

// FindShard returns the 0-based shard index of a key: the first hex
// digit of the last path component divided by the number of endpoints.
// With 4 endpoints, leaves starting 0-3 go to shard 0, 4-7 to shard 1,
// 8-b to shard 2 and c-f to shard 3.
func (s *Store) FindShard(key string) (int, error) {
	leaf := key
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		leaf = key[i+1:]
	}
	if leaf == "" {
		return 0, fmt.Errorf("cannot shard empty key %q", key)
	}
	digit, err := strconv.ParseInt(leaf[:1], 16, 0)
	if err != nil {
		return 0, fmt.Errorf("key %q does not start with a hex digit: %w", key, err)
	}
	shard := int(digit) / len(s.endpoints)
	if shard >= len(s.endpoints) {
		return 0, fmt.Errorf("%w: key %q shards to %d but only %d endpoints are configured",
			ErrUnknownEndpoint, key, shard, len(s.endpoints))
	}
	return shard, nil
}

// LocationID returns the 1-based location id a key shards to; this is
// the value stored as backups.location.
func (s *Store) LocationID(key string) (int, error) {
	shard, err := s.FindShard(key)
	if err != nil {
		return 0, err
	}
	return shard + 1, nil
}

// LocationOf resolves an endpoint URL back to its 1-based location id.
func (s *Store) LocationOf(endpointURL string) (int, error) {
	for i, e := range s.endpoints {
		if e == endpointURL {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpointURL)
}

// clientAt returns the client of a 1-based location id.
func (s *Store) clientAt(locationID int) (*s3.Client, error) {
	if locationID < 1 || locationID > len(s.clients) {
		return nil, fmt.Errorf("%w: location %d", ErrUnknownEndpoint, locationID)
	}
	return s.clients[locationID-1], nil
}

// Exists checks whether a key is already present, without downloading
// it. By default the key's shard endpoint is probed; an explicit
// endpoint URL overrides the shard math. A missing object is not an
// error: it returns (false, nil).
func (s *Store) Exists(ctx context.Context, key string, endpoint ...string) (bool, error) {
	ctx, span := telemetry.StartStorageSpan(ctx, "head", key, telemetry.Bucket(s.bucket))
	defer span.End()

	var client *s3.Client
	if len(endpoint) > 0 {
		locationID, err := s.LocationOf(endpoint[0])
		if err != nil {
			return false, err
		}
		client = s.clients[locationID-1]
	} else {
		shard, err := s.FindShard(key)
		if err != nil {
			return false, err
		}
		client = s.clients[shard]
	}

	_, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		telemetry.RecordError(ctx, err)
		return false, fmt.Errorf("s3 head object %q: %w", key, err)
	}
	return true, nil
}

// Put uploads a local file under the given key on its shard endpoint
// and returns the 1-based location id it was written to.
func (s *Store) Put(ctx context.Context, localPath, key string) (int, error) {
	ctx, span := telemetry.StartStorageSpan(ctx, "put", key, telemetry.Bucket(s.bucket))
	defer span.End()

	shard, err := s.FindShard(key)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open %q: %w", localPath, err)
	}
	defer f.Close()

	_, err = s.clients[shard].PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return 0, fmt.Errorf("s3 put object %q: %w", key, err)
	}
	return shard + 1, nil
}

// Get downloads a key from the given 1-based location into localPath.
func (s *Store) Get(ctx context.Context, locationID int, key, localPath string) error {
	ctx, span := telemetry.StartStorageSpan(ctx, "get", key,
		telemetry.Bucket(s.bucket), telemetry.Location(locationID))
	defer span.End()

	client, err := s.clientAt(locationID)
	if err != nil {
		return err
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("s3 get object %q: %w", key, err)
	}
	defer resp.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write %q: %w", localPath, err)
	}
	return nil
}

// Delete removes a key from the given 1-based location. Deleting a key
// that is already gone returns ErrObjectNotFound so callers can decide
// whether that is expected.
func (s *Store) Delete(ctx context.Context, locationID int, key string) error {
	ctx, span := telemetry.StartStorageSpan(ctx, "delete", key,
		telemetry.Bucket(s.bucket), telemetry.Location(locationID))
	defer span.End()

	client, err := s.clientAt(locationID)
	if err != nil {
		return err
	}

	// DeleteObject succeeds on missing keys, so probe first to be able
	// to report already-gone objects to the deletion flow.
	_, err = client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("s3 head object %q: %w", key, err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("s3 delete object %q: %w", key, err)
	}
	return nil
}

// isNotFoundError checks if an error is an S3 not found error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound")
}
