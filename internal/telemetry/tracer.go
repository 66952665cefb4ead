package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for backup operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// File attributes
	// ========================================================================
	AttrWiki       = "wiki"
	AttrTitle      = "file.title"
	AttrSHA1       = "file.sha1"
	AttrSHA256     = "file.sha256"
	AttrFileSize   = "file.size"
	AttrFileStatus = "file.status"

	// ========================================================================
	// Production (Swift) attributes
	// ========================================================================
	AttrContainer = "swift.container"
	AttrSwiftPath = "swift.path"

	// ========================================================================
	// Backup storage attributes
	// ========================================================================
	AttrBucket   = "storage.bucket"
	AttrKey      = "storage.key"
	AttrLocation = "storage.location"
	AttrEndpoint = "storage.endpoint"

	// ========================================================================
	// Database attributes
	// ========================================================================
	AttrTable = "db.table"
	AttrRows  = "db.rows"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// Backup pipeline spans
	SpanPipelineBatch = "pipeline.batch"
	SpanPipelineFile  = "pipeline.file"

	// Production download spans
	SpanSwiftDownload = "swift.download"

	// Backup storage spans
	SpanStorageHead   = "storage.head"
	SpanStoragePut    = "storage.put"
	SpanStorageGet    = "storage.get"
	SpanStorageDelete = "storage.delete"

	// Metadata database spans
	SpanMetadataClaim  = "metadata.claim"
	SpanMetadataUpdate = "metadata.update"
)

// Wiki returns an attribute for a wiki identifier
func Wiki(name string) attribute.KeyValue {
	return attribute.String(AttrWiki, name)
}

// Title returns an attribute for a file upload name
func Title(name string) attribute.KeyValue {
	return attribute.String(AttrTitle, name)
}

// SHA1 returns an attribute for a file's sha1 checksum
func SHA1(sum string) attribute.KeyValue {
	return attribute.String(AttrSHA1, sum)
}

// SHA256 returns an attribute for a file's sha256 checksum
func SHA256(sum string) attribute.KeyValue {
	return attribute.String(AttrSHA256, sum)
}

// FileSize returns an attribute for a file size in bytes
func FileSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrFileSize, size)
}

// FileStatus returns an attribute for a file or backup status
func FileStatus(status string) attribute.KeyValue {
	return attribute.String(AttrFileStatus, status)
}

// Container returns an attribute for a Swift container name
func Container(name string) attribute.KeyValue {
	return attribute.String(AttrContainer, name)
}

// SwiftPath returns an attribute for a Swift object path
func SwiftPath(path string) attribute.KeyValue {
	return attribute.String(AttrSwiftPath, path)
}

// Bucket returns an attribute for an S3 bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an S3 object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Location returns an attribute for a 1-based storage location id
func Location(id int) attribute.KeyValue {
	return attribute.Int(AttrLocation, id)
}

// Endpoint returns an attribute for a storage endpoint URL
func Endpoint(url string) attribute.KeyValue {
	return attribute.String(AttrEndpoint, url)
}

// Table returns an attribute for a database table name
func Table(name string) attribute.KeyValue {
	return attribute.String(AttrTable, name)
}

// Rows returns an attribute for a row or batch count
func Rows(n int) attribute.KeyValue {
	return attribute.Int(AttrRows, n)
}

// StartFileSpan starts a span covering one file's trip through the
// backup pipeline. This is a convenience function that sets common
// attributes.
func StartFileSpan(ctx context.Context, operation, wiki, title string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Wiki(wiki),
		Title(title),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "pipeline."+operation, trace.WithAttributes(allAttrs...))
}

// StartStorageSpan starts a span for a backup storage operation.
func StartStorageSpan(ctx context.Context, operation, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		StorageKey(key),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "storage."+operation, trace.WithAttributes(allAttrs...))
}

// StartMetadataSpan starts a span for a metadata database operation.
func StartMetadataSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "metadata."+operation, trace.WithAttributes(attrs...))
}
