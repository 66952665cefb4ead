package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently so
// backup runs can be correlated across the catalog, pipeline, and
// recovery tooling.
const (
	// Run correlation
	KeyRunID   = "run_id"
	KeyCommand = "command"
	KeyTraceID = "trace_id"

	// Domain identifiers
	KeyWiki      = "wiki"
	KeyTable     = "table"
	KeyTitle     = "title"
	KeyFile      = "file"
	KeySHA1      = "sha1"
	KeySHA256    = "sha256"
	KeyStatus    = "status"
	KeyBatch     = "batch"
	KeyRows      = "rows"
	KeySize      = "size"
	KeyContainer = "container"
	KeyPath      = "path"

	// Backup store
	KeyKey      = "key"
	KeyBucket   = "bucket"
	KeyEndpoint = "endpoint"
	KeyLocation = "location"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyAttempt    = "attempt"
	KeyURL        = "url"
)

// Err returns a slog.Attr for an error, or the empty attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Wiki returns a slog.Attr for a wiki identifier.
func Wiki(name string) slog.Attr {
	return slog.String(KeyWiki, name)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
