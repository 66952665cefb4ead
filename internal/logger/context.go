package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds run-scoped logging context carried through the
// pipeline and the operator flows.
type LogContext struct {
	RunID     string // one id per command invocation
	Wiki      string // wiki currently being worked on
	Command   string // subcommand name
	TraceID   string // OpenTelemetry trace ID when tracing is enabled
	StartTime time.Time
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for one command invocation.
func NewLogContext(command, runID string) *LogContext {
	return &LogContext{
		Command:   command,
		RunID:     runID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithWiki returns a copy with the wiki set.
func (lc *LogContext) WithWiki(wiki string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Wiki = wiki
	}
	return clone
}

// WithTrace returns a copy with the trace id set.
func (lc *LogContext) WithTrace(traceID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
