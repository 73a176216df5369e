package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds transaction-scoped logging context for a single USB command/response exchange.
type LogContext struct {
	TraceID   string    // Correlates log lines across one command/response transaction
	CmdID     string    // Protocol command name: LIST, FILE_RANGE, EXIT, ...
	File      string    // Display name of the file a FILE_RANGE transaction targets
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given trace ID.
func NewLogContext(traceID string) *LogContext {
	return &LogContext{
		TraceID:   traceID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		CmdID:     lc.CmdID,
		File:      lc.File,
		StartTime: lc.StartTime,
	}
}

// WithCmd returns a copy with the command name set
func (lc *LogContext) WithCmd(cmdID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.CmdID = cmdID
	}
	return clone
}

// WithFile returns a copy with the target file name set
func (lc *LogContext) WithFile(name string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.File = name
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
