package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Session Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // Correlates log lines for one command/response transaction

	// ========================================================================
	// Protocol & Operation
	// ========================================================================
	KeyCmdID     = "cmd_id"     // Protocol command name: LIST, FILE_RANGE, EXIT, ...
	KeyCmdType   = "cmd_type"   // REQUEST, RESPONSE, or ACK
	KeyDataSize  = "data_size"  // data_size field of a command header
	KeyStatus    = "status"     // Outcome of a transaction: ok, not_found, error
	KeyStatusMsg = "status_msg" // Human-readable status message

	// ========================================================================
	// File & Range Operations
	// ========================================================================
	KeyFile        = "file"        // Display name of the file a transaction targets
	KeyPath        = "path"        // Absolute filesystem path backing a registry entry
	KeyOffset      = "offset"      // Requested byte offset
	KeyRangeSize   = "range_size"  // Requested byte count
	KeyActualSize  = "actual_size" // Byte count actually reported/streamed
	KeyFileSize    = "file_size"   // Total size of the target file
	KeyBytesSent   = "bytes_sent"  // Cumulative bytes streamed for the current file
	KeySpeedMbps   = "speed_mbps"  // Instantaneous throughput in MB/s
	KeyChunkBytes  = "chunk_bytes" // Size of a single streamed chunk

	// ========================================================================
	// USB Transport
	// ========================================================================
	KeyVendorID    = "vendor_id"    // USB vendor ID
	KeyProductID   = "product_id"   // USB product ID
	KeyEndpointIn  = "endpoint_in"  // Bulk IN endpoint address
	KeyEndpointOut = "endpoint_out" // Bulk OUT endpoint address
	KeyAttempt     = "attempt"      // Reconnection attempt number
	KeyMaxAttempts = "max_attempts" // Maximum reconnection attempts

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for the per-transaction trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// CmdID returns a slog.Attr for the protocol command name
func CmdID(name string) slog.Attr {
	return slog.String(KeyCmdID, name)
}

// DataSize returns a slog.Attr for a command header's data_size field
func DataSize(n uint32) slog.Attr {
	return slog.Uint64(KeyDataSize, uint64(n))
}

// File returns a slog.Attr for a display file name
func File(name string) slog.Attr {
	return slog.String(KeyFile, name)
}

// Path returns a slog.Attr for a filesystem path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Offset returns a slog.Attr for a byte offset
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// RangeSize returns a slog.Attr for a requested byte count
func RangeSize(n uint32) slog.Attr {
	return slog.Uint64(KeyRangeSize, uint64(n))
}

// ActualSize returns a slog.Attr for the clamped byte count actually sent
func ActualSize(n uint64) slog.Attr {
	return slog.Uint64(KeyActualSize, n)
}

// FileSize returns a slog.Attr for a file's total size
func FileSize(n int64) slog.Attr {
	return slog.Int64(KeyFileSize, n)
}

// BytesSent returns a slog.Attr for cumulative bytes streamed
func BytesSent(n int64) slog.Attr {
	return slog.Int64(KeyBytesSent, n)
}

// SpeedMbps returns a slog.Attr for instantaneous throughput
func SpeedMbps(v float64) slog.Attr {
	return slog.Float64(KeySpeedMbps, v)
}

// VendorID returns a slog.Attr for a USB vendor ID, formatted in hex
func VendorID(id uint16) slog.Attr {
	return slog.String(KeyVendorID, fmt.Sprintf("0x%04x", id))
}

// ProductID returns a slog.Attr for a USB product ID, formatted in hex
func ProductID(id uint16) slog.Attr {
	return slog.String(KeyProductID, fmt.Sprintf("0x%04x", id))
}

// Attempt returns a slog.Attr for a reconnection attempt counter
func Attempt(n, max int) slog.Attr {
	return slog.Group("reconnect", slog.Int(KeyAttempt, n), slog.Int(KeyMaxAttempts, max))
}

// Err returns a slog.Attr wrapping an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationAttr returns a slog.Attr for an operation duration in milliseconds
func DurationAttr(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
