package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Every log line in the lifecycle packages uses these so
// that aggregation can group by unit, path and state.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Content Units
	// ========================================================================
	KeyUnit      = "unit"       // content unit name
	KeyState     = "state"      // Ready, Loading, Loaded, Error
	KeyRefCount  = "ref_count"  // unit reference count
	KeyPins      = "pins"       // holders keeping the unit pinned
	KeyGen       = "generation" // async generation counter
	KeyAttempt   = "attempt"    // load attempt number
	KeyMaxRetry  = "max_retries"
	KeyDeps      = "deps" // dependency count
	KeyMode      = "mode" // sync or async
	KeyUnitSize  = "unit_size"
	KeyQueueSize = "queue_depth"

	// ========================================================================
	// Assets
	// ========================================================================
	KeyPath      = "path"       // logical asset path
	KeyAssetType = "asset_type" // hierarchical asset type
	KeyObjects   = "objects"    // number of objects produced
	KeyHandle    = "handle"     // entry handle id
	KeyScene     = "scene"      // scene path
	KeyAllMode   = "all"        // single or all-objects mode
	KeyInherit   = "inherit"

	// ========================================================================
	// Storage
	// ========================================================================
	KeySource  = "source" // fs, memory, s3
	KeyBucket  = "bucket"
	KeyKey     = "key"
	KeyRegion  = "region"
	KeyBytes   = "bytes"
	KeyHash    = "hash"
	KeyCodec   = "codec"
	KeyCacheDB = "cache_dir"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyOperation  = "operation"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyCount      = "count"
	KeyOrphans    = "orphans"
	KeyTick       = "tick"
)

// ----------------------------------------------------------------------------
// Field constructors
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for an OpenTelemetry trace ID
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for an OpenTelemetry span ID
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// Unit returns a slog.Attr for a content unit name
func Unit(name string) slog.Attr { return slog.String(KeyUnit, name) }

// State returns a slog.Attr for a unit state
func State(s string) slog.Attr { return slog.String(KeyState, s) }

// RefCount returns a slog.Attr for a reference count
func RefCount(n int) slog.Attr { return slog.Int(KeyRefCount, n) }

// Attempt returns a slog.Attr for the current attempt number
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// Path returns a slog.Attr for an asset path
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// AssetType returns a slog.Attr for an asset type. The empty type is logged
// as "any".
func AssetType(t string) slog.Attr {
	if t == "" {
		t = "any"
	}
	return slog.String(KeyAssetType, t)
}

// Objects returns a slog.Attr for an object count
func Objects(n int) slog.Attr { return slog.Int(KeyObjects, n) }

// Source returns a slog.Attr for a storage source kind
func Source(kind string) slog.Attr { return slog.String(KeySource, kind) }

// Bytes returns a slog.Attr for a byte count
func Bytes(n int64) slog.Attr { return slog.Int64(KeyBytes, n) }

// Err returns a slog.Attr for an error. A nil error yields an empty Attr.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(d.Microseconds())/1000.0)
}
