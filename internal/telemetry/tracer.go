package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for lifecycle spans.
const (
	AttrUnit       = "bundle.unit"
	AttrUnitHash   = "bundle.hash"
	AttrUnitSize   = "bundle.size"
	AttrSource     = "bundle.source"
	AttrAttempt    = "bundle.attempt"
	AttrMode       = "bundle.mode"
	AttrDeps       = "bundle.deps"
	AttrPath       = "asset.path"
	AttrAssetType  = "asset.type"
	AttrObjects    = "asset.objects"
	AttrBucket     = "storage.bucket"
	AttrStorageKey = "storage.key"
)

// Unit returns an attribute for a content unit name.
func Unit(name string) attribute.KeyValue { return attribute.String(AttrUnit, name) }

// UnitHash returns an attribute for an expected content hash.
func UnitHash(hash string) attribute.KeyValue { return attribute.String(AttrUnitHash, hash) }

// UnitSize returns an attribute for a decoded unit size.
func UnitSize(n int64) attribute.KeyValue { return attribute.Int64(AttrUnitSize, n) }

// Source returns an attribute for a source kind.
func Source(kind string) attribute.KeyValue { return attribute.String(AttrSource, kind) }

// Attempt returns an attribute for a load attempt number.
func Attempt(n int) attribute.KeyValue { return attribute.Int(AttrAttempt, n) }

// Mode returns an attribute for a sync/async mode.
func Mode(m string) attribute.KeyValue { return attribute.String(AttrMode, m) }

// Path returns an attribute for a logical asset path.
func Path(p string) attribute.KeyValue { return attribute.String(AttrPath, p) }

// AssetType returns an attribute for an asset type.
func AssetType(t string) attribute.KeyValue { return attribute.String(AttrAssetType, t) }

// Objects returns an attribute for a number of extracted objects.
func Objects(n int) attribute.KeyValue { return attribute.Int(AttrObjects, n) }

// Bucket returns an attribute for a storage bucket.
func Bucket(name string) attribute.KeyValue { return attribute.String(AttrBucket, name) }

// StorageKey returns an attribute for a storage object key.
func StorageKey(key string) attribute.KeyValue { return attribute.String(AttrStorageKey, key) }

// StartUnitSpan starts a span around opening one content unit.
func StartUnitSpan(ctx context.Context, operation, unit, source string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+2)
	all = append(all, Unit(unit), Source(source))
	all = append(all, attrs...)
	return StartSpan(ctx, "unit."+operation, trace.WithAttributes(all...))
}

// StartAssetSpan starts a span for a manager-level asset operation.
func StartAssetSpan(ctx context.Context, operation, path, assetType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+2)
	all = append(all, Path(path), AssetType(assetType))
	all = append(all, attrs...)
	return StartSpan(ctx, "asset."+operation, trace.WithAttributes(all...))
}
