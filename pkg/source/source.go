// Package source defines where content units come from.
//
// A Source opens a named unit and returns a Handle from which assets are
// extracted. Implementations live in the sub-packages:
//   - fs: a local directory of packed units
//   - memory: an in-process unit store, plus Flat object storage
//   - s3: a remote Fetcher backed by S3, wrapped by Remote
//
// Failures are classified by wrapping ErrNetwork (transient, retried by the
// unit loader up to its cap) or ErrProtocol (permanent, settles at once).
package source

import (
	"context"
	"errors"
)

var (
	// ErrNetwork marks a transient transport failure. Retried.
	ErrNetwork = errors.New("network error")

	// ErrProtocol marks a permanent failure: bad data, missing object,
	// hash mismatch. Never retried.
	ErrProtocol = errors.New("protocol error")

	// ErrNotFound is returned when the unit does not exist in the source.
	ErrNotFound = errors.New("unit not found")

	// ErrHashMismatch is returned when unit bytes do not match the manifest.
	ErrHashMismatch = errors.New("content hash mismatch")

	// ErrTooLarge is returned when a unit exceeds the configured size limit.
	ErrTooLarge = errors.New("unit exceeds size limit")

	// ErrClosed is returned by sources used after Close.
	ErrClosed = errors.New("source closed")
)

// Retryable reports whether err is a transient failure worth another attempt.
func Retryable(err error) bool {
	return err != nil && errors.Is(err, ErrNetwork) && !errors.Is(err, ErrProtocol)
}

// Source opens content units by name.
type Source interface {
	// Kind names the backend ("fs", "memory", "remote") for logs and metrics.
	Kind() string

	// Open loads the unit. hash, when non-empty, is the expected content
	// hash from the manifest. Open blocks; the lifecycle packages call it
	// inline for sync loads and from an I/O worker for async ones.
	Open(ctx context.Context, name, hash string) (Handle, error)
}

// Handle is an opened unit.
//
// Extract and ExtractAll return the same *Object for the same asset while
// the object is reachable, so callers sharing a unit share instances. The
// handle itself does not keep extracted objects alive.
type Handle interface {
	// Unit returns the unit name.
	Unit() string

	// Extract returns the first asset at path whose type derives from t,
	// or nil if there is none. An empty path matches any asset.
	Extract(path string, t Type) *Object

	// ExtractAll returns every asset at path whose type derives from t.
	// The result is empty, never nil, when nothing matches.
	ExtractAll(path string, t Type) []*Object

	// Assets lists the asset descriptors in the unit.
	Assets() []AssetInfo

	// Size is the decoded payload size in bytes.
	Size() int64

	// Unload frees the unit data. With force, objects already extracted
	// are destroyed as well; without, they stay usable.
	Unload(force bool)
}

// Fetcher retrieves raw bytes from a remote store. Errors must wrap
// ErrNetwork or ErrProtocol.
type Fetcher interface {
	Kind() string
	Fetch(ctx context.Context, key string) ([]byte, error)
}
