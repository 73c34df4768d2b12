package source

import (
	"context"
	"fmt"

	"github.com/marmos91/dittobundle/internal/logger"
)

// DefaultUnitExt is appended to unit names to form storage keys.
const DefaultUnitExt = ".pack"

// Remote adapts a Fetcher into a Source. Each Open is exactly one fetch
// attempt; retrying is the unit loader's job.
type Remote struct {
	fetcher Fetcher
	maxSize int64
}

// NewRemote wraps f. maxSize limits the raw unit size; zero disables it.
func NewRemote(f Fetcher, maxSize int64) *Remote {
	return &Remote{fetcher: f, maxSize: maxSize}
}

// Kind returns "remote:" followed by the fetcher kind.
func (r *Remote) Kind() string {
	return "remote:" + r.fetcher.Kind()
}

// Open fetches, verifies and decodes the unit.
func (r *Remote) Open(ctx context.Context, name, hash string) (Handle, error) {
	data, err := r.fetcher.Fetch(ctx, name+DefaultUnitExt)
	if err != nil {
		return nil, err
	}
	return Decode(name, hash, data, r.maxSize)
}

// Decode verifies size and hash of raw unit bytes and decodes them. It is
// shared by every Source that reads whole units into memory.
func Decode(name, hash string, data []byte, maxSize int64) (Handle, error) {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %w: unit %q is %d bytes", ErrProtocol, ErrTooLarge, name, len(data))
	}
	if hash != "" {
		if got := Hash(data); got != hash {
			logger.Warn("Unit hash mismatch", logger.KeyUnit, name, "expected", hash, "actual", got)
			return nil, fmt.Errorf("%w: %w: unit %q", ErrProtocol, ErrHashMismatch, name)
		}
	}
	h, err := DecodePack(data)
	if err != nil {
		return nil, fmt.Errorf("unit %q: %w", name, err)
	}
	return h, nil
}
