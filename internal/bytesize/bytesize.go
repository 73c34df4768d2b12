package bytesize

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a size in bytes that can be decoded from human-readable
// strings such as "256MiB", "64Mi", "1.5 GB" or a plain number.
//
// Binary suffixes (Ki, Mi, Gi, Ti and their *B forms) multiply by 1024,
// decimal suffixes (K, M, G, T and their *B forms) by 1000.
type ByteSize uint64

// Common byte size constants
const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
)

// ParseByteSize parses a human-readable byte size
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative byte size: %q", s)
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, which lets viper and
// yaml.v3 decode ByteSize fields directly.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText renders the size in IEC units
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// String returns an IEC representation such as "256 MiB"
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Int64 returns the size as int64, saturating on overflow
func (b ByteSize) Int64() int64 {
	if b > ByteSize(1<<63-1) {
		return 1<<63 - 1
	}
	return int64(b)
}
