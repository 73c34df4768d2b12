// Package fs provides a Source reading packed units from a local directory.
//
// Unit "levels/forest" is read from <root>/levels/forest.pack.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/bufpool"
	"github.com/marmos91/dittobundle/pkg/source"
)

// Config holds configuration for the directory source.
type Config struct {
	// Root is the directory holding packed units.
	Root string

	// MaxUnitSize rejects larger files with source.ErrTooLarge. Zero
	// disables the check.
	MaxUnitSize int64

	// CreateDir creates Root if it doesn't exist.
	CreateDir bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig(root string) Config {
	return Config{
		Root:        root,
		MaxUnitSize: 256 << 20,
		CreateDir:   true,
	}
}

// Source reads units from disk.
type Source struct {
	mu     sync.RWMutex
	root   string
	max    int64
	closed bool
}

// New creates a directory source.
func New(cfg Config) (*Source, error) {
	if cfg.Root == "" {
		return nil, errors.New("root directory is required")
	}
	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, err
		}
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cfg.Root)
	}
	return &Source{root: cfg.Root, max: cfg.MaxUnitSize}, nil
}

// Kind returns "fs".
func (s *Source) Kind() string { return "fs" }

// Root returns the source directory.
func (s *Source) Root() string { return s.root }

// UnitPath returns the file path for a unit name.
func (s *Source) UnitPath(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name)+source.DefaultUnitExt)
}

func (s *Source) validName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// Open reads, verifies and decodes a unit file.
func (s *Source) Open(ctx context.Context, name, hash string) (source.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, source.ErrClosed
	}
	if !s.validName(name) {
		return nil, fmt.Errorf("%w: invalid unit name %q", source.ErrProtocol, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrNetwork, err)
	}

	f, err := os.Open(s.UnitPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %w: %s", source.ErrProtocol, source.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: open unit %q: %v", source.ErrNetwork, name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat unit %q: %v", source.ErrNetwork, name, err)
	}
	size := info.Size()
	if s.max > 0 && size > s.max {
		return nil, fmt.Errorf("%w: %w: unit %q is %d bytes", source.ErrProtocol, source.ErrTooLarge, name, size)
	}

	buf := bufpool.Get(int(size))
	defer bufpool.Put(buf)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("%w: read unit %q: %v", source.ErrNetwork, name, err)
	}

	logger.Debug("Unit read", logger.KeyUnit, name, logger.KeySource, "fs", logger.KeyBytes, size)
	return source.Decode(name, hash, buf, 0)
}

// Write stores raw unit bytes atomically, creating parent directories.
func (s *Source) Write(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return source.ErrClosed
	}
	if !s.validName(name) {
		return fmt.Errorf("invalid unit name %q", name)
	}

	path := s.UnitPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// List returns the names of all units under the root, sorted.
func (s *Source) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, source.ErrClosed
	}

	var names []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, source.DefaultUnitExt) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), source.DefaultUnitExt))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Close makes further calls fail with source.ErrClosed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
