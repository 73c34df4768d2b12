// Package memory provides in-process content storage.
//
// Store is a Source over packed units held in memory, used for embedding and
// tests. Flat is object storage without units at all: assets are registered
// by path and loaded directly, with an explicit sweep reclaiming released
// copies.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittobundle/pkg/source"
)

// Store keeps raw packed units keyed by name.
type Store struct {
	mu     sync.RWMutex
	units  map[string][]byte
	opens  map[string]int
	closed bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		units: make(map[string][]byte),
		opens: make(map[string]int),
	}
}

// Kind returns "memory".
func (s *Store) Kind() string { return "memory" }

// Put stores raw unit bytes, replacing any previous version.
func (s *Store) Put(name string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[name] = raw
}

// PutAssets encodes and stores a unit. Returns the content hash.
func (s *Store) PutAssets(name string, assets ...source.Asset) (string, error) {
	raw, err := source.EncodePack(name, assets)
	if err != nil {
		return "", err
	}
	s.Put(name, raw)
	return source.Hash(raw), nil
}

// Delete removes a unit.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, name)
}

// Names returns the stored unit names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.units))
	for n := range s.units {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Opens returns how many times Open was called for name.
func (s *Store) Opens(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opens[name]
}

// Open decodes the stored unit.
func (s *Store) Open(_ context.Context, name, hash string) (source.Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, source.ErrClosed
	}
	s.opens[name]++
	raw, ok := s.units[name]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", source.ErrProtocol, source.ErrNotFound, name)
	}
	return source.Decode(name, hash, raw, 0)
}

// Close makes further opens fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
