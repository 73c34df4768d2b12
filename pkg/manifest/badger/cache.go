// Package badger persists the last known good manifest in BadgerDB so that
// remote bootstrap can proceed when the manifest endpoint is unreachable.
package badger

import (
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/manifest"
)

var (
	keyManifest = []byte("manifest:current")
	keySavedAt  = []byte("manifest:saved_at")
)

// ErrEmpty is returned by Load when nothing has been saved yet.
var ErrEmpty = errors.New("manifest cache: empty")

// Cache stores one manifest document.
type Cache struct {
	db *badgerdb.DB
}

// Open opens (or creates) the cache at dir. An empty dir opens an in-memory
// database, which tests use.
func Open(dir string) (*Cache, error) {
	var opts badgerdb.Options
	if dir == "" {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badgerdb.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil).WithNumVersionsToKeep(1)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest cache: %w", err)
	}
	logger.Debug("Manifest cache opened", logger.KeyCacheDB, dir)
	return &Cache{db: db}, nil
}

// Save stores m as the current manifest.
func (c *Cache) Save(m *manifest.Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	now, err := time.Now().UTC().MarshalText()
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyManifest, data); err != nil {
			return err
		}
		return txn.Set(keySavedAt, now)
	})
}

// Load returns the stored manifest and when it was saved.
func (c *Cache) Load() (*manifest.Manifest, time.Time, error) {
	var data []byte
	var savedAt time.Time

	err := c.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyManifest)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(keySavedAt)
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return savedAt.UnmarshalText(v)
		})
	})
	if err == badgerdb.ErrKeyNotFound {
		return nil, time.Time{}, ErrEmpty
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read manifest cache: %w", err)
	}

	m, err := manifest.Parse(data)
	if err != nil {
		return nil, time.Time{}, err
	}
	return m, savedAt, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
