package docsync

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// Cache persists the last received content of documents that are not
// currently open, so switching back to a file can show something immediately
// while the snapshot request is in flight. A nil *Cache is valid and caches
// nothing.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (or creates) a cache file at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open document cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize document cache: %w", err)
	}

	return &Cache{db: db}, nil
}

// Put stores content for a document name, overwriting any prior value.
func (c *Cache) Put(name, content string) error {
	if c == nil {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(name), []byte(content))
	})
}

// Get returns the cached content for a document name.
func (c *Cache) Get(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	var content string
	var found bool
	c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(documentsBucket).Get([]byte(name)); v != nil {
			content = string(v)
			found = true
		}
		return nil
	})
	return content, found
}

// Delete removes a cached document.
func (c *Cache) Delete(name string) error {
	if c == nil {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Delete([]byte(name))
	})
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}
