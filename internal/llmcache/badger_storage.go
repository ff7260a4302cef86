package llmcache

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStorage stores entries in an embedded Badger database under keys
// "<category>/<key>".
type BadgerStorage struct {
	db *badger.DB
}

// OpenBadgerStorage opens (or creates) a Badger database at path. An empty
// path opens an in-memory database.
func OpenBadgerStorage(path string) (*BadgerStorage, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

// Close releases the database.
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

func badgerKey(category, key string) []byte {
	return []byte(category + "/" + key)
}

func (s *BadgerStorage) Get(ctx context.Context, category, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(category, key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

func (s *BadgerStorage) Set(ctx context.Context, category, key string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(category, key), data)
	})
}

func (s *BadgerStorage) List(ctx context.Context, category string) ([]string, error) {
	prefix := []byte(category + "/")
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStorage) Delete(ctx context.Context, category, key string) error {
	k := badgerKey(category, key)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(k)
	})
}
