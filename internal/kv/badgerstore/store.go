package badgerstore

import (
	"context"
	"errors"
	"os"

	"github.com/dgraph-io/badger/v4"

	"insight-backend/internal/kv"
)

// Store implements kv.Store over an embedded BadgerDB. This is the default
// backend: a durable local key-value store with prefix iteration and no
// external service to run.
type Store struct {
	db *badger.DB
}

// Options controls how the underlying BadgerDB is opened.
type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory opens a non-persistent database, used in tests.
	InMemory bool
}

// Open creates the directory if needed and opens the database.
func Open(opts Options) (*Store, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, kv.NewStorageError("open", "", err)
		}
		badgerOpts = badger.DefaultOptions(opts.Dir)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, kv.NewStorageError("open", "", err)
	}
	return &Store{db: db}, nil
}

// Get returns the stored value or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, kv.NewStorageError("get", key, err)
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, kv.ErrNotFound
		}
		return nil, kv.NewStorageError("get", key, err)
	}
	return out, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return kv.NewStorageError("set", key, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return kv.NewStorageError("set", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return kv.NewStorageError("delete", key, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return kv.NewStorageError("delete", key, err)
	}
	return nil
}

// ListKeys returns all keys with the given prefix in lexicographic order.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, kv.NewStorageError("list", prefix, err)
	}
	keys := make([]string, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, kv.NewStorageError("list", prefix, err)
	}
	return keys, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
