package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("key not found")

// Store defines the contract for the persistent key-value layer. Values are
// opaque JSON blobs; keys are namespaced by convention ("project_documents_",
// "project_insights_", ...).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// StorageError wraps a backing-medium or serialization failure. Callers
// decide whether to treat it as fatal or log and continue.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s key=%s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError constructs a StorageError for the given operation and key.
func NewStorageError(op, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err}
}
