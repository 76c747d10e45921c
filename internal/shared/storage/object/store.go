package object

import (
	"context"
	"io"
)

// ObjectStore defines the contract for saving, retrieving and releasing
// binary document blobs.
type ObjectStore interface {
	Save(ctx context.Context, projectID string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}
