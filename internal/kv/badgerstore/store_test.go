package badgerstore

import (
	"context"
	"errors"
	"testing"

	"insight-backend/internal/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestSetGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "project_documents_p1", []byte(`[{"documentId":"d1"}]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get(ctx, "project_documents_p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `[{"documentId":"d1"}]` {
		t.Fatalf("unexpected value: %s", got)
	}

	// Overwrite replaces the value.
	if err := store.Set(ctx, "project_documents_p1", []byte(`[]`)); err != nil {
		t.Fatalf("overwrite Set: %v", err)
	}
	got, err = store.Get(ctx, "project_documents_p1")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if string(got) != `[]` {
		t.Fatalf("unexpected value after overwrite: %s", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte(`1`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListKeysFiltersByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"project_documents_p1", "project_documents_p2", "project_insights_p1"} {
		if err := store.Set(ctx, key, []byte(`{}`)); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}
	keys, err := store.ListKeys(ctx, "project_documents_")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "project_documents_p1" || keys[1] != "project_documents_p2" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestCancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Set(ctx, "k", []byte(`1`)); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
	var sErr *kv.StorageError
	if _, err := store.Get(ctx, "k"); !errors.As(err, &sErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}
