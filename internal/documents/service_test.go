package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"insight-backend/internal/cache"
	"insight-backend/internal/kv/memory"
)

type fakeBlobs struct {
	saved   map[string][]byte
	deleted []string
	saveErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{saved: make(map[string][]byte)}
}

func (f *fakeBlobs) Save(_ context.Context, projectID, fileName string, r io.Reader) (string, int64, string, error) {
	if f.saveErr != nil {
		return "", 0, "", f.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, "", err
	}
	key := fmt.Sprintf("%s/%s", projectID, fileName)
	f.saved[key] = data
	return key, int64(len(data)), "application/octet-stream", nil
}

func (f *fakeBlobs) Open(_ context.Context, storageKey string) (io.ReadCloser, error) {
	data, ok := f.saved[storageKey]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) Delete(_ context.Context, storageKey string) error {
	f.deleted = append(f.deleted, storageKey)
	delete(f.saved, storageKey)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeBlobs) {
	t.Helper()
	blobs := newFakeBlobs()
	svc := NewService(memory.New(), cache.New(16, time.Minute), blobs, Limits{MaxDocuments: 3, MaxUploadBytes: 1 << 10})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	step := 0
	svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	return svc, blobs
}

func upload(t *testing.T, svc *Service, projectID, name, body string) Document {
	t.Helper()
	doc, err := svc.Upload(context.Background(), projectID, FileMeta{Name: name, SizeBytes: int64(len(body))}, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Upload(%q): %v", name, err)
	}
	return doc
}

func TestUploadCreatesDocumentWithHistory(t *testing.T) {
	svc, blobs := newTestService(t)

	doc := upload(t, svc, "p1", "plan.pdf", "hello")
	if doc.ID == "" {
		t.Fatal("missing id")
	}
	if doc.Status != StatusUploaded {
		t.Fatalf("status = %q, want %q", doc.Status, StatusUploaded)
	}
	if len(doc.StatusHistory) != 1 || doc.StatusHistory[0].Status != StatusUploaded {
		t.Fatalf("history = %+v, want single uploaded entry", doc.StatusHistory)
	}
	if doc.SizeBytes != 5 {
		t.Fatalf("size = %d, want 5", doc.SizeBytes)
	}
	if _, ok := blobs.saved[doc.StorageKey]; !ok {
		t.Fatalf("blob %q not stored", doc.StorageKey)
	}
}

func TestUploadRejectsInvalidFiles(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		meta FileMeta
	}{
		{name: "empty name", meta: FileMeta{Name: "", SizeBytes: 10}},
		{name: "bad extension", meta: FileMeta{Name: "virus.exe", SizeBytes: 10}},
		{name: "oversized", meta: FileMeta{Name: "big.pdf", SizeBytes: 2 << 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Upload(ctx, "p1", tt.meta, strings.NewReader("x"))
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestUploadReportsOversizedFileName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"a.pdf", "b.pdf", "c.txt"} {
		upload(t, svc, "p1", name, "ok")
	}
	// Capacity is 3, so this must fail on capacity before validation of a
	// fourth small file would even matter.
	_, err := svc.Upload(ctx, "p1", FileMeta{Name: "d.pdf", SizeBytes: 2}, strings.NewReader("ok"))
	var cErr *CapacityError
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want CapacityError", err)
	}
	if cErr.Limit != 3 {
		t.Fatalf("limit = %d, want 3", cErr.Limit)
	}

	docs, err := svc.ListByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
}

func TestUploadBatchScenario(t *testing.T) {
	// Three valid files plus one oversized file: three documents created
	// with status uploaded, one validation error naming the bad file.
	svc, _ := newTestService(t)
	ctx := context.Background()

	files := []FileMeta{
		{Name: "one.pdf", SizeBytes: 4},
		{Name: "two.pdf", SizeBytes: 4},
		{Name: "huge.pdf", SizeBytes: 4 << 10},
		{Name: "three.txt", SizeBytes: 4},
	}
	var failures []*ValidationError
	created := 0
	for _, meta := range files {
		_, err := svc.Upload(ctx, "p1", meta, strings.NewReader("body"))
		if err != nil {
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Upload(%q): %v", meta.Name, err)
			}
			failures = append(failures, vErr)
			continue
		}
		created++
	}

	if created != 3 {
		t.Fatalf("created %d documents, want 3", created)
	}
	if len(failures) != 1 || failures[0].FileName != "huge.pdf" {
		t.Fatalf("failures = %+v, want one naming huge.pdf", failures)
	}
	docs, _ := svc.ListByProject(ctx, "p1")
	for _, doc := range docs {
		if doc.Status != StatusUploaded {
			t.Errorf("document %q status = %q, want uploaded", doc.Name, doc.Status)
		}
	}
}

func TestUploadDisambiguatesNameCollisions(t *testing.T) {
	svc, _ := newTestService(t)

	first := upload(t, svc, "p1", "report.pdf", "a")
	second := upload(t, svc, "p1", "report.pdf", "b")
	third := upload(t, svc, "p1", "report.pdf", "c")

	if first.Name != "report.pdf" {
		t.Fatalf("first name = %q", first.Name)
	}
	if second.Name != "report (1).pdf" {
		t.Fatalf("second name = %q, want %q", second.Name, "report (1).pdf")
	}
	if third.Name != "report (2).pdf" {
		t.Fatalf("third name = %q, want %q", third.Name, "report (2).pdf")
	}
}

func TestUpdateStatusAppendsHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	doc := upload(t, svc, "p1", "a.pdf", "x")

	doc, err := svc.UpdateStatus(ctx, "p1", doc.ID, StatusProcessed, "")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	doc, err = svc.UpdateStatus(ctx, "p1", doc.ID, StatusAnalyzed, "")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if doc.Status != StatusAnalyzed {
		t.Fatalf("status = %q, want analyzed", doc.Status)
	}
	wantHistory := []Status{StatusUploaded, StatusProcessed, StatusAnalyzed}
	if len(doc.StatusHistory) != len(wantHistory) {
		t.Fatalf("history length = %d, want %d", len(doc.StatusHistory), len(wantHistory))
	}
	for i, want := range wantHistory {
		if doc.StatusHistory[i].Status != want {
			t.Errorf("history[%d] = %q, want %q", i, doc.StatusHistory[i].Status, want)
		}
	}
	if last := doc.StatusHistory[len(doc.StatusHistory)-1]; last.Status != doc.Status {
		t.Errorf("last history entry %q does not match status %q", last.Status, doc.Status)
	}
}

func TestUpdateStatusErrorRequiresMessage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	doc := upload(t, svc, "p1", "a.pdf", "x")

	if _, err := svc.UpdateStatus(ctx, "p1", doc.ID, StatusError, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	got, err := svc.UpdateStatus(ctx, "p1", doc.ID, StatusError, "parser crashed")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.ProcessingError != "parser crashed" {
		t.Fatalf("processingError = %q", got.ProcessingError)
	}

	// Recovering from error clears the message.
	got, err = svc.UpdateStatus(ctx, "p1", doc.ID, StatusProcessed, "")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.ProcessingError != "" {
		t.Fatalf("processingError = %q, want empty", got.ProcessingError)
	}
}

func TestUpdateStatusRejectsDeletedAndUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	doc := upload(t, svc, "p1", "a.pdf", "x")

	if _, err := svc.UpdateStatus(ctx, "p1", "missing", StatusProcessed, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if ok, err := svc.Remove(ctx, "p1", doc.ID); err != nil || !ok {
		t.Fatalf("Remove = (%v, %v)", ok, err)
	}
	if _, err := svc.UpdateStatus(ctx, "p1", doc.ID, StatusProcessed, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput for deleted document", err)
	}
}

func TestRemoveIsIdempotentAndReleasesBlob(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()
	doc := upload(t, svc, "p1", "a.pdf", "x")

	ok, err := svc.Remove(ctx, "p1", doc.ID)
	if err != nil || !ok {
		t.Fatalf("first Remove = (%v, %v), want (true, nil)", ok, err)
	}
	if len(blobs.deleted) != 1 || blobs.deleted[0] != doc.StorageKey {
		t.Fatalf("deleted blobs = %v, want [%q]", blobs.deleted, doc.StorageKey)
	}

	ok, err = svc.Remove(ctx, "p1", doc.ID)
	if err != nil || ok {
		t.Fatalf("second Remove = (%v, %v), want (false, nil)", ok, err)
	}
	ok, err = svc.Remove(ctx, "p1", "missing")
	if err != nil || ok {
		t.Fatalf("Remove(missing) = (%v, %v), want (false, nil)", ok, err)
	}

	docs, _ := svc.ListByProject(ctx, "p1")
	if len(docs) != 0 {
		t.Fatalf("ListByProject returned %d documents, want 0", len(docs))
	}
}

func TestListByProjectMigratesMissingHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// A record persisted before lifecycle tracking: no status, no history.
	legacy := `[{"id":"old-1","projectId":"p1","name":"legacy.pdf","size":10,"createdAt":"2025-01-02T03:04:05Z","priority":1}]`
	if err := svc.KV.Set(ctx, storageKeyPrefix+"p1", []byte(legacy)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	docs, err := svc.ListByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	doc := docs[0]
	if doc.Status != StatusUploaded {
		t.Fatalf("status = %q, want uploaded", doc.Status)
	}
	if len(doc.StatusHistory) != 1 || doc.StatusHistory[0].Status != StatusUploaded {
		t.Fatalf("history = %+v, want synthetic single entry", doc.StatusHistory)
	}
	if !doc.StatusHistory[0].Timestamp.Equal(doc.CreatedAt) {
		t.Fatalf("synthetic history timestamp = %v, want createdAt %v", doc.StatusHistory[0].Timestamp, doc.CreatedAt)
	}
}

func TestListByProjectToleratesCorruptRecord(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.KV.Set(ctx, storageKeyPrefix+"p1", []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	docs, err := svc.ListByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("got %d documents, want 0", len(docs))
	}
}

func TestCleanupOlderThanPurgesAndReleases(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()

	old := upload(t, svc, "p1", "old.pdf", "x")
	// Push now far forward so the next upload is recent relative to cutoff.
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	fresh := upload(t, svc, "p1", "fresh.pdf", "y")

	removed, err := svc.CleanupOlderThan(ctx, "p1", 12*time.Hour)
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	docs, _ := svc.ListByProject(ctx, "p1")
	if len(docs) != 1 || docs[0].ID != fresh.ID {
		t.Fatalf("remaining docs = %+v, want only %q", docs, fresh.ID)
	}
	found := false
	for _, key := range blobs.deleted {
		if key == old.StorageKey {
			found = true
		}
	}
	if !found {
		t.Fatalf("old blob %q not released; deleted = %v", old.StorageKey, blobs.deleted)
	}
}

func TestMarkAnalyzedAdvancesOnlyKnownDocuments(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := upload(t, svc, "p1", "a.pdf", "x")
	b := upload(t, svc, "p1", "b.pdf", "y")

	svc.MarkAnalyzed(ctx, "p1", []string{a.ID, "missing-id"})

	docs, _ := svc.ListByProject(ctx, "p1")
	statuses := make(map[string]Status, len(docs))
	for _, doc := range docs {
		statuses[doc.ID] = doc.Status
	}
	if statuses[a.ID] != StatusAnalyzed {
		t.Fatalf("document a status = %q, want analyzed", statuses[a.ID])
	}
	if statuses[b.ID] != StatusUploaded {
		t.Fatalf("document b status = %q, want uploaded", statuses[b.ID])
	}
}

func TestExistingIDsExcludesDeleted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := upload(t, svc, "p1", "a.pdf", "x")
	b := upload(t, svc, "p1", "b.pdf", "y")
	if _, err := svc.Remove(ctx, "p1", b.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	ids, err := svc.ExistingIDs(ctx, "p1")
	if err != nil {
		t.Fatalf("ExistingIDs: %v", err)
	}
	if _, ok := ids[a.ID]; !ok {
		t.Fatalf("live document %q missing from %v", a.ID, ids)
	}
	if _, ok := ids[b.ID]; ok {
		t.Fatalf("deleted document %q present in %v", b.ID, ids)
	}
}

