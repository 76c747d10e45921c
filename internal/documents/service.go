package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"insight-backend/internal/cache"
	"insight-backend/internal/kv"
	"insight-backend/internal/shared/storage/object"
	"insight-backend/internal/shared/telemetry"
)

const (
	storageKeyPrefix = "project_documents_"
	cacheKeyPrefix   = "documents-"
)

// Limits bounds what a project may hold. Zero values select the defaults.
type Limits struct {
	MaxDocuments   int
	MaxUploadBytes int64
}

const (
	defaultMaxDocuments   = 50
	defaultMaxUploadBytes = 25 << 20
)

var allowedExtensions = map[string]struct{}{
	".pdf":  {},
	".txt":  {},
	".md":   {},
	".csv":  {},
	".docx": {},
	".pptx": {},
	".xlsx": {},
}

// Service contains business logic for the document lifecycle.
type Service struct {
	KV     kv.Store
	Cache  *cache.Cache
	Blobs  object.ObjectStore
	limits Limits
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(store kv.Store, c *cache.Cache, blobs object.ObjectStore, limits Limits) *Service {
	if limits.MaxDocuments <= 0 {
		limits.MaxDocuments = defaultMaxDocuments
	}
	if limits.MaxUploadBytes <= 0 {
		limits.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Service{KV: store, Cache: c, Blobs: blobs, limits: limits, now: time.Now}
}

// Upload validates the file, stores its blob, and records a new document
// with status uploaded. A name collision within the project is resolved by
// suffixing " (n)" instead of failing.
func (s *Service) Upload(ctx context.Context, projectID string, meta FileMeta, r io.Reader) (Document, error) {
	if projectID == "" {
		return Document{}, ErrInvalidInput
	}
	if err := s.validateMeta(meta); err != nil {
		return Document{}, err
	}

	list, err := s.load(ctx, projectID)
	if err != nil {
		return Document{}, err
	}
	if countLive(list) >= s.limits.MaxDocuments {
		return Document{}, &CapacityError{Limit: s.limits.MaxDocuments}
	}

	name := disambiguateName(meta.Name, list)

	storageKey, sizeBytes, mimeType, err := s.Blobs.Save(ctx, projectID, name, r)
	if err != nil {
		return Document{}, fmt.Errorf("store blob: %w", err)
	}
	if sizeBytes > s.limits.MaxUploadBytes {
		// The declared size passed but the stream was larger. Release the
		// blob and reject.
		s.releaseBlob(ctx, projectID, storageKey)
		return Document{}, &ValidationError{
			FileName: meta.Name,
			Reason:   fmt.Sprintf("file exceeds %d MB limit", s.limits.MaxUploadBytes>>20),
		}
	}
	if meta.MimeType != "" {
		mimeType = meta.MimeType
	}

	now := s.now().UTC()
	doc := Document{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Name:       name,
		SizeBytes:  sizeBytes,
		MimeType:   mimeType,
		CreatedAt:  now,
		UploadedBy: meta.UploadedBy,
		Priority:   meta.Priority,
		Status:     StatusUploaded,
		StatusHistory: []StatusChange{
			{Status: StatusUploaded, Timestamp: now},
		},
		StorageKey: storageKey,
	}

	list = append(list, doc)
	if err := s.save(ctx, projectID, list); err != nil {
		s.releaseBlob(ctx, projectID, storageKey)
		return Document{}, err
	}
	return doc, nil
}

// UpdateStatus appends a history entry and moves the document to status.
// An error status requires a processing error message. Deleted documents
// accept no further transitions.
func (s *Service) UpdateStatus(ctx context.Context, projectID, id string, status Status, procErr string) (Document, error) {
	if projectID == "" || id == "" {
		return Document{}, ErrInvalidInput
	}
	if !status.Valid() {
		return Document{}, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	if status == StatusError && strings.TrimSpace(procErr) == "" {
		return Document{}, fmt.Errorf("%w: error status requires a processing error", ErrInvalidInput)
	}

	list, err := s.load(ctx, projectID)
	if err != nil {
		return Document{}, err
	}
	idx := indexOf(list, id)
	if idx < 0 {
		return Document{}, ErrNotFound
	}
	if list[idx].Status.Terminal() {
		return Document{}, fmt.Errorf("%w: document %s is deleted", ErrInvalidInput, id)
	}

	doc := list[idx]
	doc.Status = status
	doc.StatusHistory = append(doc.StatusHistory, StatusChange{Status: status, Timestamp: s.now().UTC()})
	if status == StatusError {
		doc.ProcessingError = procErr
	} else {
		doc.ProcessingError = ""
	}

	list[idx] = doc
	if err := s.save(ctx, projectID, list); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Remove marks a document deleted and releases its blob. Removing an
// unknown or already-deleted id reports false without an error, so callers
// can retry removal safely.
func (s *Service) Remove(ctx context.Context, projectID, id string) (bool, error) {
	if projectID == "" || id == "" {
		return false, ErrInvalidInput
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		return false, err
	}
	idx := indexOf(list, id)
	if idx < 0 || list[idx].Status == StatusDeleted {
		return false, nil
	}

	doc := list[idx]
	doc.Status = StatusDeleted
	doc.StatusHistory = append(doc.StatusHistory, StatusChange{Status: StatusDeleted, Timestamp: s.now().UTC()})
	s.releaseBlob(ctx, projectID, doc.StorageKey)
	doc.StorageKey = ""

	list[idx] = doc
	if err := s.save(ctx, projectID, list); err != nil {
		return false, err
	}
	return true, nil
}

// ListByProject returns the project's non-deleted documents. A
// backing-medium failure is logged and reported as an empty set so the UI
// never dead-ends.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]Document, error) {
	if projectID == "" {
		return nil, ErrInvalidInput
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		var storageErr *kv.StorageError
		if errors.As(err, &storageErr) {
			telemetry.Warn("documents.load", map[string]any{
				"project_id": projectID,
				"error":      storageErr.Error(),
			})
			return []Document{}, nil
		}
		return nil, err
	}

	out := make([]Document, 0, len(list))
	for _, doc := range list {
		if doc.Status == StatusDeleted {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// Open streams a document's stored blob.
func (s *Service) Open(ctx context.Context, projectID, id string) (io.ReadCloser, Document, error) {
	if projectID == "" || id == "" {
		return nil, Document{}, ErrInvalidInput
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		return nil, Document{}, err
	}
	idx := indexOf(list, id)
	if idx < 0 || list[idx].Status == StatusDeleted {
		return nil, Document{}, ErrNotFound
	}
	doc := list[idx]
	rc, err := s.Blobs.Open(ctx, doc.StorageKey)
	if err != nil {
		return nil, Document{}, fmt.Errorf("open blob: %w", err)
	}
	return rc, doc, nil
}

// CleanupOlderThan hard-purges documents created before the cutoff,
// releasing their blobs. Returns the number removed.
func (s *Service) CleanupOlderThan(ctx context.Context, projectID string, maxAge time.Duration) (int, error) {
	if projectID == "" || maxAge <= 0 {
		return 0, ErrInvalidInput
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().UTC().Add(-maxAge)
	kept := make([]Document, 0, len(list))
	removed := 0
	for _, doc := range list {
		if doc.CreatedAt.After(cutoff) {
			kept = append(kept, doc)
			continue
		}
		s.releaseBlob(ctx, projectID, doc.StorageKey)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.save(ctx, projectID, kept); err != nil {
		return 0, err
	}
	telemetry.Info("documents.cleanup", map[string]any{
		"project_id": projectID,
		"removed":    removed,
	})
	return removed, nil
}

// ExistingIDs returns the ids of the project's non-deleted documents.
func (s *Service) ExistingIDs(ctx context.Context, projectID string) (map[string]struct{}, error) {
	list, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(list))
	for _, doc := range list {
		if doc.Status != StatusDeleted {
			out[doc.ID] = struct{}{}
		}
	}
	return out, nil
}

// MarkAnalyzed best-effort advances the referenced documents to analyzed.
// Unknown ids and documents already terminal are logged and skipped.
func (s *Service) MarkAnalyzed(ctx context.Context, projectID string, documentIDs []string) {
	if len(documentIDs) == 0 {
		return
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		telemetry.Error("documents.mark_analyzed", map[string]any{
			"project_id": projectID,
			"error":      err.Error(),
		})
		return
	}

	wanted := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		wanted[id] = struct{}{}
	}

	now := s.now().UTC()
	changed := false
	for i := range list {
		if _, ok := wanted[list[i].ID]; !ok {
			continue
		}
		delete(wanted, list[i].ID)
		if list[i].Status == StatusAnalyzed || list[i].Status.Terminal() {
			continue
		}
		list[i].Status = StatusAnalyzed
		list[i].StatusHistory = append(list[i].StatusHistory, StatusChange{Status: StatusAnalyzed, Timestamp: now})
		changed = true
	}
	for id := range wanted {
		telemetry.Info("documents.mark_analyzed.missing", map[string]any{
			"project_id":  projectID,
			"document_id": id,
		})
	}
	if !changed {
		return
	}
	if err := s.save(ctx, projectID, list); err != nil {
		telemetry.Error("documents.mark_analyzed", map[string]any{
			"project_id": projectID,
			"error":      err.Error(),
		})
	}
}

func (s *Service) validateMeta(meta FileMeta) error {
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		return &ValidationError{FileName: meta.Name, Reason: "file name is required"}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := allowedExtensions[ext]; !ok {
		return &ValidationError{FileName: name, Reason: fmt.Sprintf("unsupported file type %q", ext)}
	}
	if meta.SizeBytes < 0 {
		return &ValidationError{FileName: name, Reason: "negative file size"}
	}
	if meta.SizeBytes > s.limits.MaxUploadBytes {
		return &ValidationError{
			FileName: name,
			Reason:   fmt.Sprintf("file exceeds %d MB limit", s.limits.MaxUploadBytes>>20),
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context, projectID string) ([]Document, error) {
	key := storageKeyPrefix + projectID
	cacheKey := cacheKeyPrefix + projectID

	if s.Cache != nil {
		if raw, ok := s.Cache.Get(cacheKey); ok {
			var list []Document
			if err := json.Unmarshal(raw, &list); err == nil {
				return migrateHistory(list), nil
			}
			s.Cache.Invalidate(cacheKey)
		}
	}

	raw, err := s.KV.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return []Document{}, nil
		}
		return nil, err
	}

	var list []Document
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, kv.NewStorageError("decode", key, err)
	}
	if s.Cache != nil {
		s.Cache.Set(cacheKey, raw)
	}
	return migrateHistory(list), nil
}

func (s *Service) save(ctx context.Context, projectID string, list []Document) error {
	key := storageKeyPrefix + projectID
	raw, err := json.Marshal(list)
	if err != nil {
		return kv.NewStorageError("encode", key, err)
	}
	if err := s.KV.Set(ctx, key, raw); err != nil {
		return err
	}
	if s.Cache != nil {
		s.Cache.Invalidate(cacheKeyPrefix + projectID)
	}
	return nil
}

// releaseBlob is best-effort; a dangling blob is logged and left for a
// later cleanup pass rather than failing the lifecycle operation.
func (s *Service) releaseBlob(ctx context.Context, projectID, storageKey string) {
	if s.Blobs == nil || storageKey == "" {
		return
	}
	if err := s.Blobs.Delete(ctx, storageKey); err != nil {
		telemetry.Warn("documents.release_blob", map[string]any{
			"project_id":  projectID,
			"storage_key": storageKey,
			"error":       err.Error(),
		})
	}
}

// migrateHistory backfills lifecycle fields on documents persisted before
// history tracking existed: a synthetic single-entry history at CreatedAt.
func migrateHistory(list []Document) []Document {
	for i := range list {
		if list[i].Status == "" {
			list[i].Status = StatusUploaded
		}
		if len(list[i].StatusHistory) == 0 {
			list[i].StatusHistory = []StatusChange{
				{Status: list[i].Status, Timestamp: list[i].CreatedAt},
			}
		}
	}
	return list
}

func indexOf(list []Document, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func countLive(list []Document) int {
	n := 0
	for _, doc := range list {
		if doc.Status != StatusDeleted {
			n++
		}
	}
	return n
}

// disambiguateName appends " (n)" before the extension until the name is
// unique among the project's non-deleted documents.
func disambiguateName(name string, list []Document) string {
	taken := make(map[string]struct{}, len(list))
	for _, doc := range list {
		if doc.Status != StatusDeleted {
			taken[doc.Name] = struct{}{}
		}
	}
	if _, ok := taken[name]; !ok {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
