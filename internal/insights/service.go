package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"insight-backend/internal/cache"
	"insight-backend/internal/kv"
	"insight-backend/internal/shared/telemetry"
)

const (
	storageKeyPrefix = "project_insights_"
	cacheKeyPrefix   = "insights-"
)

// DocumentTracker is the slice of the document lifecycle store the insight
// store needs: which documents still exist, and advancing referenced
// documents toward analyzed. Kept as an interface so the packages do not
// depend on each other's internals.
type DocumentTracker interface {
	ExistingIDs(ctx context.Context, projectID string) (map[string]struct{}, error)
	MarkAnalyzed(ctx context.Context, projectID string, documentIDs []string)
}

// Service contains business logic for insights.
type Service struct {
	KV    kv.Store
	Cache *cache.Cache
	Docs  DocumentTracker
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(store kv.Store, c *cache.Cache, docs DocumentTracker) *Service {
	return &Service{KV: store, Cache: c, Docs: docs, now: time.Now}
}

type envelope struct {
	Insights []Insight `json:"insights"`
}

// ListByProject returns all insights for a project. A backing-medium failure
// is logged and reported as an empty set so the UI never dead-ends.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]Insight, error) {
	if projectID == "" {
		return nil, ErrInvalidInput
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		var storageErr *kv.StorageError
		if errors.As(err, &storageErr) {
			telemetry.Warn("insights.load", map[string]any{
				"project_id": projectID,
				"error":      storageErr.Error(),
			})
			return []Insight{}, nil
		}
		return nil, err
	}
	return list, nil
}

// Create validates, stamps and persists a new insight, then best-effort
// advances its source documents toward analyzed.
func (s *Service) Create(ctx context.Context, projectID string, ins Insight, sourceDocumentIDs []string) (Insight, error) {
	if projectID == "" {
		return Insight{}, ErrInvalidInput
	}
	if err := validate(&ins); err != nil {
		return Insight{}, err
	}

	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}
	ins.ProjectID = projectID
	ins.GeneratedAt = s.now().UTC()
	ins.UpdatedAt = nil
	if len(sourceDocumentIDs) > 0 {
		ins.SourceDocumentIDs = dedupIDs(sourceDocumentIDs)
	}

	list, err := s.load(ctx, projectID)
	if err != nil {
		return Insight{}, err
	}
	list = append(list, ins)
	if err := s.save(ctx, projectID, list); err != nil {
		return Insight{}, err
	}

	s.associate(ctx, projectID, ins.SourceDocumentIDs)
	return ins, nil
}

// Patch holds the updatable fields of an insight; nil means "leave as is".
type Patch struct {
	Category          *Category
	Title             *string
	Summary           *string
	Details           *string
	Evidence          *string
	Recommendations   *string
	DataPoints        *[]string
	Sources           *[]SourceRef
	Confidence        *int
	NeedsReview       *bool
	SourceDocumentIDs *[]string
}

// Update merges patch into an existing insight and stamps UpdatedAt. When the
// patch carries SourceDocumentIDs the association set is replaced.
func (s *Service) Update(ctx context.Context, projectID, id string, patch Patch) (Insight, error) {
	if projectID == "" || id == "" {
		return Insight{}, ErrInvalidInput
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		return Insight{}, err
	}

	idx := indexOf(list, id)
	if idx < 0 {
		return Insight{}, ErrNotFound
	}

	ins := list[idx]
	if patch.Category != nil {
		if !patch.Category.Valid() {
			return Insight{}, fmt.Errorf("%w: category", ErrInvalidInput)
		}
		ins.Category = *patch.Category
	}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return Insight{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
		}
		ins.Content.Title = *patch.Title
	}
	if patch.Summary != nil {
		if strings.TrimSpace(*patch.Summary) == "" {
			return Insight{}, fmt.Errorf("%w: summary is required", ErrInvalidInput)
		}
		ins.Content.Summary = *patch.Summary
	}
	if patch.Details != nil {
		ins.Content.Details = *patch.Details
	}
	if patch.Evidence != nil {
		ins.Content.Evidence = *patch.Evidence
	}
	if patch.Recommendations != nil {
		ins.Content.Recommendations = *patch.Recommendations
	}
	if patch.DataPoints != nil {
		ins.Content.DataPoints = *patch.DataPoints
	}
	if patch.Sources != nil {
		ins.Content.Sources = *patch.Sources
	}
	if patch.Confidence != nil {
		ins.Confidence = ClampConfidence(*patch.Confidence)
	}
	// Only a confidence or explicit flag change may recompute NeedsReview;
	// an unrelated edit must not clear a flag a user set by hand.
	if patch.NeedsReview != nil || patch.Confidence != nil {
		ins.NeedsReview = DeriveNeedsReview(ins.Confidence, patch.NeedsReview)
	}
	if patch.SourceDocumentIDs != nil {
		ins.SourceDocumentIDs = dedupIDs(*patch.SourceDocumentIDs)
	}
	updatedAt := s.now().UTC()
	ins.UpdatedAt = &updatedAt

	list[idx] = ins
	if err := s.save(ctx, projectID, list); err != nil {
		return Insight{}, err
	}

	if patch.SourceDocumentIDs != nil {
		s.associate(ctx, projectID, ins.SourceDocumentIDs)
	}
	return ins, nil
}

// Delete removes an insight. Returns false when the id is unknown.
func (s *Service) Delete(ctx context.Context, projectID, id string) (bool, error) {
	if projectID == "" || id == "" {
		return false, ErrInvalidInput
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		return false, err
	}
	idx := indexOf(list, id)
	if idx < 0 {
		return false, nil
	}
	list = append(list[:idx], list[idx+1:]...)
	if err := s.save(ctx, projectID, list); err != nil {
		return false, err
	}
	return true, nil
}

// AssociateDocuments replaces an insight's association set. Idempotent.
func (s *Service) AssociateDocuments(ctx context.Context, projectID, id string, documentIDs []string) (bool, error) {
	if projectID == "" || id == "" {
		return false, ErrInvalidInput
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		return false, err
	}
	idx := indexOf(list, id)
	if idx < 0 {
		return false, nil
	}
	list[idx].SourceDocumentIDs = dedupIDs(documentIDs)
	if err := s.save(ctx, projectID, list); err != nil {
		return false, err
	}
	s.associate(ctx, projectID, list[idx].SourceDocumentIDs)
	return true, nil
}

// ReplaceBySource swaps the project's insight batch for one source tag.
// Last writer wins within a source, with one exception: a fallback batch
// never replaces live non-fallback insights, while a late real result always
// supersedes a fallback batch. Returns whether the batch was applied.
func (s *Service) ReplaceBySource(ctx context.Context, projectID string, source Source, batch []Insight, fromFallback bool) (bool, error) {
	if projectID == "" || !source.Valid() {
		return false, ErrInvalidInput
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		return false, err
	}

	kept := make([]Insight, 0, len(list))
	for _, ins := range list {
		if ins.Source != source {
			kept = append(kept, ins)
			continue
		}
		if fromFallback && !ins.UsingFallback {
			// A real result already landed for this source; the fallback
			// batch loses.
			return false, nil
		}
	}

	now := s.now().UTC()
	for i := range batch {
		if err := validate(&batch[i]); err != nil {
			return false, err
		}
		if batch[i].ID == "" {
			batch[i].ID = uuid.NewString()
		}
		batch[i].ProjectID = projectID
		batch[i].Source = source
		batch[i].UsingFallback = fromFallback
		batch[i].GeneratedAt = now
	}
	kept = append(kept, batch...)

	if err := s.save(ctx, projectID, kept); err != nil {
		return false, err
	}
	for _, ins := range batch {
		s.associate(ctx, projectID, ins.SourceDocumentIDs)
	}
	return true, nil
}

// CleanupOrphaned deletes every insight whose declared source documents have
// all been removed. Insights with no declared source documents are never
// considered orphaned.
func (s *Service) CleanupOrphaned(ctx context.Context, projectID string) (int, error) {
	if projectID == "" {
		return 0, ErrInvalidInput
	}
	list, err := s.load(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if len(list) == 0 {
		return 0, nil
	}

	existing, err := s.Docs.ExistingIDs(ctx, projectID)
	if err != nil {
		return 0, err
	}

	kept := make([]Insight, 0, len(list))
	removed := 0
	for _, ins := range list {
		if len(ins.SourceDocumentIDs) == 0 {
			kept = append(kept, ins)
			continue
		}
		alive := false
		for _, docID := range ins.SourceDocumentIDs {
			if _, ok := existing[docID]; ok {
				alive = true
				break
			}
		}
		if alive {
			kept = append(kept, ins)
		} else {
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}
	if err := s.save(ctx, projectID, kept); err != nil {
		return 0, err
	}
	telemetry.Info("insights.cleanup", map[string]any{
		"project_id": projectID,
		"removed":    removed,
	})
	return removed, nil
}

func (s *Service) load(ctx context.Context, projectID string) ([]Insight, error) {
	key := storageKeyPrefix + projectID
	cacheKey := cacheKeyPrefix + projectID

	if s.Cache != nil {
		if raw, ok := s.Cache.Get(cacheKey); ok {
			var env envelope
			if err := json.Unmarshal(raw, &env); err == nil {
				return env.Insights, nil
			}
			// A stale or corrupt cache entry must not poison reads.
			s.Cache.Invalidate(cacheKey)
		}
	}

	raw, err := s.KV.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return []Insight{}, nil
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, kv.NewStorageError("decode", key, err)
	}
	if s.Cache != nil {
		s.Cache.Set(cacheKey, raw)
	}
	return env.Insights, nil
}

func (s *Service) save(ctx context.Context, projectID string, list []Insight) error {
	key := storageKeyPrefix + projectID
	raw, err := json.Marshal(envelope{Insights: list})
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

// associate best-effort advances referenced documents toward analyzed; a
// missing document id is the tracker's problem to log, never a write failure.
func (s *Service) associate(ctx context.Context, projectID string, documentIDs []string) {
	if s.Docs == nil || len(documentIDs) == 0 {
		return
	}
	s.Docs.MarkAnalyzed(ctx, projectID, documentIDs)
}

func validate(ins *Insight) error {
	if !ins.Category.Valid() {
		return fmt.Errorf("%w: category %q", ErrInvalidInput, ins.Category)
	}
	if strings.TrimSpace(ins.Content.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(ins.Content.Summary) == "" {
		return fmt.Errorf("%w: summary is required", ErrInvalidInput)
	}
	if ins.Source == "" {
		ins.Source = SourceDocument
	}
	if !ins.Source.Valid() {
		return fmt.Errorf("%w: source %q", ErrInvalidInput, ins.Source)
	}
	ins.Confidence = ClampConfidence(ins.Confidence)
	ins.NeedsReview = DeriveNeedsReview(ins.Confidence, boolPtrIf(ins.NeedsReview))
	return nil
}

// boolPtrIf treats an explicit true as binding; false falls back to the
// confidence rule.
func boolPtrIf(explicit bool) *bool {
	if explicit {
		return &explicit
	}
	return nil
}

func indexOf(list []Insight, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func dedupIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
