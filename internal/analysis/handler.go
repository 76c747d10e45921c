package analysis

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"insight-backend/internal/documents"
	"insight-backend/internal/extract"
	"insight-backend/internal/insights"
	"insight-backend/internal/llm"
	"insight-backend/internal/shared/server/respond"
	"insight-backend/internal/shared/storage/object"
	"insight-backend/internal/shared/telemetry"
)

const (
	errorCodeValidation = "VALIDATION_ERROR"
	errorCodeNotFound   = "NOT_FOUND"
	errorCodeStorage    = "STORAGE_ERROR"
)

// Handler wires HTTP handlers to the coordinator.
type Handler struct {
	Coord *Coordinator
	Docs  *documents.Service
	Blobs object.ObjectStore
}

// NewHandler constructs a Handler.
func NewHandler(coord *Coordinator, docs *documents.Service, blobs object.ObjectStore) *Handler {
	return &Handler{Coord: coord, Docs: docs, Blobs: blobs}
}

// RegisterRoutes attaches analysis routes to the project-scoped group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.start)
	rg.GET("/analyses/:id", h.poll)
}

type startRequest struct {
	Source      string   `json:"source"`
	Industry    string   `json:"industry"`
	WebsiteURL  string   `json:"websiteUrl"`
	DocumentIDs []string `json:"documentIds"`
}

func (h *Handler) start(c *gin.Context) {
	projectID := c.Param("projectId")

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, errorCodeValidation, "invalid request body", nil)
		return
	}

	in := Input{
		Source:      insights.Source(req.Source),
		Industry:    req.Industry,
		WebsiteURL:  req.WebsiteURL,
		DocumentIDs: req.DocumentIDs,
	}
	if in.Source == "" {
		in.Source = insights.SourceDocument
	}

	if in.Source == insights.SourceDocument {
		docs, ids, err := h.selectDocuments(c, projectID, req.DocumentIDs)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, errorCodeStorage, "failed to load documents", nil)
			return
		}
		if len(docs) == 0 {
			respond.Error(c, http.StatusBadRequest, errorCodeValidation, "no documents available to analyze", nil)
			return
		}
		in.Documents = docs
		in.DocumentIDs = ids
	}

	run, err := h.Coord.Start(c.Request.Context(), projectID, in)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, errorCodeValidation, err.Error(), nil)
		return
	}

	c.Set("runId", run.ID)
	respond.JSON(c, http.StatusAccepted, toRunResponse(run))
}

func (h *Handler) poll(c *gin.Context) {
	projectID := c.Param("projectId")
	runID := c.Param("id")
	c.Set("runId", runID)

	run, ok, err := h.Coord.GetRun(c.Request.Context(), projectID, runID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, errorCodeStorage, "failed to load analysis run", nil)
		return
	}
	if !ok {
		respond.Error(c, http.StatusNotFound, errorCodeNotFound, "analysis run not found", nil)
		return
	}

	respond.JSON(c, http.StatusOK, toRunResponse(run))
}

// selectDocuments resolves the requested document ids (all non-deleted
// documents when none are named) and extracts their text for the prompt. A
// document whose text cannot be extracted is skipped with a log line rather
// than failing the run.
func (h *Handler) selectDocuments(c *gin.Context, projectID string, requested []string) ([]llm.DocumentInput, []string, error) {
	ctx := c.Request.Context()
	all, err := h.Docs.ListByProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}

	wanted := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		wanted[id] = struct{}{}
	}

	inputs := make([]llm.DocumentInput, 0, len(all))
	ids := make([]string, 0, len(all))
	for _, doc := range all {
		if len(wanted) > 0 {
			if _, ok := wanted[doc.ID]; !ok {
				continue
			}
		}
		text, err := extract.ExtractText(ctx, h.Blobs, doc.StorageKey, doc.MimeType, doc.Name)
		if err != nil {
			telemetry.Warn("analysis.extract", map[string]any{
				"project_id":  projectID,
				"document_id": doc.ID,
				"error":       err.Error(),
			})
			continue
		}
		inputs = append(inputs, llm.DocumentInput{
			ID:       doc.ID,
			Name:     doc.Name,
			Priority: doc.Priority,
			Text:     text,
		})
		ids = append(ids, doc.ID)
	}
	return inputs, ids, nil
}

// RunResponse is the outward-facing representation of an analysis run.
type RunResponse struct {
	RunID         string `json:"runId"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	Message       string `json:"message,omitempty"`
	Source        string `json:"source"`
	UsingFallback bool   `json:"usingFallback,omitempty"`
	InsightCount  int    `json:"insightCount,omitempty"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"startedAt"`
	CompletedAt   string `json:"completedAt,omitempty"`
}

func toRunResponse(run Run) RunResponse {
	resp := RunResponse{
		RunID:         run.ID,
		Status:        string(run.Status),
		Progress:      run.Progress,
		Message:       run.Message,
		Source:        run.Source,
		UsingFallback: run.UsingFallback,
		InsightCount:  run.InsightCount,
		Error:         run.Error,
		StartedAt:     run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return resp
}
