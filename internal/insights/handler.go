package insights

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"insight-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches insight routes to the project-scoped group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/insights", h.list)
	rg.POST("/insights", h.create)
	rg.PATCH("/insights/:id", h.update)
	rg.DELETE("/insights/:id", h.remove)
	rg.PUT("/insights/:id/documents", h.associate)
	rg.POST("/insights/cleanup", h.cleanup)
}

func (h *Handler) list(c *gin.Context) {
	projectID := c.Param("projectId")

	list, err := h.Svc.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to list insights", nil)
		}
		return
	}

	resp := make([]InsightResponse, 0, len(list))
	for _, ins := range list {
		resp = append(resp, toResponse(ins))
	}
	respond.JSON(c, http.StatusOK, gin.H{"insights": resp})
}

func (h *Handler) create(c *gin.Context) {
	projectID := c.Param("projectId")

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}

	ins, err := h.Svc.Create(c.Request.Context(), projectID, req.toInsight(), req.SourceDocumentIDs)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to create insight", nil)
		}
		return
	}

	respond.JSON(c, http.StatusCreated, toResponse(ins))
}

func (h *Handler) update(c *gin.Context) {
	projectID := c.Param("projectId")
	id := c.Param("id")

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}

	ins, err := h.Svc.Update(c.Request.Context(), projectID, id, req.toPatch())
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "insight not found", nil)
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to update insight", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, toResponse(ins))
}

func (h *Handler) remove(c *gin.Context) {
	projectID := c.Param("projectId")
	id := c.Param("id")

	removed, err := h.Svc.Delete(c.Request.Context(), projectID, id)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to delete insight", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{"removed": removed})
}

type associateRequest struct {
	DocumentIDs []string `json:"documentIds"`
}

func (h *Handler) associate(c *gin.Context) {
	projectID := c.Param("projectId")
	id := c.Param("id")

	var req associateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}

	ok, err := h.Svc.AssociateDocuments(c.Request.Context(), projectID, id, req.DocumentIDs)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to associate documents", nil)
		}
		return
	}
	if !ok {
		respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "insight not found", nil)
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{"associated": true})
}

func (h *Handler) cleanup(c *gin.Context) {
	projectID := c.Param("projectId")

	removed, err := h.Svc.CleanupOrphaned(c.Request.Context(), projectID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to clean up insights", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{"removed": removed})
}
