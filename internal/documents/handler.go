package documents

import (
	"errors"
	"net/http"
	"time"

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

// RegisterRoutes attaches document routes to the project-scoped group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.upload)
	rg.GET("/documents", h.list)
	rg.PATCH("/documents/:id/status", h.updateStatus)
	rg.DELETE("/documents/:id", h.remove)
	rg.POST("/documents/cleanup", h.cleanup)
}

// upload accepts a multipart batch. Each file succeeds or fails on its own;
// a rejected file never blocks the rest of the batch.
func (h *Handler) upload(c *gin.Context) {
	projectID := c.Param("projectId")
	maxBody := h.Svc.limits.MaxUploadBytes*int64(h.Svc.limits.MaxDocuments) + (1 << 20)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

	form, err := c.MultipartForm()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "multipart form is required", nil)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "at least one file is required", nil)
		return
	}

	result := UploadResult{Uploaded: []DocumentResponse{}}
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			result.Failed = append(result.Failed, UploadFailure{
				FileName: header.Filename,
				Code:     ErrorCodeValidation,
				Message:  "unable to read file",
			})
			continue
		}

		meta := FileMeta{
			Name:      header.Filename,
			SizeBytes: header.Size,
			MimeType:  header.Header.Get("Content-Type"),
		}
		doc, err := h.Svc.Upload(c.Request.Context(), projectID, meta, file)
		file.Close()
		if err != nil {
			result.Failed = append(result.Failed, toUploadFailure(header.Filename, err))
			continue
		}
		result.Uploaded = append(result.Uploaded, toResponse(doc))
	}

	status := http.StatusCreated
	if len(result.Uploaded) == 0 {
		status = http.StatusBadRequest
	}
	respond.JSON(c, status, result)
}

func toUploadFailure(fileName string, err error) UploadFailure {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return UploadFailure{FileName: vErr.FileName, Code: ErrorCodeValidation, Message: vErr.Reason}
	}
	var cErr *CapacityError
	if errors.As(err, &cErr) {
		return UploadFailure{FileName: fileName, Code: ErrorCodeCapacity, Message: cErr.Error()}
	}
	return UploadFailure{FileName: fileName, Code: ErrorCodeStorage, Message: "failed to store file"}
}

func (h *Handler) list(c *gin.Context) {
	projectID := c.Param("projectId")

	docs, err := h.Svc.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to list documents", nil)
		}
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, toResponse(doc))
	}
	respond.JSON(c, http.StatusOK, gin.H{"documents": resp})
}

type updateStatusRequest struct {
	Status          string `json:"status"`
	ProcessingError string `json:"processingError"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	projectID := c.Param("projectId")
	id := c.Param("id")
	c.Set("documentId", id)

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}

	doc, err := h.Svc.UpdateStatus(c.Request.Context(), projectID, id, Status(req.Status), req.ProcessingError)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "document not found", nil)
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to update status", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, toResponse(doc))
}

func (h *Handler) remove(c *gin.Context) {
	projectID := c.Param("projectId")
	id := c.Param("id")
	c.Set("documentId", id)

	removed, err := h.Svc.Remove(c.Request.Context(), projectID, id)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to remove document", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{"removed": removed})
}

type cleanupRequest struct {
	MaxAgeHours int `json:"maxAgeHours"`
}

func (h *Handler) cleanup(c *gin.Context) {
	projectID := c.Param("projectId")

	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MaxAgeHours <= 0 {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "maxAgeHours must be positive", nil)
		return
	}

	removed, err := h.Svc.CleanupOlderThan(c.Request.Context(), projectID, time.Duration(req.MaxAgeHours)*time.Hour)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to clean up documents", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{"removed": removed})
}
