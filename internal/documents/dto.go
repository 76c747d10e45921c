package documents

import "time"

// StatusChangeResponse is one outward-facing history entry.
type StatusChangeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID      string                 `json:"documentId"`
	Name            string                 `json:"name"`
	MimeType        string                 `json:"mimeType"`
	SizeBytes       int64                  `json:"sizeBytes"`
	Priority        int                    `json:"priority"`
	Status          string                 `json:"status"`
	StatusHistory   []StatusChangeResponse `json:"statusHistory"`
	ProcessingError string                 `json:"processingError,omitempty"`
	UploadedBy      string                 `json:"uploadedBy,omitempty"`
	UploadedAt      time.Time              `json:"uploadedAt"`
}

func toResponse(doc Document) DocumentResponse {
	history := make([]StatusChangeResponse, 0, len(doc.StatusHistory))
	for _, change := range doc.StatusHistory {
		history = append(history, StatusChangeResponse{
			Status:    string(change.Status),
			Timestamp: change.Timestamp,
		})
	}
	return DocumentResponse{
		DocumentID:      doc.ID,
		Name:            doc.Name,
		MimeType:        doc.MimeType,
		SizeBytes:       doc.SizeBytes,
		Priority:        doc.Priority,
		Status:          string(doc.Status),
		StatusHistory:   history,
		ProcessingError: doc.ProcessingError,
		UploadedBy:      doc.UploadedBy,
		UploadedAt:      doc.CreatedAt,
	}
}

// UploadFailure reports one rejected file in a batch upload.
type UploadFailure struct {
	FileName string `json:"fileName"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// UploadResult is the per-file outcome of a batch upload.
type UploadResult struct {
	Uploaded []DocumentResponse `json:"uploaded"`
	Failed   []UploadFailure    `json:"failed,omitempty"`
}
