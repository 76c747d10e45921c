package documents

import "time"

// Document represents an uploaded client document owned by a project.
// StatusHistory is append-only; its last entry always matches Status.
type Document struct {
	ID              string         `json:"id"`
	ProjectID       string         `json:"projectId"`
	Name            string         `json:"name"`
	SizeBytes       int64          `json:"size"`
	MimeType        string         `json:"mimeType"`
	CreatedAt       time.Time      `json:"createdAt"`
	UploadedBy      string         `json:"uploadedBy,omitempty"`
	Priority        int            `json:"priority"`
	Status          Status         `json:"status"`
	StatusHistory   []StatusChange `json:"statusHistory"`
	ProcessingError string         `json:"processingError,omitempty"`
	StorageKey      string         `json:"storageKey,omitempty"`
}

// FileMeta is the caller-supplied description of an upload.
type FileMeta struct {
	Name       string
	SizeBytes  int64
	MimeType   string
	UploadedBy string
	Priority   int
}
