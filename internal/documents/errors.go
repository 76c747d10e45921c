package documents

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidInput = errors.New("invalid document input")
)

const (
	ErrorCodeValidation = "VALIDATION_ERROR"
	ErrorCodeCapacity   = "CAPACITY_ERROR"
	ErrorCodeStorage    = "STORAGE_ERROR"
	ErrorCodeNotFound   = "NOT_FOUND"
)

// ValidationError rejects a single file, carrying its name so batch uploads
// can report per-file failures.
type ValidationError struct {
	FileName string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid file %q: %s", e.FileName, e.Reason)
}

// CapacityError rejects an upload because the project is full. Never retried.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("project document limit reached (%d)", e.Limit)
}
