package insights

import "errors"

var (
	ErrNotFound     = errors.New("insight not found")
	ErrInvalidInput = errors.New("invalid insight input")
)

const (
	ErrorCodeValidation = "VALIDATION_ERROR"
	ErrorCodeStorage    = "STORAGE_ERROR"
	ErrorCodeNotFound   = "NOT_FOUND"
)
