package util

import (
	"errors"
	"strings"
	"unicode"
)

// SanitizeFileName removes path separators and control characters and
// rejects traversal patterns. The result is safe to embed in a storage key.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, s)
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}
