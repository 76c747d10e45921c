package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashStorageKey returns a filesystem-safe identifier for a project ID.
func HashStorageKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashRequestKey derives a deterministic orchestration key from the logical
// parts of a request, so identical concurrent requests deduplicate.
func HashRequestKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
