package documents

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is a document's lifecycle state. The set is closed; unknown values
// are rejected when decoding instead of silently defaulting.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploaded  Status = "uploaded"
	StatusProcessed Status = "processed"
	StatusAnalyzed  Status = "analyzed"
	StatusError     Status = "error"
	StatusDeleted   Status = "deleted"
)

var validStatuses = map[Status]struct{}{
	StatusPending:   {},
	StatusUploaded:  {},
	StatusProcessed: {},
	StatusAnalyzed:  {},
	StatusError:     {},
	StatusDeleted:   {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusDeleted
}

// UnmarshalJSON rejects unknown statuses at the decode boundary.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	candidate := Status(raw)
	if !candidate.Valid() {
		return fmt.Errorf("unknown document status %q", raw)
	}
	*s = candidate
	return nil
}

// StatusChange is one append-only history entry.
type StatusChange struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
