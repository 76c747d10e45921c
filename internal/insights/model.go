package insights

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category classifies an insight. The set is closed; unknown values are
// rejected when decoding so a corrupted record or misbehaving provider cannot
// smuggle in an unchecked state.
type Category string

const (
	CategoryMarket      Category = "market"
	CategoryCompetitive Category = "competitive"
	CategoryRisk        Category = "risk"
	CategoryOpportunity Category = "opportunity"
	CategoryFinancial   Category = "financial"
	CategoryOperational Category = "operational"
)

var validCategories = map[Category]struct{}{
	CategoryMarket:      {},
	CategoryCompetitive: {},
	CategoryRisk:        {},
	CategoryOpportunity: {},
	CategoryFinancial:   {},
	CategoryOperational: {},
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := validCategories[c]
	return ok
}

// UnmarshalJSON rejects unknown categories at the decode boundary.
func (c *Category) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	candidate := Category(raw)
	if !candidate.Valid() {
		return fmt.Errorf("unknown insight category %q", raw)
	}
	*c = candidate
	return nil
}

// Source distinguishes document-sourced from website-sourced batches so they
// never clobber each other.
type Source string

const (
	SourceDocument Source = "document"
	SourceWebsite  Source = "website"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceDocument || s == SourceWebsite
}

// UnmarshalJSON rejects unknown sources at the decode boundary.
func (s *Source) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	candidate := Source(raw)
	if !candidate.Valid() {
		return fmt.Errorf("unknown insight source %q", raw)
	}
	*s = candidate
	return nil
}

// SourceRef names an external reference backing an insight.
type SourceRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Relevance string `json:"relevance"`
}

// Content is the structured body of an insight. Title and Summary are
// required; everything else is optional.
type Content struct {
	Title           string      `json:"title"`
	Summary         string      `json:"summary"`
	Details         string      `json:"details,omitempty"`
	Evidence        string      `json:"evidence,omitempty"`
	Recommendations string      `json:"recommendations,omitempty"`
	DataPoints      []string    `json:"dataPoints,omitempty"`
	Sources         []SourceRef `json:"sources,omitempty"`
}

// reviewThreshold is the confidence below which an insight defaults to
// needing human review.
const reviewThreshold = 85

// Insight is an AI- or fallback-generated finding shown to the user.
type Insight struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"projectId"`
	Category          Category   `json:"category"`
	Content           Content    `json:"content"`
	Confidence        int        `json:"confidence"`
	NeedsReview       bool       `json:"needsReview"`
	Source            Source     `json:"source"`
	SourceDocumentIDs []string   `json:"sourceDocumentIds,omitempty"`
	UsingFallback     bool       `json:"usingFallback,omitempty"`
	GeneratedAt       time.Time  `json:"generatedAt"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty"`
}

// DeriveNeedsReview applies the default review rule: explicit flags win,
// otherwise low confidence requires review.
func DeriveNeedsReview(confidence int, explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	return confidence < reviewThreshold
}

// ClampConfidence bounds a confidence score to 0-100.
func ClampConfidence(confidence int) int {
	if confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return confidence
}
