package insights

import "time"

// SourceRefPayload mirrors SourceRef on the wire.
type SourceRefPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Relevance string `json:"relevance"`
}

// CreateRequest is the body for creating an insight by hand.
type CreateRequest struct {
	Category          string             `json:"category"`
	Title             string             `json:"title"`
	Summary           string             `json:"summary"`
	Details           string             `json:"details"`
	Evidence          string             `json:"evidence"`
	Recommendations   string             `json:"recommendations"`
	DataPoints        []string           `json:"dataPoints"`
	Sources           []SourceRefPayload `json:"sources"`
	Confidence        int                `json:"confidence"`
	NeedsReview       bool               `json:"needsReview"`
	Source            string             `json:"source"`
	SourceDocumentIDs []string           `json:"sourceDocumentIds"`
}

func (r CreateRequest) toInsight() Insight {
	sources := make([]SourceRef, 0, len(r.Sources))
	for _, s := range r.Sources {
		sources = append(sources, SourceRef{ID: s.ID, Name: s.Name, Relevance: s.Relevance})
	}
	return Insight{
		Category: Category(r.Category),
		Content: Content{
			Title:           r.Title,
			Summary:         r.Summary,
			Details:         r.Details,
			Evidence:        r.Evidence,
			Recommendations: r.Recommendations,
			DataPoints:      r.DataPoints,
			Sources:         sources,
		},
		Confidence:  r.Confidence,
		NeedsReview: r.NeedsReview,
		Source:      Source(r.Source),
	}
}

// UpdateRequest carries optional fields; absent fields are left untouched.
type UpdateRequest struct {
	Category          *string             `json:"category"`
	Title             *string             `json:"title"`
	Summary           *string             `json:"summary"`
	Details           *string             `json:"details"`
	Evidence          *string             `json:"evidence"`
	Recommendations   *string             `json:"recommendations"`
	DataPoints        *[]string           `json:"dataPoints"`
	Sources           *[]SourceRefPayload `json:"sources"`
	Confidence        *int                `json:"confidence"`
	NeedsReview       *bool               `json:"needsReview"`
	SourceDocumentIDs *[]string           `json:"sourceDocumentIds"`
}

func (r UpdateRequest) toPatch() Patch {
	patch := Patch{
		Title:             r.Title,
		Summary:           r.Summary,
		Details:           r.Details,
		Evidence:          r.Evidence,
		Recommendations:   r.Recommendations,
		DataPoints:        r.DataPoints,
		Confidence:        r.Confidence,
		NeedsReview:       r.NeedsReview,
		SourceDocumentIDs: r.SourceDocumentIDs,
	}
	if r.Category != nil {
		category := Category(*r.Category)
		patch.Category = &category
	}
	if r.Sources != nil {
		sources := make([]SourceRef, 0, len(*r.Sources))
		for _, s := range *r.Sources {
			sources = append(sources, SourceRef{ID: s.ID, Name: s.Name, Relevance: s.Relevance})
		}
		patch.Sources = &sources
	}
	return patch
}

// InsightResponse is the outward-facing representation of an insight.
type InsightResponse struct {
	InsightID         string             `json:"insightId"`
	Category          string             `json:"category"`
	Title             string             `json:"title"`
	Summary           string             `json:"summary"`
	Details           string             `json:"details,omitempty"`
	Evidence          string             `json:"evidence,omitempty"`
	Recommendations   string             `json:"recommendations,omitempty"`
	DataPoints        []string           `json:"dataPoints,omitempty"`
	Sources           []SourceRefPayload `json:"sources,omitempty"`
	Confidence        int                `json:"confidence"`
	NeedsReview       bool               `json:"needsReview"`
	Source            string             `json:"source"`
	SourceDocumentIDs []string           `json:"sourceDocumentIds,omitempty"`
	UsingFallback     bool               `json:"usingFallback,omitempty"`
	GeneratedAt       time.Time          `json:"generatedAt"`
	UpdatedAt         *time.Time         `json:"updatedAt,omitempty"`
}

func toResponse(ins Insight) InsightResponse {
	sources := make([]SourceRefPayload, 0, len(ins.Content.Sources))
	for _, s := range ins.Content.Sources {
		sources = append(sources, SourceRefPayload{ID: s.ID, Name: s.Name, Relevance: s.Relevance})
	}
	return InsightResponse{
		InsightID:         ins.ID,
		Category:          string(ins.Category),
		Title:             ins.Content.Title,
		Summary:           ins.Content.Summary,
		Details:           ins.Content.Details,
		Evidence:          ins.Content.Evidence,
		Recommendations:   ins.Content.Recommendations,
		DataPoints:        ins.Content.DataPoints,
		Sources:           sources,
		Confidence:        ins.Confidence,
		NeedsReview:       ins.NeedsReview,
		Source:            string(ins.Source),
		SourceDocumentIDs: ins.SourceDocumentIDs,
		UsingFallback:     ins.UsingFallback,
		GeneratedAt:       ins.GeneratedAt,
		UpdatedAt:         ins.UpdatedAt,
	}
}
