package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"insight-backend/internal/insights"
)

// providerInsight is the shape the remote provider is asked to emit.
// Unknown fields are rejected so a drifting provider schema fails loudly at
// the ingestion boundary instead of leaking untyped content downstream.
type providerInsight struct {
	Category          insights.Category    `json:"category"`
	Title             string               `json:"title"`
	Summary           string               `json:"summary"`
	Details           string               `json:"details,omitempty"`
	Evidence          string               `json:"evidence,omitempty"`
	Recommendations   string               `json:"recommendations,omitempty"`
	DataPoints        []string             `json:"dataPoints,omitempty"`
	Sources           []insights.SourceRef `json:"sources,omitempty"`
	Confidence        int                  `json:"confidence"`
	NeedsReview       *bool                `json:"needsReview,omitempty"`
	SourceDocumentIDs []string             `json:"sourceDocumentIds,omitempty"`
}

type providerPayload struct {
	Insights []providerInsight `json:"insights"`
}

// parseProviderPayload validates the raw provider response and converts it
// into insight entities tagged with the run's source.
func parseProviderPayload(raw json.RawMessage, source insights.Source) ([]insights.Insight, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var payload providerPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if len(payload.Insights) == 0 {
		return nil, fmt.Errorf("provider response contains no insights")
	}

	batch := make([]insights.Insight, 0, len(payload.Insights))
	for i, pi := range payload.Insights {
		if !pi.Category.Valid() {
			return nil, fmt.Errorf("insight %d: unknown category %q", i, pi.Category)
		}
		if strings.TrimSpace(pi.Title) == "" {
			return nil, fmt.Errorf("insight %d: missing title", i)
		}
		if strings.TrimSpace(pi.Summary) == "" {
			return nil, fmt.Errorf("insight %d: missing summary", i)
		}
		confidence := insights.ClampConfidence(pi.Confidence)
		batch = append(batch, insights.Insight{
			Category: pi.Category,
			Content: insights.Content{
				Title:           pi.Title,
				Summary:         pi.Summary,
				Details:         pi.Details,
				Evidence:        pi.Evidence,
				Recommendations: pi.Recommendations,
				DataPoints:      pi.DataPoints,
				Sources:         pi.Sources,
			},
			Confidence:        confidence,
			NeedsReview:       insights.DeriveNeedsReview(confidence, pi.NeedsReview),
			Source:            source,
			SourceDocumentIDs: pi.SourceDocumentIDs,
		})
	}
	return batch, nil
}
