package analysis

import (
	"encoding/json"
	"testing"

	"insight-backend/internal/insights"
)

func TestParseProviderPayload(t *testing.T) {
	raw := json.RawMessage(`{
		"insights": [
			{
				"category": "market",
				"title": "Demand shift",
				"summary": "Demand is consolidating around two segments.",
				"details": "Longer narrative.",
				"dataPoints": ["segment A +12%", "segment B +7%"],
				"sources": [{"id": "d1", "name": "plan.pdf", "relevance": "primary"}],
				"confidence": 90,
				"sourceDocumentIds": ["d1"]
			},
			{
				"category": "risk",
				"title": "Concentration risk",
				"summary": "One customer is 40% of revenue.",
				"confidence": 70
			}
		]
	}`)

	batch, err := parseProviderPayload(raw, insights.SourceDocument)
	if err != nil {
		t.Fatalf("parseProviderPayload: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("got %d insights, want 2", len(batch))
	}
	first := batch[0]
	if first.Category != insights.CategoryMarket || first.Source != insights.SourceDocument {
		t.Fatalf("first = %+v", first)
	}
	if first.NeedsReview {
		t.Error("confidence 90 should not need review")
	}
	if len(first.Content.Sources) != 1 || first.Content.Sources[0].ID != "d1" {
		t.Errorf("sources = %+v", first.Content.Sources)
	}
	if !batch[1].NeedsReview {
		t.Error("confidence 70 should need review")
	}
}

func TestParseProviderPayloadRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `this is prose, not json`},
		{name: "empty set", raw: `{"insights": []}`},
		{name: "unknown field", raw: `{"insights": [{"category": "market", "title": "t", "summary": "s", "confidence": 50, "sentiment": "bullish"}]}`},
		{name: "unknown category", raw: `{"insights": [{"category": "astrology", "title": "t", "summary": "s", "confidence": 50}]}`},
		{name: "missing title", raw: `{"insights": [{"category": "market", "title": " ", "summary": "s", "confidence": 50}]}`},
		{name: "missing summary", raw: `{"insights": [{"category": "market", "title": "t", "summary": "", "confidence": 50}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseProviderPayload(json.RawMessage(tt.raw), insights.SourceDocument); err == nil {
				t.Fatal("expected a parse error")
			}
		})
	}
}

func TestParseProviderPayloadClampsAndFlags(t *testing.T) {
	raw := json.RawMessage(`{"insights": [{"category": "financial", "title": "t", "summary": "s", "confidence": 300, "needsReview": true}]}`)
	batch, err := parseProviderPayload(raw, insights.SourceWebsite)
	if err != nil {
		t.Fatalf("parseProviderPayload: %v", err)
	}
	if batch[0].Confidence != 100 {
		t.Fatalf("confidence = %d, want 100", batch[0].Confidence)
	}
	if !batch[0].NeedsReview {
		t.Fatal("explicit review flag should win over high confidence")
	}
	if batch[0].Source != insights.SourceWebsite {
		t.Fatalf("source = %q", batch[0].Source)
	}
}
