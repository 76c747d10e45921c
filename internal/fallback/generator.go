package fallback

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"insight-backend/internal/insights"
)

// Input carries everything the generator needs to produce substitute
// insights. Industry selects the template table; an unknown or empty
// industry falls back to the general templates.
type Input struct {
	ProjectID         string
	Industry          string
	Source            insights.Source
	SourceDocumentIDs []string
}

// Generator produces deterministic substitute insights when the real
// analysis fails or takes too long. Generate never returns an empty slice
// and never fails, so callers can persist its output unconditionally.
type Generator struct {
	now func() time.Time
}

// New creates a Generator.
func New() *Generator {
	return &Generator{now: time.Now}
}

// fallbackNamespace seeds deterministic insight IDs so that regenerating
// the same fallback batch produces the same IDs and overwrites cleanly.
var fallbackNamespace = uuid.MustParse("7d6a3c1e-94b0-4f2a-8c5d-2e1f0a9b8c7d")

// maxFallbackConfidence keeps synthetic figures below the review
// threshold so every fallback insight is flagged for a human.
const maxFallbackConfidence = 60

// Generate returns a non-empty batch of template insights for the project.
// Output is deterministic given (ProjectID, Industry, Source) except for
// the GeneratedAt timestamps.
func (g *Generator) Generate(in Input) []insights.Insight {
	templates, ok := templatesByIndustry[normalizeIndustry(in.Industry)]
	if !ok {
		templates = templatesByIndustry[industryGeneral]
	}

	source := in.Source
	if !source.Valid() {
		source = insights.SourceDocument
	}

	now := g.now().UTC()
	batch := make([]insights.Insight, 0, len(templates))
	for _, tpl := range templates {
		confidence := tpl.confidence
		if confidence > maxFallbackConfidence {
			confidence = maxFallbackConfidence
		}
		batch = append(batch, insights.Insight{
			ID:                deterministicID(in.ProjectID, source, tpl.content.Title),
			ProjectID:         in.ProjectID,
			Category:          tpl.category,
			Content:           tpl.content,
			Confidence:        insights.ClampConfidence(confidence),
			NeedsReview:       true,
			Source:            source,
			SourceDocumentIDs: append([]string(nil), in.SourceDocumentIDs...),
			UsingFallback:     true,
			GeneratedAt:       now,
		})
	}
	return batch
}

func deterministicID(projectID string, source insights.Source, title string) string {
	seed := fmt.Sprintf("%s|%s|%s", projectID, source, title)
	return uuid.NewSHA1(fallbackNamespace, []byte(seed)).String()
}

func normalizeIndustry(industry string) string {
	return strings.ToLower(strings.TrimSpace(industry))
}

const industryGeneral = "general"

type template struct {
	category   insights.Category
	confidence int
	content    insights.Content
}

var templatesByIndustry = map[string][]template{
	industryGeneral: {
		{
			category:   insights.CategoryMarket,
			confidence: 55,
			content: insights.Content{
				Title:   "Market positioning requires validation",
				Summary: "Preliminary review suggests the current market positioning rests on assumptions that have not been tested against recent data.",
				Details: "Automated analysis was unavailable, so this placeholder highlights the most common gap seen in comparable engagements: positioning claims without supporting demand evidence.",
				Recommendations: "Commission a focused market scan before the next planning cycle and rerun the analysis once source documents are processed.",
			},
		},
		{
			category:   insights.CategoryRisk,
			confidence: 50,
			content: insights.Content{
				Title:   "Key-dependency risk pending assessment",
				Summary: "Supplier, customer, or personnel concentration is a frequent unexamined risk; the uploaded material should be reviewed for single points of failure.",
				Recommendations: "Inventory critical dependencies and quantify exposure for each before relying on these figures.",
			},
		},
		{
			category:   insights.CategoryOpportunity,
			confidence: 45,
			content: insights.Content{
				Title:   "Operational quick wins likely available",
				Summary: "Engagements of this profile typically surface two to three low-cost process improvements within the first review cycle.",
				Recommendations: "Prioritize a process walkthrough with operational leads once real analysis results are available.",
			},
		},
	},
	"technology": {
		{
			category:   insights.CategoryCompetitive,
			confidence: 55,
			content: insights.Content{
				Title:   "Competitive differentiation needs sharpening",
				Summary: "Technology firms at this stage commonly compete on features rather than defensible advantages; the differentiation story should be stress-tested.",
				Recommendations: "Map stated differentiators against the top three competitors and validate with customer interviews.",
			},
		},
		{
			category:   insights.CategoryRisk,
			confidence: 50,
			content: insights.Content{
				Title:   "Technical debt exposure unquantified",
				Summary: "Accumulated technical debt is a recurring drag on delivery velocity in comparable companies and is rarely visible in the documents provided.",
				Recommendations: "Request an engineering-led debt inventory and fold remediation cost into the plan.",
			},
		},
		{
			category:   insights.CategoryMarket,
			confidence: 55,
			content: insights.Content{
				Title:   "Adjacent-segment expansion worth modeling",
				Summary: "Product capabilities described in the materials may transfer to adjacent customer segments with modest adaptation.",
				Recommendations: "Size the two nearest adjacent segments and test willingness to pay before committing roadmap capacity.",
			},
		},
	},
	"retail": {
		{
			category:   insights.CategoryMarket,
			confidence: 55,
			content: insights.Content{
				Title:   "Channel mix likely shifting",
				Summary: "Retail operators in this bracket are seeing continued migration toward digital channels; the current channel economics should be re-baselined.",
				Recommendations: "Compare per-channel contribution margin over the trailing four quarters.",
			},
		},
		{
			category:   insights.CategoryOperational,
			confidence: 50,
			content: insights.Content{
				Title:   "Inventory turns below potential",
				Summary: "Working-capital efficiency is the most common improvement lever in comparable retail engagements.",
				Recommendations: "Benchmark inventory turns against category leaders and identify slow-moving SKUs.",
			},
		},
		{
			category:   insights.CategoryFinancial,
			confidence: 50,
			content: insights.Content{
				Title:   "Margin structure pending verification",
				Summary: "Gross margin assumptions in the provided materials could not be verified automatically and should be reconciled against recent statements.",
				Recommendations: "Reconcile stated margins with the latest financials before using them in projections.",
			},
		},
	},
	"finance": {
		{
			category:   insights.CategoryRisk,
			confidence: 55,
			content: insights.Content{
				Title:   "Regulatory exposure requires review",
				Summary: "Financial-services engagements carry compliance obligations that automated review could not assess from the provided materials.",
				Recommendations: "Engage compliance counsel to confirm the regulatory perimeter before acting on any finding.",
			},
		},
		{
			category:   insights.CategoryFinancial,
			confidence: 55,
			content: insights.Content{
				Title:   "Fee income concentration worth examining",
				Summary: "Revenue concentration in a small number of products or clients is a recurring finding in comparable reviews.",
				Recommendations: "Break down fee income by product line and client tier for the trailing year.",
			},
		},
		{
			category:   insights.CategoryOpportunity,
			confidence: 45,
			content: insights.Content{
				Title:   "Cross-sell potential unassessed",
				Summary: "Existing client relationships often support additional product penetration that the current materials do not quantify.",
				Recommendations: "Model cross-sell uptake at conservative attach rates once real analysis completes.",
			},
		},
	},
}
