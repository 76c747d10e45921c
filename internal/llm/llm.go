package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Client abstracts the remote AI provider that turns project inputs into
// strategic insights. Implementations return the provider's raw JSON payload;
// the caller validates its shape at the ingestion boundary.
type Client interface {
	GenerateInsights(ctx context.Context, input GenerateInput) (json.RawMessage, error)
}

// DocumentInput is one document's contribution to the prompt.
type DocumentInput struct {
	ID       string
	Name     string
	Priority int
	Text     string
}

// GenerateInput captures everything the remote call needs.
type GenerateInput struct {
	ProjectID       string
	DocumentIDs     []string
	IndustryContext string
	SystemPrompt    string
	Source          string // "document" or "website"
	WebsiteURL      string
	Documents       []DocumentInput
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is a stub implementation used when no provider is
// configured; analysis runs degrade to fallback insights.
type PlaceholderClient struct{}

// GenerateInsights returns ErrNotImplemented.
func (PlaceholderClient) GenerateInsights(ctx context.Context, input GenerateInput) (json.RawMessage, error) {
	_ = ctx
	_ = input
	return nil, ErrNotImplemented
}
