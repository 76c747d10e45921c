package openai

import (
	"fmt"
	"sort"
	"strings"

	"insight-backend/internal/llm"
)

// Message represents an OpenAI chat message.
type Message struct {
	Role    string
	Content string
}

const systemPromptDefault = "You are a strategic business analyst. Respond with JSON only. No markdown. " +
	"Return an object with an \"insights\" array. Each insight has: category (one of market, competitive, " +
	"risk, opportunity, financial, operational), title, summary, details, evidence, recommendations, " +
	"dataPoints (array of strings), sources (array of {id,name,relevance}), confidence (0-100). " +
	"Never omit category, title, summary or confidence."

const maxDocumentChars = 12000

// BuildPrompt creates the chat messages for an insight generation request.
// Documents are ordered by descending priority so the most important client
// material survives truncation.
func BuildPrompt(input llm.GenerateInput) []Message {
	system := strings.TrimSpace(input.SystemPrompt)
	if system == "" {
		system = systemPromptDefault
	}
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: buildUserPrompt(input)},
	}
}

func buildUserPrompt(input llm.GenerateInput) string {
	var b strings.Builder

	if strings.TrimSpace(input.IndustryContext) != "" {
		fmt.Fprintf(&b, "Industry context: %s\n\n", strings.TrimSpace(input.IndustryContext))
	}
	if input.Source == "website" && strings.TrimSpace(input.WebsiteURL) != "" {
		fmt.Fprintf(&b, "Analyze the company website: %s\n\n", strings.TrimSpace(input.WebsiteURL))
	}

	docs := make([]llm.DocumentInput, len(input.Documents))
	copy(docs, input.Documents)
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Priority > docs[j].Priority
	})

	if len(docs) > 0 {
		b.WriteString("Client documents, highest priority first:\n\n")
	}
	for i, doc := range docs {
		text := doc.Text
		if len(text) > maxDocumentChars {
			text = text[:maxDocumentChars]
		}
		fmt.Fprintf(&b, "--- Document %d: %s ---\n%s\n\n", i+1, doc.Name, text)
	}

	b.WriteString("Produce strategic insights for this client as JSON.")
	return b.String()
}
