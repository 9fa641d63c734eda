// Package llm wraps the external language model used by the enrichment
// phase. The engine only needs one capability from it: condensing rich text
// passages into a short entity summary. Everything else about the provider
// stays behind the Client interface so tests run without network access.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Client is the minimal summarization capability the pipeline needs.
type Client interface {
	// Summarize condenses the passages into a short neutral description.
	// Returns "" without error when there is nothing worth summarizing.
	Summarize(ctx context.Context, entityName string, passages []string) (string, error)
}

const defaultModel = "gemini-2.0-flash"

// GeminiClient summarizes via the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed summarizer. Model defaults to a
// fast flash-tier model; summaries do not need a reasoning model.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Summarize sends the passages to the model with a fixed instruction and
// returns the trimmed response text.
func (c *GeminiClient) Summarize(ctx context.Context, entityName string, passages []string) (string, error) {
	if len(passages) == 0 {
		return "", nil
	}

	prompt := fmt.Sprintf(
		"Summarize the following source text about %q into two neutral, factual sentences. "+
			"Do not invent details absent from the text.\n\n%s",
		entityName, strings.Join(passages, "\n---\n"))

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	return strings.TrimSpace(result.Text()), nil
}
