package ai

import (
	"context"
	"strings"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiGenerator binds a GeminiClient to the model chosen at startup so
// callers depend on TextGenerator, not on the provider API.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator pins client and model together. An empty model falls
// back to the default.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{client: client, model: model}
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt)
}
