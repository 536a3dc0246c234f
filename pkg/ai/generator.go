// Package ai adapts LLM providers used for field extraction.
package ai

import "context"

// TextGenerator generates text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// StaticGenerator returns a fixed response. It exists for offline
// development and tests.
type StaticGenerator struct {
	Response string
	Err      error
}

func (s *StaticGenerator) GenerateText(context.Context, string, string) (string, error) {
	return s.Response, s.Err
}
