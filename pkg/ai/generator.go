package ai

import (
	"context"
	"errors"
)

// ErrQuota indicates the provider rejected the call for rate or quota
// reasons. Callers may retry after a backoff.
var ErrQuota = errors.New("provider quota exhausted")

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Anthropic, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
