// Package llm defines the contracts for the generation and embedding
// backends, plus an OpenAI-compatible HTTP implementation of both.
//
// The orchestrator depends only on the Generator and Embedder interfaces, so
// tests can substitute fakes without network access.
package llm

import "context"

// Message roles used on prompt turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single prompt turn sent to the generation backend.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces a completion for an ordered sequence of prompt turns.
type Generator interface {
	// Generate returns the assistant text for the given turns. Errors are
	// classified with the sentinels in errors.go (ErrRateLimited, ErrTimeout,
	// ErrInvalidRequest, ErrUnavailable) so callers can decide retryability.
	Generate(ctx context.Context, turns []Turn, maxTokens int, temperature float32) (string, error)

	// ModelName reports the model identifier used for generation.
	ModelName() string
}

// Embedder converts text into a fixed-length vector. The dimension is a
// deployment constant agreed with the vector index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
