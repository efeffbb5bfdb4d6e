package interfaces

import "context"

// TokenUsage reports oracle token consumption for one call
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Oracle is the structured-generation contract the pipeline depends on.
// Implementations may enforce the schema server-side (Gemini structured
// output) or return fenced JSON text; either way GenerateObject delivers a
// validated object or a parse_error-classified failure.
type Oracle interface {
	// GenerateObject produces a structured object for the prompt, validated
	// against the named embedded schema, and unmarshals it into out.
	GenerateObject(ctx context.Context, prompt string, schemaName string, out interface{}) (*TokenUsage, error)

	// GenerateText produces a raw text completion. Callers are responsible
	// for stripping Markdown code fences before parsing.
	GenerateText(ctx context.Context, prompt string) (string, *TokenUsage, error)

	Close() error
}

// Embedder generates fixed-dimension dense embeddings
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order; the result has one vector per input
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is uniform process-wide (canonically 1536)
	Dimension() int
}
