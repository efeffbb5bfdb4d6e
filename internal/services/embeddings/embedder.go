// -----------------------------------------------------------------------
// Embedder - Fixed-dimension dense embeddings via the Gemini API
// -----------------------------------------------------------------------

package embeddings

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/interfaces"
)

// EmbedderService implements interfaces.Embedder against the Gemini
// embeddings API. The dimension is fixed per deployment; every response is
// checked against it.
type EmbedderService struct {
	client    *genai.Client
	model     string
	dimension int
	logger    arbor.ILogger
}

// NewEmbedderService creates an embedder from configuration
func NewEmbedderService(ctx context.Context, geminiConfig *common.GeminiConfig, embConfig *common.EmbeddingConfig, logger arbor.ILogger) (interfaces.Embedder, error) {
	if geminiConfig.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required for embeddings")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  geminiConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	return &EmbedderService{
		client:    client,
		model:     embConfig.Model,
		dimension: embConfig.Dimension,
		logger:    logger,
	}, nil
}

// Embed generates an embedding for a single text
func (s *EmbedderService) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in order, one vector per input. Transient API
// failures are retried with exponential backoff; a batch that keeps
// failing aborts the call.
func (s *EmbedderService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	config := &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(s.dimension)),
	}

	var resp *genai.EmbedContentResponse
	operation := func() error {
		var apiErr error
		resp, apiErr = s.client.Models.EmbedContent(ctx, s.model, contents, config)
		return apiErr
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("embedding batch of %d texts failed: %w", len(texts), err)
	}

	vectors, err := embeddingsFromResponse(resp, len(texts), s.dimension)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int("texts", len(texts)).
		Int("dimension", s.dimension).
		Msg("Generated embedding batch")

	return vectors, nil
}

// embeddingsFromResponse validates the API response shape and extracts one
// vector per requested text
func embeddingsFromResponse(resp *genai.EmbedContentResponse, want, dimension int) ([][]float32, error) {
	if resp == nil {
		return nil, fmt.Errorf("embedding response is empty: want %d embeddings", want)
	}
	if len(resp.Embeddings) != want {
		return nil, fmt.Errorf("embedding response count mismatch: want %d, got %d", want, len(resp.Embeddings))
	}

	vectors := make([][]float32, want)
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding returned for text %d", i)
		}
		if len(emb.Values) != dimension {
			return nil, fmt.Errorf("embedding dimension %d does not match configured %d", len(emb.Values), dimension)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Dimension returns the fixed embedding dimension
func (s *EmbedderService) Dimension() int {
	return s.dimension
}
