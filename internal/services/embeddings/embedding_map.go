// -----------------------------------------------------------------------
// EmbeddingMap - Build-once, use-many vector cache for a single job
// -----------------------------------------------------------------------

package embeddings

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

// MapStats reports how much duplicate work the map averted. Real workloads
// repeat entities heavily (five predicates over the same twenty entities),
// so the map routinely cuts embedding calls by well over half.
type MapStats struct {
	TotalTexts        int `json:"total_texts"`
	UniqueTexts       int `json:"unique_texts"`
	DuplicatesAverted int `json:"duplicates_averted"`
	BatchCalls        int `json:"batch_calls"`
}

// EmbeddingMap is a job-scoped table from exact text to its vector. It is
// never shared across jobs.
type EmbeddingMap struct {
	Vectors map[string][]float32
	Stats   MapStats
}

// Get returns the vector for a text, or nil if the text was not embedded
func (m *EmbeddingMap) Get(text string) []float32 {
	return m.Vectors[text]
}

// GenerateEmbeddingMap collects every subject, object, predicate,
// full-semantic text, and concept name exactly once, then batches the
// embedder over the unique set. Failure of any batch aborts the whole
// operation; downstream storage must not run on a partial map.
func GenerateEmbeddingMap(
	ctx context.Context,
	triples []*models.Triple,
	concepts []*models.Concept,
	embedder interfaces.Embedder,
	batchSize int,
	logger arbor.ILogger,
) (*EmbeddingMap, error) {
	if batchSize <= 0 {
		batchSize = 32
	}

	seen := make(map[string]struct{})
	unique := make([]string, 0, len(triples)*4+len(concepts))
	total := 0

	add := func(text string) {
		if text == "" {
			return
		}
		total++
		if _, ok := seen[text]; ok {
			return
		}
		seen[text] = struct{}{}
		unique = append(unique, text)
	}

	for _, t := range triples {
		add(t.Subject)
		add(t.Object)
		add(t.Predicate)
		add(t.SemanticText())
	}
	for _, c := range concepts {
		add(c.Concept)
	}

	result := &EmbeddingMap{
		Vectors: make(map[string][]float32, len(unique)),
		Stats: MapStats{
			TotalTexts:        total,
			UniqueTexts:       len(unique),
			DuplicatesAverted: total - len(unique),
		},
	}

	for start := 0; start < len(unique); start += batchSize {
		end := start + batchSize
		if end > len(unique) {
			end = len(unique)
		}
		batch := unique[start:end]

		vectors, err := embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding map batch %d failed: %w", result.Stats.BatchCalls+1, err)
		}
		result.Stats.BatchCalls++

		for i, text := range batch {
			result.Vectors[text] = vectors[i]
		}
	}

	logger.Debug().
		Int("total_texts", result.Stats.TotalTexts).
		Int("unique_texts", result.Stats.UniqueTexts).
		Int("duplicates_averted", result.Stats.DuplicatesAverted).
		Int("batch_calls", result.Stats.BatchCalls).
		Msg("Embedding map generated")

	return result, nil
}

// Efficiency returns the fraction of embedding calls averted by the map
func (m *EmbeddingMap) Efficiency() float64 {
	if m.Stats.TotalTexts == 0 {
		return 0
	}
	return float64(m.Stats.DuplicatesAverted) / float64(m.Stats.TotalTexts)
}
