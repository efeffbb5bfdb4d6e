package embeddings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/Andrewske/kgraph/internal/models"
)

// fakeEmbedder returns a distinct deterministic vector per text
type fakeEmbedder struct {
	calls   int
	batches [][]string
	failOn  int // batch number to fail on, 0 = never
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return nil, fmt.Errorf("quota exceeded")
	}
	f.batches = append(f.batches, texts)
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = []float32{float32(len(text)), 1, 0}
	}
	return vecs, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

func testTriple(s, p, o string) *models.Triple {
	return &models.Triple{
		Subject:     s,
		Predicate:   p,
		Object:      o,
		Type:        models.TripleTypeEntityEntity,
		Confidence:  0.9,
		ExtractedAt: time.Now(),
	}
}

func TestGenerateEmbeddingMapDeduplicatesTexts(t *testing.T) {
	// Same entities across several predicates, the common real-world shape
	triples := []*models.Triple{
		testTriple("John", "works at", "Tech Corp"),
		testTriple("John", "manages", "Tech Corp"),
		testTriple("John", "founded", "Tech Corp"),
	}
	embedder := &fakeEmbedder{}

	m, err := GenerateEmbeddingMap(context.Background(), triples, nil, embedder, 32, arbor.NewLogger())
	require.NoError(t, err)

	// 3 triples x 4 texts = 12 total; unique: John, Tech Corp, 3 predicates,
	// 3 semantic sentences = 8
	assert.Equal(t, 12, m.Stats.TotalTexts)
	assert.Equal(t, 8, m.Stats.UniqueTexts)
	assert.Equal(t, 4, m.Stats.DuplicatesAverted)
	assert.Equal(t, 1, m.Stats.BatchCalls)

	assert.NotNil(t, m.Get("John"))
	assert.NotNil(t, m.Get("John works at Tech Corp"))
	assert.Nil(t, m.Get("never embedded"))
	assert.InDelta(t, 1.0/3.0, m.Efficiency(), 1e-9)
}

func TestGenerateEmbeddingMapIncludesConcepts(t *testing.T) {
	concepts := []*models.Concept{
		{Concept: "Technology Industry", Level: models.AbstractionHigh, Confidence: 0.9},
	}
	embedder := &fakeEmbedder{}

	m, err := GenerateEmbeddingMap(context.Background(), nil, concepts, embedder, 32, arbor.NewLogger())
	require.NoError(t, err)
	assert.NotNil(t, m.Get("Technology Industry"))
	assert.Equal(t, 1, m.Stats.UniqueTexts)
}

func TestGenerateEmbeddingMapBatchesBySize(t *testing.T) {
	var triples []*models.Triple
	for i := 0; i < 10; i++ {
		triples = append(triples, testTriple(
			fmt.Sprintf("s%d", i), fmt.Sprintf("p%d", i), fmt.Sprintf("o%d", i)))
	}
	embedder := &fakeEmbedder{}

	m, err := GenerateEmbeddingMap(context.Background(), triples, nil, embedder, 7, arbor.NewLogger())
	require.NoError(t, err)

	// 40 unique texts in batches of 7
	assert.Equal(t, 40, m.Stats.UniqueTexts)
	assert.Equal(t, 6, m.Stats.BatchCalls)
	for _, batch := range embedder.batches {
		assert.LessOrEqual(t, len(batch), 7)
	}
}

func TestGenerateEmbeddingMapAbortsOnBatchFailure(t *testing.T) {
	var triples []*models.Triple
	for i := 0; i < 10; i++ {
		triples = append(triples, testTriple(
			fmt.Sprintf("s%d", i), fmt.Sprintf("p%d", i), fmt.Sprintf("o%d", i)))
	}
	embedder := &fakeEmbedder{failOn: 2}

	m, err := GenerateEmbeddingMap(context.Background(), triples, nil, embedder, 7, arbor.NewLogger())
	require.Error(t, err)
	assert.Nil(t, m)
}

func TestEmbeddingsFromResponse(t *testing.T) {
	vec := []float32{1, 2, 3}

	t.Run("nil response", func(t *testing.T) {
		vectors, err := embeddingsFromResponse(nil, 2, 3)
		require.Error(t, err)
		assert.Nil(t, vectors)
		assert.Contains(t, err.Error(), "want 2")
	})

	t.Run("count mismatch", func(t *testing.T) {
		resp := &genai.EmbedContentResponse{
			Embeddings: []*genai.ContentEmbedding{{Values: vec}},
		}
		_, err := embeddingsFromResponse(resp, 2, 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "count mismatch")
	})

	t.Run("empty embedding", func(t *testing.T) {
		resp := &genai.EmbedContentResponse{
			Embeddings: []*genai.ContentEmbedding{{Values: vec}, nil},
		}
		_, err := embeddingsFromResponse(resp, 2, 3)
		require.Error(t, err)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		resp := &genai.EmbedContentResponse{
			Embeddings: []*genai.ContentEmbedding{{Values: []float32{1, 2}}},
		}
		_, err := embeddingsFromResponse(resp, 1, 3)
		require.Error(t, err)
	})

	t.Run("one vector per text", func(t *testing.T) {
		resp := &genai.EmbedContentResponse{
			Embeddings: []*genai.ContentEmbedding{{Values: vec}, {Values: vec}},
		}
		vectors, err := embeddingsFromResponse(resp, 2, 3)
		require.NoError(t, err)
		require.Len(t, vectors, 2)
		assert.Equal(t, vec, vectors[0])
	})
}
