package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	manager, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{
		Path: t.TempDir() + "/badger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return manager
}

func newTriple(s, p, o, source string, confidence float64) *models.Triple {
	return &models.Triple{
		ID:          common.TripleID(s, p, o, string(models.TripleTypeEntityEntity)),
		Subject:     s,
		Predicate:   p,
		Object:      o,
		Type:        models.TripleTypeEntityEntity,
		Source:      source,
		SourceType:  "document",
		Confidence:  confidence,
		ExtractedAt: time.Now(),
	}
}

func TestStoreTriplesInsertAndMerge(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	first := newTriple("John", "works at", "Tech Corp", "doc-1", 0.7)
	stored, merged, err := m.TripleStorage().StoreTriples(ctx, []*models.Triple{first})
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	assert.Equal(t, 0, merged)

	// Same identity with higher confidence merges instead of duplicating
	second := newTriple("John", "works at", "Tech Corp", "doc-1", 0.95)
	stored, merged, err = m.TripleStorage().StoreTriples(ctx, []*models.Triple{second})
	require.NoError(t, err)
	assert.Equal(t, 0, stored)
	assert.Equal(t, 1, merged)

	loaded, err := m.TripleStorage().GetTriplesByIDs(ctx, []string{first.ID})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 0.95, loaded[0].Confidence)

	count, err := m.TripleStorage().GetTripleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCheckExistingTriples(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	triple := newTriple("John", "works at", "Tech Corp", "doc-1", 0.7)
	_, _, err := m.TripleStorage().StoreTriples(ctx, []*models.Triple{triple})
	require.NoError(t, err)

	existing, err := m.TripleStorage().CheckExistingTriples(ctx, []string{triple.ID, "missing-id"})
	require.NoError(t, err)
	assert.Equal(t, []string{triple.ID}, existing)
}

func TestGetTriplesBySourcePrefixMatchesChunks(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	triples := []*models.Triple{
		newTriple("A", "rel", "B", "doc-1", 0.8),
		newTriple("C", "rel", "D", "doc-1_chunk_0", 0.8),
		newTriple("E", "rel", "F", "doc-1_chunk_12", 0.8),
		newTriple("G", "rel", "H", "doc-10", 0.8), // shared prefix, not a chunk
		newTriple("I", "rel", "J", "doc-2", 0.8),
	}
	_, _, err := m.TripleStorage().StoreTriples(ctx, triples)
	require.NoError(t, err)

	loaded, err := m.TripleStorage().GetTriplesBySourcePrefix(ctx, "doc-1", "document")
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
	for _, tr := range loaded {
		assert.NotEqual(t, "doc-10", tr.Source)
		assert.NotEqual(t, "doc-2", tr.Source)
	}
}

func TestSearchByEntitySubstring(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	triples := []*models.Triple{
		newTriple("John Smith", "works at", "Tech Corp", "doc-1", 0.8),
		newTriple("Mary", "lives in", "Boston", "doc-1", 0.8),
	}
	_, _, err := m.TripleStorage().StoreTriples(ctx, triples)
	require.NoError(t, err)

	found, err := m.TripleStorage().SearchByEntity(ctx, "john", 10, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "John Smith", found[0].Subject)

	// Predicate search does not match entities
	found, err = m.TripleStorage().SearchByRelationship(ctx, "lives", 10, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Mary", found[0].Subject)
}

func TestConceptStorageIdempotency(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	exists, err := m.ConceptStorage().HasConceptsForSource(ctx, "doc-1", "document")
	require.NoError(t, err)
	assert.False(t, exists)

	concept := &models.Concept{
		ID:          common.ConceptID("Technology Industry", "HIGH", "doc-1"),
		Concept:     "Technology Industry",
		Level:       models.AbstractionHigh,
		Confidence:  0.8,
		Source:      "doc-1",
		SourceType:  "document",
		ExtractedAt: time.Now(),
	}
	stored, err := m.ConceptStorage().StoreConcepts(ctx, []*models.Concept{concept})
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	exists, err = m.ConceptStorage().HasConceptsForSource(ctx, "doc-1", "document")
	require.NoError(t, err)
	assert.True(t, exists)

	// Re-store with higher confidence keeps the row, raises confidence
	boosted := *concept
	boosted.Confidence = 0.95
	_, err = m.ConceptStorage().StoreConcepts(ctx, []*models.Concept{&boosted})
	require.NoError(t, err)

	count, err := m.ConceptStorage().GetConceptCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	found, err := m.ConceptStorage().SearchByConcept(ctx, "technology", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 0.95, found[0].Confidence)
}

func TestConceptualizationLinks(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	links := []*models.Conceptualization{
		{
			ID:            common.ConceptualizationID("Tech Corp", "Technology Industry", "doc-1"),
			SourceElement: "Tech Corp",
			EntityType:    models.EntityTypeEntity,
			Concept:       "Technology Industry",
			Confidence:    0.8,
			Source:        "doc-1",
			SourceType:    "document",
			ExtractedAt:   time.Now(),
		},
	}
	require.NoError(t, m.ConceptStorage().StoreConceptualizations(ctx, links))

	found, err := m.ConceptStorage().GetConceptualizationsByConcept(ctx, "Technology Industry")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Tech Corp", found[0].SourceElement)
}

func TestVectorSearchOrdersByCosine(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	near := newTriple("John", "works at", "Tech Corp", "doc-1", 0.8)
	far := newTriple("Mary", "lives in", "Boston", "doc-1", 0.8)
	_, _, err := m.TripleStorage().StoreTriples(ctx, []*models.Triple{near, far})
	require.NoError(t, err)

	vectors := []*models.VectorEmbedding{
		{
			ID:        common.VectorID(near.ID, "SEMANTIC", near.SemanticText()),
			Type:      models.VectorTypeSemantic,
			Text:      near.SemanticText(),
			Embedding: []float32{1, 0, 0},
			TripleID:  near.ID,
		},
		{
			ID:        common.VectorID(far.ID, "SEMANTIC", far.SemanticText()),
			Type:      models.VectorTypeSemantic,
			Text:      far.SemanticText(),
			Embedding: []float32{0.5, 0.5, 0},
			TripleID:  far.ID,
		},
	}
	require.NoError(t, m.VectorStorage().StoreVectors(ctx, vectors))

	scored, err := m.VectorStorage().SearchByEmbedding(ctx, []float32{1, 0, 0}, models.VectorTypeSemantic, 10, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, near.ID, scored[0].Triple.ID)
	assert.InDelta(t, 1.0, scored[0].Score, 1e-6)
	assert.Greater(t, scored[0].Score, scored[1].Score)

	// minScore cuts the weaker match
	scored, err = m.VectorStorage().SearchByEmbedding(ctx, []float32{1, 0, 0}, models.VectorTypeSemantic, 10, 0.9, nil)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, near.ID, scored[0].Triple.ID)
}

func TestDeleteTriplesWithVectorsCascades(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	triple := newTriple("John", "works at", "Tech Corp", "doc-1", 0.8)
	_, _, err := m.TripleStorage().StoreTriples(ctx, []*models.Triple{triple})
	require.NoError(t, err)

	vector := &models.VectorEmbedding{
		ID:        common.VectorID(triple.ID, "SEMANTIC", triple.SemanticText()),
		Type:      models.VectorTypeSemantic,
		Text:      triple.SemanticText(),
		Embedding: []float32{1, 0, 0},
		TripleID:  triple.ID,
	}
	require.NoError(t, m.VectorStorage().StoreVectors(ctx, []*models.VectorEmbedding{vector}))

	require.NoError(t, m.DeleteTriplesWithVectors(ctx, []string{triple.ID}))

	count, err := m.TripleStorage().GetTripleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	scored, err := m.VectorStorage().SearchByEmbedding(ctx, []float32{1, 0, 0}, models.VectorTypeSemantic, 10, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, scored)

	// Deleting unknown ids is a no-op
	require.NoError(t, m.DeleteTriplesWithVectors(ctx, []string{"missing"}))
}

func TestBatchStoreKnowledge(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	triple := newTriple("John", "works at", "Tech Corp", "doc-1", 0.7)
	concept := &models.Concept{
		ID:          common.ConceptID("Employment", "MEDIUM", "doc-1"),
		Concept:     "Employment",
		Level:       models.AbstractionMedium,
		Confidence:  0.8,
		Source:      "doc-1",
		SourceType:  "document",
		ExtractedAt: time.Now(),
	}
	vector := &models.VectorEmbedding{
		ID:        common.VectorID(triple.ID, "SEMANTIC", triple.SemanticText()),
		Type:      models.VectorTypeSemantic,
		Text:      triple.SemanticText(),
		Embedding: []float32{1, 0, 0},
		TripleID:  triple.ID,
	}

	result, err := m.BatchStoreKnowledge(ctx, &interfaces.KnowledgeBatch{
		Triples:  []*models.Triple{triple},
		Concepts: []*models.Concept{concept},
		Vectors:  []*models.VectorEmbedding{vector},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TriplesStored)
	assert.Equal(t, 1, result.ConceptsStored)
	assert.Equal(t, 1, result.VectorsStored)
	assert.Equal(t, 0, result.DuplicatesSkipped)

	// Replaying the batch merges instead of duplicating
	replay := newTriple("John", "works at", "Tech Corp", "doc-1", 0.9)
	result, err = m.BatchStoreKnowledge(ctx, &interfaces.KnowledgeBatch{
		Triples: []*models.Triple{replay},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.TriplesStored)
	assert.Equal(t, 1, result.DuplicatesSkipped)

	count, err := m.TripleStorage().GetTripleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateChildJobStageConstraint(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	parent := models.NewParentJob("text", models.JobMetadata{Source: "doc-1"})
	require.NoError(t, m.JobStorage().CreateJob(ctx, parent))

	first := models.NewChildJob(parent.ID, models.JobTypeGenerateConcepts, models.StageConcepts, "", parent.Metadata)
	require.NoError(t, m.JobStorage().CreateChildJob(ctx, first))

	// Second child for the same stage violates the uniqueness constraint
	second := models.NewChildJob(parent.ID, models.JobTypeGenerateConcepts, models.StageConcepts, "", parent.Metadata)
	err := m.JobStorage().CreateChildJob(ctx, second)
	assert.ErrorIs(t, err, interfaces.ErrStageExists)

	// A different stage is fine
	dedup := models.NewChildJob(parent.ID, models.JobTypeDeduplicateKnowledge, models.StageDeduplication, "", parent.Metadata)
	require.NoError(t, m.JobStorage().CreateChildJob(ctx, dedup))

	children, err := m.JobStorage().GetChildJobs(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	found, err := m.JobStorage().GetJobByStage(ctx, parent.ID, models.StageConcepts)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
}

func TestGetStaleJobs(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	parent := models.NewParentJob("text", models.JobMetadata{Source: "doc-1"})
	require.NoError(t, m.JobStorage().CreateJob(ctx, parent))

	stale := models.NewChildJob(parent.ID, models.JobTypeGenerateConcepts, models.StageConcepts, "", parent.Metadata)
	require.NoError(t, m.JobStorage().CreateChildJob(ctx, stale))
	old := time.Now().Add(-time.Hour)
	stale.Status = models.JobStatusProcessing
	stale.Heartbeat = &old
	require.NoError(t, m.JobStorage().UpdateJob(ctx, stale))

	fresh := models.NewChildJob(parent.ID, models.JobTypeDeduplicateKnowledge, models.StageDeduplication, "", parent.Metadata)
	require.NoError(t, m.JobStorage().CreateChildJob(ctx, fresh))
	now := time.Now()
	fresh.Status = models.JobStatusProcessing
	fresh.Heartbeat = &now
	require.NoError(t, m.JobStorage().UpdateJob(ctx, fresh))

	found, err := m.JobStorage().GetStaleJobs(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stale.ID, found[0].ID)
}
