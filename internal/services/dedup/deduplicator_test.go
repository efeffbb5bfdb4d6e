package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/models"
)

func makeTriple(s, p, o string, confidence float64, extractedAt time.Time) *models.Triple {
	return &models.Triple{
		ID:          common.TripleID(s, p, o, string(models.TripleTypeEntityEntity)),
		Subject:     s,
		Predicate:   p,
		Object:      o,
		Type:        models.TripleTypeEntityEntity,
		Confidence:  confidence,
		ExtractedAt: extractedAt,
	}
}

func TestExactPassMergesIdenticalTriples(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	triples := []*models.Triple{
		makeTriple("John", "works at", "Tech Corp", 0.7, early),
		makeTriple("John", "works at", "Tech Corp", 0.9, late),
		makeTriple("Mary", "works at", "Tech Corp", 0.8, early),
	}

	d := NewDeduplicator(false, 0.85, arbor.NewLogger())
	result := d.Deduplicate(triples, nil)

	require.Len(t, result.UniqueTriples, 2)
	assert.Equal(t, 1, result.DuplicatesRemoved)

	// The representative absorbed the higher confidence and later timestamp
	rep := result.UniqueTriples[0]
	assert.Equal(t, "John", rep.Subject)
	assert.Equal(t, 0.9, rep.Confidence)
	assert.Equal(t, late, rep.ExtractedAt)

	require.Len(t, result.MergedMetadata, 1)
	assert.Equal(t, MergeExact, result.MergedMetadata[0].Kind)
}

func TestSemanticPassAbsorbsNearDuplicates(t *testing.T) {
	triples := []*models.Triple{
		makeTriple("John", "works at", "Tech Corp", 0.7, time.Now()),
		makeTriple("John", "is employed by", "Tech Corp", 0.9, time.Now()),
		makeTriple("Mary", "lives in", "Boston", 0.8, time.Now()),
	}

	vectors := map[string][]float32{
		"John works at Tech Corp":       {1, 0, 0},
		"John is employed by Tech Corp": {0.99, 0.14, 0}, // ~0.99 cosine
		"Mary lives in Boston":          {0, 1, 0},
	}
	lookup := func(text string) []float32 { return vectors[text] }

	d := NewDeduplicator(true, 0.85, arbor.NewLogger())
	result := d.Deduplicate(triples, lookup)

	require.Len(t, result.UniqueTriples, 2)
	assert.Equal(t, 1, result.DuplicatesRemoved)

	// First-seen triple is the representative and absorbs the duplicate's
	// higher confidence
	rep := result.UniqueTriples[0]
	assert.Equal(t, "works at", rep.Predicate)
	assert.Equal(t, 0.9, rep.Confidence)

	require.Len(t, result.MergedMetadata, 1)
	m := result.MergedMetadata[0]
	assert.Equal(t, MergeSemantic, m.Kind)
	assert.Equal(t, rep.ID, m.RepresentativeID)
	assert.GreaterOrEqual(t, m.Similarity, 0.85)
}

func TestSemanticPassSkippedWhenDisabled(t *testing.T) {
	triples := []*models.Triple{
		makeTriple("John", "works at", "Tech Corp", 0.7, time.Now()),
		makeTriple("John", "is employed by", "Tech Corp", 0.9, time.Now()),
	}
	lookup := func(string) []float32 { return []float32{1, 0, 0} }

	d := NewDeduplicator(false, 0.85, arbor.NewLogger())
	result := d.Deduplicate(triples, lookup)

	assert.Len(t, result.UniqueTriples, 2)
	assert.Equal(t, 0, result.DuplicatesRemoved)
}

func TestVectorlessTriplesPassThrough(t *testing.T) {
	triples := []*models.Triple{
		makeTriple("John", "works at", "Tech Corp", 0.7, time.Now()),
		makeTriple("John", "is employed by", "Tech Corp", 0.9, time.Now()),
	}
	// No vectors available at all
	lookup := func(string) []float32 { return nil }

	d := NewDeduplicator(true, 0.85, arbor.NewLogger())
	result := d.Deduplicate(triples, lookup)

	assert.Len(t, result.UniqueTriples, 2)
	assert.Equal(t, 0, result.DuplicatesRemoved)
}

func TestDeduplicatePreservesInsertionOrder(t *testing.T) {
	triples := []*models.Triple{
		makeTriple("C", "rel", "D", 0.5, time.Now()),
		makeTriple("A", "rel", "B", 0.5, time.Now()),
		makeTriple("C", "rel", "D", 0.6, time.Now()),
		makeTriple("E", "rel", "F", 0.5, time.Now()),
	}

	d := NewDeduplicator(false, 0.85, arbor.NewLogger())
	result := d.Deduplicate(triples, nil)

	require.Len(t, result.UniqueTriples, 3)
	assert.Equal(t, "C", result.UniqueTriples[0].Subject)
	assert.Equal(t, "A", result.UniqueTriples[1].Subject)
	assert.Equal(t, "E", result.UniqueTriples[2].Subject)
}

func TestThresholdDefaulting(t *testing.T) {
	assert.Equal(t, 0.85, NewDeduplicator(true, 0, arbor.NewLogger()).Threshold())
	assert.Equal(t, 0.85, NewDeduplicator(true, 1.5, arbor.NewLogger()).Threshold())
	assert.Equal(t, 0.9, NewDeduplicator(true, 0.9, arbor.NewLogger()).Threshold())
}
