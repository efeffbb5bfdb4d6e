// -----------------------------------------------------------------------
// Deduplicator - Exact-key then threshold-based semantic triple merging
// -----------------------------------------------------------------------

package dedup

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/models"
)

// MergeKind distinguishes how a duplicate was detected
type MergeKind string

const (
	MergeExact    MergeKind = "exact"
	MergeSemantic MergeKind = "semantic"
)

// MergedMetadata records one absorbed duplicate
type MergedMetadata struct {
	Kind             MergeKind `json:"kind"`
	RepresentativeID string    `json:"representative_id"`
	AbsorbedID       string    `json:"absorbed_id"`
	Similarity       float64   `json:"similarity,omitempty"`
}

// Result is the outcome of a deduplication pass
type Result struct {
	UniqueTriples     []*models.Triple `json:"unique_triples"`
	DuplicatesRemoved int              `json:"duplicates_removed"`
	MergedMetadata    []MergedMetadata `json:"merged_metadata"`
}

// VectorLookup resolves the vector for a triple's semantic text. The
// extraction stage passes the job's embedding map; the standalone dedup
// stage passes a map built directly from the embedder.
type VectorLookup func(text string) []float32

// Deduplicator merges duplicate triples, first by exact identity, then
// (when enabled) by cosine similarity of their semantic texts.
type Deduplicator struct {
	semanticEnabled bool
	threshold       float64
	logger          arbor.ILogger
}

// NewDeduplicator creates a deduplicator. threshold defaults to 0.85.
func NewDeduplicator(semanticEnabled bool, threshold float64, logger arbor.ILogger) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &Deduplicator{
		semanticEnabled: semanticEnabled,
		threshold:       threshold,
		logger:          logger,
	}
}

// Threshold returns the semantic similarity threshold in effect
func (d *Deduplicator) Threshold() float64 {
	return d.threshold
}

// Deduplicate runs the exact pass and, when enabled and vectors are
// available, the semantic pass. The output preserves insertion order of
// representatives; the whole operation is idempotent.
func (d *Deduplicator) Deduplicate(triples []*models.Triple, lookup VectorLookup) *Result {
	result := &Result{}

	unique := d.exactPass(triples, result)
	if d.semanticEnabled && lookup != nil {
		unique = d.semanticPass(unique, lookup, result)
	}

	result.UniqueTriples = unique
	result.DuplicatesRemoved = len(result.MergedMetadata)

	d.logger.Debug().
		Int("input", len(triples)).
		Int("unique", len(unique)).
		Int("duplicates_removed", result.DuplicatesRemoved).
		Bool("semantic_enabled", d.semanticEnabled).
		Msg("Deduplication complete")

	return result
}

// exactPass merges triples sharing the identity key
// "subject|predicate|object|type". Higher confidence wins; later
// extracted_at wins.
func (d *Deduplicator) exactPass(triples []*models.Triple, result *Result) []*models.Triple {
	byKey := make(map[string]*models.Triple, len(triples))
	order := make([]*models.Triple, 0, len(triples))

	for _, t := range triples {
		key := fmt.Sprintf("%s|%s|%s|%s", t.Subject, t.Predicate, t.Object, t.Type)
		if existing, ok := byKey[key]; ok {
			existing.Merge(t)
			result.MergedMetadata = append(result.MergedMetadata, MergedMetadata{
				Kind:             MergeExact,
				RepresentativeID: existing.ID,
				AbsorbedID:       t.ID,
			})
			continue
		}
		byKey[key] = t
		order = append(order, t)
	}

	return order
}

// semanticPass absorbs near-duplicate triples into their first-seen
// representative. Merging is transitive within a scan: once a triple is
// absorbed it is never compared again. Triples missing a vector pass
// through untouched. Per-source input sizes are small, so the O(n^2)
// pairwise scan is acceptable.
func (d *Deduplicator) semanticPass(triples []*models.Triple, lookup VectorLookup, result *Result) []*models.Triple {
	absorbed := make([]bool, len(triples))
	out := make([]*models.Triple, 0, len(triples))

	for i, rep := range triples {
		if absorbed[i] {
			continue
		}
		out = append(out, rep)

		repVec := lookup(rep.SemanticText())
		if repVec == nil {
			continue
		}

		for j := i + 1; j < len(triples); j++ {
			if absorbed[j] {
				continue
			}
			candVec := lookup(triples[j].SemanticText())
			if candVec == nil {
				continue
			}

			similarity := models.CosineSimilarity(repVec, candVec)
			if similarity >= d.threshold {
				rep.Merge(triples[j])
				absorbed[j] = true
				result.MergedMetadata = append(result.MergedMetadata, MergedMetadata{
					Kind:             MergeSemantic,
					RepresentativeID: rep.ID,
					AbsorbedID:       triples[j].ID,
					Similarity:       similarity,
				})
			}
		}
	}

	return out
}
