// -----------------------------------------------------------------------
// VectorEmbedding - Dense vector attached to a triple or concept
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"math"
)

// VectorType discriminates rows in the unified vector store
type VectorType string

const (
	VectorTypeEntity       VectorType = "ENTITY"
	VectorTypeRelationship VectorType = "RELATIONSHIP"
	VectorTypeSemantic     VectorType = "SEMANTIC"
	VectorTypeConcept      VectorType = "CONCEPT"
)

// VectorEmbedding stores one dense vector together with the exact text that
// was embedded. ENTITY/RELATIONSHIP/SEMANTIC vectors are owned by a triple,
// CONCEPT vectors by a concept; owners cascade-delete their vectors.
type VectorEmbedding struct {
	ID        string     `json:"id" badgerhold:"key"`
	Type      VectorType `json:"vector_type" badgerhold:"index"`
	Text      string     `json:"text"`
	Embedding []float32  `json:"embedding"`
	TripleID  string     `json:"knowledge_triple_id,omitempty" badgerhold:"index"`
	ConceptID string     `json:"concept_node_id,omitempty" badgerhold:"index"`
}

// Validate checks vector ownership and dimension invariants
func (v *VectorEmbedding) Validate(dimension int) error {
	if len(v.Embedding) == 0 {
		return fmt.Errorf("embedding is empty")
	}
	if dimension > 0 && len(v.Embedding) != dimension {
		return fmt.Errorf("embedding dimension %d does not match configured %d", len(v.Embedding), dimension)
	}
	switch v.Type {
	case VectorTypeEntity, VectorTypeRelationship, VectorTypeSemantic:
		if v.TripleID == "" {
			return fmt.Errorf("%s vector requires an owning triple id", v.Type)
		}
	case VectorTypeConcept:
		if v.ConceptID == "" {
			return fmt.Errorf("CONCEPT vector requires an owning concept id")
		}
	default:
		return fmt.Errorf("invalid vector type: %s", v.Type)
	}
	return nil
}

// CosineSimilarity computes cosine similarity on raw (unnormalized) vectors.
// Returns 0 for mismatched or zero-magnitude inputs.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
