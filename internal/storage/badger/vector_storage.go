package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

// VectorStorage implements the VectorStorage interface for Badger.
// Similarity queries are brute-force cosine scans over the requested vector
// type; the embedded store has no ANN index.
type VectorStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewVectorStorage creates a new VectorStorage instance
func NewVectorStorage(db *BadgerDB, logger arbor.ILogger) interfaces.VectorStorage {
	return &VectorStorage{
		db:     db,
		logger: logger,
	}
}

func (s *VectorStorage) StoreVectors(ctx context.Context, vectors []*models.VectorEmbedding) error {
	for _, v := range vectors {
		if v.ID == "" {
			return fmt.Errorf("vector ID is required")
		}
		if err := s.db.Store().Upsert(v.ID, v); err != nil {
			return fmt.Errorf("failed to store vector %s: %w", v.ID, err)
		}
	}
	return nil
}

// SearchByEmbedding scans vectors of the given type, scores them by cosine
// similarity against the query, and resolves the owning triples. Results
// come back sorted descending, cut at topK and minScore.
func (s *VectorStorage) SearchByEmbedding(ctx context.Context, embedding []float32, vectorType models.VectorType, topK int, minScore float64, filter *models.SearchFilter) ([]*models.ScoredTriple, error) {
	var vectors []models.VectorEmbedding
	if err := s.db.Store().Find(&vectors, badgerhold.Where("Type").Eq(vectorType).Index("Type")); err != nil {
		return nil, fmt.Errorf("failed to load %s vectors: %w", vectorType, err)
	}

	type hit struct {
		tripleID string
		score    float64
	}
	var hits []hit
	for i := range vectors {
		if vectors[i].TripleID == "" {
			continue
		}
		score := models.CosineSimilarity(embedding, vectors[i].Embedding)
		if score < minScore {
			continue
		}
		hits = append(hits, hit{tripleID: vectors[i].TripleID, score: score})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	var scored []*models.ScoredTriple
	seen := make(map[string]struct{})
	for _, h := range hits {
		if _, dup := seen[h.tripleID]; dup {
			continue
		}
		seen[h.tripleID] = struct{}{}

		var t models.Triple
		err := s.db.Store().Get(h.tripleID, &t)
		if err == badgerhold.ErrNotFound {
			// Orphaned vector; owner was deleted without cascade
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve triple %s: %w", h.tripleID, err)
		}
		if !tripleMatchesFilter(&t, filter) {
			continue
		}

		scored = append(scored, &models.ScoredTriple{Triple: &t, Score: h.score})
		if topK > 0 && len(scored) >= topK {
			break
		}
	}

	return scored, nil
}

// SearchConceptsByEmbedding runs the same cosine scan over CONCEPT vectors
func (s *VectorStorage) SearchConceptsByEmbedding(ctx context.Context, embedding []float32, topK int, minScore float64) ([]*models.ScoredConcept, error) {
	var vectors []models.VectorEmbedding
	if err := s.db.Store().Find(&vectors, badgerhold.Where("Type").Eq(models.VectorTypeConcept).Index("Type")); err != nil {
		return nil, fmt.Errorf("failed to load concept vectors: %w", err)
	}

	type hit struct {
		conceptID string
		score     float64
	}
	var hits []hit
	for i := range vectors {
		if vectors[i].ConceptID == "" {
			continue
		}
		score := models.CosineSimilarity(embedding, vectors[i].Embedding)
		if score < minScore {
			continue
		}
		hits = append(hits, hit{conceptID: vectors[i].ConceptID, score: score})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	var scored []*models.ScoredConcept
	seen := make(map[string]struct{})
	for _, h := range hits {
		if _, dup := seen[h.conceptID]; dup {
			continue
		}
		seen[h.conceptID] = struct{}{}

		var c models.Concept
		err := s.db.Store().Get(h.conceptID, &c)
		if err == badgerhold.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve concept %s: %w", h.conceptID, err)
		}

		scored = append(scored, &models.ScoredConcept{Concept: &c, Score: h.score})
		if topK > 0 && len(scored) >= topK {
			break
		}
	}

	return scored, nil
}

// DeleteVectorsForTriples removes every vector owned by the given triples
func (s *VectorStorage) DeleteVectorsForTriples(ctx context.Context, tripleIDs []string) error {
	for _, id := range tripleIDs {
		if err := s.db.Store().DeleteMatching(&models.VectorEmbedding{},
			badgerhold.Where("TripleID").Eq(id).Index("TripleID")); err != nil {
			return fmt.Errorf("failed to delete vectors for triple %s: %w", id, err)
		}
	}
	return nil
}
