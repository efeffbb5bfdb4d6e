package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

// ConceptStorage implements the ConceptStorage interface for Badger
type ConceptStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewConceptStorage creates a new ConceptStorage instance
func NewConceptStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ConceptStorage {
	return &ConceptStorage{
		db:     db,
		logger: logger,
	}
}

// StoreConcepts upserts concepts by deterministic identity. A re-observed
// concept keeps the higher confidence.
func (s *ConceptStorage) StoreConcepts(ctx context.Context, concepts []*models.Concept) (int, error) {
	stored := 0
	for _, c := range concepts {
		if err := c.Validate(); err != nil {
			return stored, fmt.Errorf("invalid concept %s: %w", c.ID, err)
		}

		var existing models.Concept
		err := s.db.Store().Get(c.ID, &existing)
		switch {
		case err == badgerhold.ErrNotFound:
			if err := s.db.Store().Insert(c.ID, c); err != nil {
				return stored, fmt.Errorf("failed to insert concept: %w", err)
			}
			stored++
		case err != nil:
			return stored, fmt.Errorf("failed to load concept %s: %w", c.ID, err)
		default:
			if c.Confidence > existing.Confidence {
				existing.Confidence = c.Confidence
			}
			if c.ExtractedAt.After(existing.ExtractedAt) {
				existing.ExtractedAt = c.ExtractedAt
			}
			if err := s.db.Store().Update(c.ID, &existing); err != nil {
				return stored, fmt.Errorf("failed to update concept: %w", err)
			}
		}
	}

	s.logger.Debug().Int("stored", stored).Msg("Concepts persisted")
	return stored, nil
}

// HasConceptsForSource reports whether any concept rows exist for the
// (source, source_type) pair. The concept stage checks this before running
// so replays become no-ops.
func (s *ConceptStorage) HasConceptsForSource(ctx context.Context, source, sourceType string) (bool, error) {
	count, err := s.db.Store().Count(&models.Concept{},
		badgerhold.Where("Source").Eq(source).Index("Source").And("SourceType").Eq(sourceType))
	if err != nil {
		return false, fmt.Errorf("failed to count concepts for source: %w", err)
	}
	return count > 0, nil
}

func (s *ConceptStorage) StoreConceptualizations(ctx context.Context, links []*models.Conceptualization) error {
	for _, link := range links {
		if link.ID == "" {
			return fmt.Errorf("conceptualization ID is required")
		}
		if err := s.db.Store().Upsert(link.ID, link); err != nil {
			return fmt.Errorf("failed to store conceptualization: %w", err)
		}
	}
	return nil
}

func (s *ConceptStorage) GetConceptualizationsByConcept(ctx context.Context, concept string) ([]*models.Conceptualization, error) {
	var links []models.Conceptualization
	if err := s.db.Store().Find(&links, badgerhold.Where("Concept").Eq(concept).Index("Concept")); err != nil {
		return nil, fmt.Errorf("failed to query conceptualizations: %w", err)
	}
	result := make([]*models.Conceptualization, len(links))
	for i := range links {
		result[i] = &links[i]
	}
	return result, nil
}

// SearchByConcept is the substring fallback over concept names
func (s *ConceptStorage) SearchByConcept(ctx context.Context, query string, topK int) ([]*models.Concept, error) {
	var all []models.Concept
	if err := s.db.Store().Find(&all, nil); err != nil {
		return nil, fmt.Errorf("failed to load concepts: %w", err)
	}

	q := strings.ToLower(query)
	var result []*models.Concept
	for i := range all {
		if !strings.Contains(strings.ToLower(all[i].Concept), q) {
			continue
		}
		result = append(result, &all[i])
		if topK > 0 && len(result) >= topK {
			break
		}
	}
	return result, nil
}

func (s *ConceptStorage) GetConceptCount(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Concept{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count concepts: %w", err)
	}
	return int(count), nil
}
