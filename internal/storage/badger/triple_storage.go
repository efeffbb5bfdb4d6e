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

// TripleStorage implements the TripleStorage interface for Badger
type TripleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTripleStorage creates a new TripleStorage instance
func NewTripleStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TripleStorage {
	return &TripleStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TripleStorage) CheckExistingTriples(ctx context.Context, ids []string) ([]string, error) {
	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		var t models.Triple
		err := s.db.Store().Get(id, &t)
		if err == badgerhold.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check triple %s: %w", id, err)
		}
		existing = append(existing, id)
	}
	return existing, nil
}

// StoreTriples upserts triples by deterministic identity. An existing row
// with the same identity merges instead of duplicating: max confidence,
// latest extracted_at.
func (s *TripleStorage) StoreTriples(ctx context.Context, triples []*models.Triple) (int, int, error) {
	stored, merged := 0, 0

	for _, t := range triples {
		if err := t.Validate(); err != nil {
			return stored, merged, fmt.Errorf("invalid triple %s: %w", t.ID, err)
		}

		var existing models.Triple
		err := s.db.Store().Get(t.ID, &existing)
		switch {
		case err == badgerhold.ErrNotFound:
			if err := s.db.Store().Insert(t.ID, t); err != nil {
				return stored, merged, fmt.Errorf("failed to insert triple: %w", err)
			}
			stored++
		case err != nil:
			return stored, merged, fmt.Errorf("failed to load triple %s: %w", t.ID, err)
		default:
			existing.Merge(t)
			if err := s.db.Store().Update(t.ID, &existing); err != nil {
				return stored, merged, fmt.Errorf("failed to merge triple: %w", err)
			}
			merged++
		}
	}

	s.logger.Debug().
		Int("stored", stored).
		Int("merged", merged).
		Msg("Triples persisted")

	return stored, merged, nil
}

// GetTriplesBySourcePrefix matches the exact source and its chunk-derived
// sources ("<source>_chunk_<i>") for one source type.
func (s *TripleStorage) GetTriplesBySourcePrefix(ctx context.Context, source, sourceType string) ([]*models.Triple, error) {
	var all []models.Triple
	if err := s.db.Store().Find(&all, badgerhold.Where("SourceType").Eq(sourceType)); err != nil {
		return nil, fmt.Errorf("failed to query triples by source: %w", err)
	}

	chunkPrefix := source + "_chunk_"
	result := make([]*models.Triple, 0, len(all))
	for i := range all {
		if all[i].Source == source || strings.HasPrefix(all[i].Source, chunkPrefix) {
			result = append(result, &all[i])
		}
	}
	return result, nil
}

func (s *TripleStorage) GetTriplesByIDs(ctx context.Context, ids []string) ([]*models.Triple, error) {
	result := make([]*models.Triple, 0, len(ids))
	for _, id := range ids {
		var t models.Triple
		err := s.db.Store().Get(id, &t)
		if err == badgerhold.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get triple %s: %w", id, err)
		}
		result = append(result, &t)
	}
	return result, nil
}

func (s *TripleStorage) GetAllTriples(ctx context.Context) ([]*models.Triple, error) {
	var all []models.Triple
	if err := s.db.Store().Find(&all, nil); err != nil {
		return nil, fmt.Errorf("failed to load triples: %w", err)
	}
	result := make([]*models.Triple, len(all))
	for i := range all {
		result[i] = &all[i]
	}
	return result, nil
}

func (s *TripleStorage) GetTripleCount(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Triple{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count triples: %w", err)
	}
	return int(count), nil
}

func (s *TripleStorage) GetTripleCountByType(ctx context.Context) (map[models.TripleType]int, error) {
	counts := make(map[models.TripleType]int, len(models.AllTripleTypes))
	for _, tt := range models.AllTripleTypes {
		count, err := s.db.Store().Count(&models.Triple{}, badgerhold.Where("Type").Eq(tt).Index("Type"))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s triples: %w", tt, err)
		}
		counts[tt] = int(count)
	}
	return counts, nil
}

// SearchByEntity is the substring fallback over subjects and objects
func (s *TripleStorage) SearchByEntity(ctx context.Context, query string, topK int, filter *models.SearchFilter) ([]*models.Triple, error) {
	return s.scanSubstring(ctx, topK, filter, func(t *models.Triple) bool {
		q := strings.ToLower(query)
		return strings.Contains(strings.ToLower(t.Subject), q) ||
			strings.Contains(strings.ToLower(t.Object), q)
	})
}

// SearchByRelationship is the substring fallback over predicates
func (s *TripleStorage) SearchByRelationship(ctx context.Context, query string, topK int, filter *models.SearchFilter) ([]*models.Triple, error) {
	return s.scanSubstring(ctx, topK, filter, func(t *models.Triple) bool {
		return strings.Contains(strings.ToLower(t.Predicate), strings.ToLower(query))
	})
}

func (s *TripleStorage) scanSubstring(ctx context.Context, topK int, filter *models.SearchFilter, match func(*models.Triple) bool) ([]*models.Triple, error) {
	all, err := s.GetAllTriples(ctx)
	if err != nil {
		return nil, err
	}

	var result []*models.Triple
	for _, t := range all {
		if !match(t) || !tripleMatchesFilter(t, filter) {
			continue
		}
		result = append(result, t)
		if topK > 0 && len(result) >= topK {
			break
		}
	}
	return result, nil
}

// tripleMatchesFilter applies source/type/temporal filtering to a triple
func tripleMatchesFilter(t *models.Triple, filter *models.SearchFilter) bool {
	if filter == nil {
		return true
	}
	if len(filter.Sources) > 0 {
		found := false
		for _, src := range filter.Sources {
			if t.Source == src || strings.HasPrefix(t.Source, src+"_chunk_") {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Types) > 0 {
		found := false
		for _, tt := range filter.Types {
			if t.Type == tt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Temporal != nil {
		from, to := filter.Temporal.Bounds()
		if from != nil && t.ExtractedAt.Before(*from) {
			return false
		}
		if to != nil && t.ExtractedAt.After(*to) {
			return false
		}
	}
	return true
}
