package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	triple  interfaces.TripleStorage
	concept interfaces.ConceptStorage
	vector  interfaces.VectorStorage
	job     interfaces.JobStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager. The concrete type also
// exposes the raw badger handle so the queue can share the same database.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		triple:  NewTripleStorage(db, logger),
		concept: NewConceptStorage(db, logger),
		vector:  NewVectorStorage(db, logger),
		job:     NewJobStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// TripleStorage returns the triple storage interface
func (m *Manager) TripleStorage() interfaces.TripleStorage {
	return m.triple
}

// ConceptStorage returns the concept storage interface
func (m *Manager) ConceptStorage() interfaces.ConceptStorage {
	return m.concept
}

// VectorStorage returns the vector storage interface
func (m *Manager) VectorStorage() interfaces.VectorStorage {
	return m.vector
}

// JobStorage returns the job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// DB returns the underlying badger database for queue use
func (m *Manager) DB() *badgerdb.DB {
	return m.db.Store().Badger()
}

// BatchStoreKnowledge writes triples, concepts, conceptualization links, and
// vectors in a single transaction. Triple identity conflicts merge rather
// than duplicate; concept conflicts keep the higher confidence.
func (m *Manager) BatchStoreKnowledge(ctx context.Context, batch *interfaces.KnowledgeBatch) (*interfaces.BatchStoreResult, error) {
	result := &interfaces.BatchStoreResult{}
	store := m.db.Store()

	err := store.Badger().Update(func(tx *badgerdb.Txn) error {
		for _, t := range batch.Triples {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("invalid triple %s: %w", t.ID, err)
			}
			var existing models.Triple
			err := store.TxGet(tx, t.ID, &existing)
			switch {
			case err == badgerhold.ErrNotFound:
				if err := store.TxInsert(tx, t.ID, t); err != nil {
					return fmt.Errorf("failed to insert triple: %w", err)
				}
				result.TriplesStored++
			case err != nil:
				return fmt.Errorf("failed to load triple %s: %w", t.ID, err)
			default:
				existing.Merge(t)
				if err := store.TxUpdate(tx, t.ID, &existing); err != nil {
					return fmt.Errorf("failed to merge triple: %w", err)
				}
				result.DuplicatesSkipped++
			}
		}

		for _, c := range batch.Concepts {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("invalid concept %s: %w", c.ID, err)
			}
			var existing models.Concept
			err := store.TxGet(tx, c.ID, &existing)
			switch {
			case err == badgerhold.ErrNotFound:
				if err := store.TxInsert(tx, c.ID, c); err != nil {
					return fmt.Errorf("failed to insert concept: %w", err)
				}
				result.ConceptsStored++
			case err != nil:
				return fmt.Errorf("failed to load concept %s: %w", c.ID, err)
			default:
				if c.Confidence > existing.Confidence {
					existing.Confidence = c.Confidence
				}
				if err := store.TxUpdate(tx, c.ID, &existing); err != nil {
					return fmt.Errorf("failed to update concept: %w", err)
				}
			}
		}

		for _, link := range batch.Conceptualizations {
			if link.ID == "" {
				return fmt.Errorf("conceptualization ID is required")
			}
			if err := store.TxUpsert(tx, link.ID, link); err != nil {
				return fmt.Errorf("failed to store conceptualization: %w", err)
			}
		}

		for _, v := range batch.Vectors {
			if v.ID == "" {
				return fmt.Errorf("vector ID is required")
			}
			if err := store.TxUpsert(tx, v.ID, v); err != nil {
				return fmt.Errorf("failed to store vector: %w", err)
			}
			result.VectorsStored++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug().
		Int("triples_stored", result.TriplesStored).
		Int("duplicates_merged", result.DuplicatesSkipped).
		Int("concepts_stored", result.ConceptsStored).
		Int("vectors_stored", result.VectorsStored).
		Msg("Knowledge batch persisted")

	return result, nil
}

// DeleteTriplesWithVectors removes triples and their owned vectors in a
// single transaction. Used by the deduplication stage to drop absorbed
// duplicates.
func (m *Manager) DeleteTriplesWithVectors(ctx context.Context, tripleIDs []string) error {
	store := m.db.Store()

	return store.Badger().Update(func(tx *badgerdb.Txn) error {
		for _, id := range tripleIDs {
			if err := store.TxDeleteMatching(tx, &models.VectorEmbedding{},
				badgerhold.Where("TripleID").Eq(id).Index("TripleID")); err != nil {
				return fmt.Errorf("failed to delete vectors for triple %s: %w", id, err)
			}
			err := store.TxDelete(tx, id, &models.Triple{})
			if err != nil && err != badgerhold.ErrNotFound {
				return fmt.Errorf("failed to delete triple %s: %w", id, err)
			}
		}
		return nil
	})
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
