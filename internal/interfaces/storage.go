package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/Andrewske/kgraph/internal/models"
)

// ErrStageExists is returned when a second child job is created for the
// same (parent_job_id, stage) pair
var ErrStageExists = errors.New("child job already exists for stage")

// KnowledgeBatch groups everything one extraction job persists atomically
type KnowledgeBatch struct {
	Triples            []*models.Triple
	Concepts           []*models.Concept
	Conceptualizations []*models.Conceptualization
	Vectors            []*models.VectorEmbedding
}

// BatchStoreResult reports what a batch store actually wrote
type BatchStoreResult struct {
	TriplesStored     int
	ConceptsStored    int
	DuplicatesSkipped int
	VectorsStored     int
}

// TripleStorage persists and queries semantic triples
type TripleStorage interface {
	// CheckExistingTriples returns the subset of ids already stored
	CheckExistingTriples(ctx context.Context, ids []string) ([]string, error)

	// StoreTriples upserts triples by deterministic identity. Conflicting
	// observations merge: max confidence, latest extracted_at.
	StoreTriples(ctx context.Context, triples []*models.Triple) (stored int, merged int, err error)

	// GetTriplesBySourcePrefix loads all triples whose source starts with
	// the given source (matches "_chunk_<i>" suffixes) for a source type.
	GetTriplesBySourcePrefix(ctx context.Context, source, sourceType string) ([]*models.Triple, error)

	// GetTriplesByIDs loads triples by identity, skipping missing ids
	GetTriplesByIDs(ctx context.Context, ids []string) ([]*models.Triple, error)

	// GetAllTriples returns every stored triple. Used by concept fusion;
	// implementers should avoid this being the sole path in production.
	GetAllTriples(ctx context.Context) ([]*models.Triple, error)

	GetTripleCount(ctx context.Context) (int, error)
	GetTripleCountByType(ctx context.Context) (map[models.TripleType]int, error)

	// SearchByEntity is the substring fallback over subject/object
	SearchByEntity(ctx context.Context, query string, topK int, filter *models.SearchFilter) ([]*models.Triple, error)

	// SearchByRelationship is the substring fallback over predicates
	SearchByRelationship(ctx context.Context, query string, topK int, filter *models.SearchFilter) ([]*models.Triple, error)
}

// ConceptStorage persists and queries concepts and conceptualization links
type ConceptStorage interface {
	// StoreConcepts upserts concepts by deterministic identity
	StoreConcepts(ctx context.Context, concepts []*models.Concept) (int, error)

	// HasConceptsForSource reports whether concept rows already exist for
	// (source, source_type); the concept stage is idempotent on this pair.
	HasConceptsForSource(ctx context.Context, source, sourceType string) (bool, error)

	StoreConceptualizations(ctx context.Context, links []*models.Conceptualization) error
	GetConceptualizationsByConcept(ctx context.Context, concept string) ([]*models.Conceptualization, error)

	// SearchByConcept is the substring fallback over concept names
	SearchByConcept(ctx context.Context, query string, topK int) ([]*models.Concept, error)

	GetConceptCount(ctx context.Context) (int, error)
}

// VectorStorage persists vectors in a single unified table discriminated by
// vector type, and answers raw similarity queries
type VectorStorage interface {
	StoreVectors(ctx context.Context, vectors []*models.VectorEmbedding) error

	// SearchByEmbedding runs cosine similarity over vectors of the given
	// type and resolves the owning triples. Results are sorted by score
	// descending and cut at topK/minScore.
	SearchByEmbedding(ctx context.Context, embedding []float32, vectorType models.VectorType, topK int, minScore float64, filter *models.SearchFilter) ([]*models.ScoredTriple, error)

	// SearchConceptsByEmbedding runs cosine similarity over CONCEPT vectors
	SearchConceptsByEmbedding(ctx context.Context, embedding []float32, topK int, minScore float64) ([]*models.ScoredConcept, error)

	// DeleteVectorsForTriples removes every vector owned by the given triples
	DeleteVectorsForTriples(ctx context.Context, tripleIDs []string) error
}

// JobStorage persists processing jobs
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.ProcessingJob) error

	// CreateChildJob creates a child under a uniqueness constraint on
	// (parent_job_id, stage); a second child for the same stage returns
	// ErrStageExists.
	CreateChildJob(ctx context.Context, job *models.ProcessingJob) error

	GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error)
	UpdateJob(ctx context.Context, job *models.ProcessingJob) error
	GetChildJobs(ctx context.Context, parentID string) ([]*models.ProcessingJob, error)
	GetJobByStage(ctx context.Context, parentID string, stage models.PipelineStage) (*models.ProcessingJob, error)

	// GetStaleJobs returns PROCESSING jobs whose heartbeat lapsed
	GetStaleJobs(ctx context.Context, olderThan time.Duration) ([]*models.ProcessingJob, error)
}

// StorageManager aggregates the per-aggregate storages over one database
type StorageManager interface {
	TripleStorage() TripleStorage
	ConceptStorage() ConceptStorage
	VectorStorage() VectorStorage
	JobStorage() JobStorage

	// BatchStoreKnowledge writes triples, concepts, links, and vectors in a
	// single transaction. Triple conflicts merge rather than duplicate.
	BatchStoreKnowledge(ctx context.Context, batch *KnowledgeBatch) (*BatchStoreResult, error)

	// DeleteTriplesWithVectors removes triples and their owned vectors in a
	// single transaction (used by the deduplication stage).
	DeleteTriplesWithVectors(ctx context.Context, tripleIDs []string) error

	Close() error
}
