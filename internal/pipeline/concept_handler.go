// -----------------------------------------------------------------------
// ConceptHandler - Concept abstraction over a source's extracted triples
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
	"github.com/Andrewske/kgraph/internal/services/embeddings"
	"github.com/Andrewske/kgraph/internal/services/extraction"
)

// ConceptHandler runs the CONCEPTS stage: bucket the source's triple
// elements into entities/events/relations, ask the oracle for abstractions,
// and store concepts, links, and concept vectors atomically. Idempotent by
// (source, source_type).
type ConceptHandler struct {
	storage   interfaces.StorageManager
	extractor *extraction.Extractor
	embedder  interfaces.Embedder
	config    *common.Config
	logger    arbor.ILogger
}

// NewConceptHandler creates the concept stage handler
func NewConceptHandler(
	storage interfaces.StorageManager,
	extractor *extraction.Extractor,
	embedder interfaces.Embedder,
	config *common.Config,
	logger arbor.ILogger,
) *ConceptHandler {
	return &ConceptHandler{
		storage:   storage,
		extractor: extractor,
		embedder:  embedder,
		config:    config,
		logger:    logger,
	}
}

// Execute runs concept generation for one job
func (h *ConceptHandler) Execute(ctx context.Context, job *models.ProcessingJob) models.JobResult {
	meta := job.Metadata

	exists, err := h.storage.ConceptStorage().HasConceptsForSource(ctx, meta.Source, meta.SourceType)
	if err != nil {
		return models.FailureResult(models.NewPipelineError(models.OpDatabase,
			"failed to check existing concepts", err))
	}
	if exists {
		h.logger.Info().
			Str("job_id", job.ID).
			Str("source", meta.Source).
			Msg("Concepts already generated, skipping")
		return models.SuccessResult(&models.JobResultData{Message: "Concepts already generated"})
	}

	triples, err := h.storage.TripleStorage().GetTriplesBySourcePrefix(ctx, meta.Source, meta.SourceType)
	if err != nil {
		return models.FailureResult(models.NewPipelineError(models.OpDatabase,
			"failed to load triples for source", err))
	}
	if len(triples) == 0 {
		return models.SuccessResult(&models.JobResultData{Message: "No triples to conceptualize"})
	}

	entities, events, relations := bucketElements(triples)

	payload, err := h.extractor.ExtractConcepts(ctx, entities, events, relations)
	if err != nil {
		return models.FailureResult(asPipelineError(err, models.OpAIExtraction))
	}

	now := time.Now()
	concepts := make([]*models.Concept, 0, len(payload.Concepts))
	for _, raw := range payload.Concepts {
		level := models.AbstractionLevel(strings.ToUpper(raw.AbstractionLevel))
		concepts = append(concepts, &models.Concept{
			ID:          common.ConceptID(raw.Concept, string(level), meta.Source),
			Concept:     raw.Concept,
			Level:       level,
			Confidence:  raw.Confidence,
			Source:      meta.Source,
			SourceType:  meta.SourceType,
			ExtractedAt: now,
		})
	}

	contextIndex := elementTripleIndex(triples)

	links := make([]*models.Conceptualization, 0, len(payload.Relationships))
	for _, raw := range payload.Relationships {
		links = append(links, &models.Conceptualization{
			ID:             common.ConceptualizationID(raw.SourceElement, raw.Concept, meta.Source),
			SourceElement:  raw.SourceElement,
			EntityType:     models.EntityType(strings.ToUpper(raw.EntityType)),
			Concept:        raw.Concept,
			Confidence:     raw.Confidence,
			Source:         meta.Source,
			SourceType:     meta.SourceType,
			ContextTriples: contextIndex[raw.SourceElement],
			ExtractedAt:    now,
		})
	}

	embMap, err := embeddings.GenerateEmbeddingMap(ctx, nil, concepts, h.embedder, h.config.Embeddings.BatchSize, h.logger)
	if err != nil {
		return models.FailureResult(models.NewPipelineError(models.OpEmbeddingGeneration,
			"failed to embed concept names", err))
	}

	vectors := make([]*models.VectorEmbedding, 0, len(concepts))
	for _, c := range concepts {
		vec := embMap.Get(c.Concept)
		if vec == nil {
			continue
		}
		vectors = append(vectors, &models.VectorEmbedding{
			ID:        common.VectorID(c.ID, string(models.VectorTypeConcept), c.Concept),
			Type:      models.VectorTypeConcept,
			Text:      c.Concept,
			Embedding: vec,
			ConceptID: c.ID,
		})
	}

	batch := &interfaces.KnowledgeBatch{
		Concepts:           concepts,
		Conceptualizations: links,
		Vectors:            vectors,
	}
	storeResult, err := h.storage.BatchStoreKnowledge(ctx, batch)
	if err != nil {
		return models.FailureResult(models.NewPipelineError(models.OpBatchStorage,
			"failed to store concepts", err))
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("source", meta.Source).
		Int("concepts_stored", storeResult.ConceptsStored).
		Int("links", len(links)).
		Int("vectors", storeResult.VectorsStored).
		Msg("Concept generation complete")

	return models.SuccessResult(&models.JobResultData{
		ConceptsStored:   storeResult.ConceptsStored,
		VectorsGenerated: storeResult.VectorsStored,
	})
}

// bucketElements splits the unique triple elements into entities, events,
// and relations by triple type. Predicates of every type are relations;
// EVENT-typed positions contribute events, everything else entities.
func bucketElements(triples []*models.Triple) (entities, events, relations []string) {
	entitySet := make(map[string]struct{})
	eventSet := make(map[string]struct{})
	relationSet := make(map[string]struct{})

	for _, t := range triples {
		relationSet[t.Predicate] = struct{}{}

		switch t.Type {
		case models.TripleTypeEntityEntity, models.TripleTypeEmotionalContext:
			entitySet[t.Subject] = struct{}{}
			entitySet[t.Object] = struct{}{}
		case models.TripleTypeEntityEvent:
			entitySet[t.Subject] = struct{}{}
			eventSet[t.Object] = struct{}{}
		case models.TripleTypeEventEvent:
			eventSet[t.Subject] = struct{}{}
			eventSet[t.Object] = struct{}{}
		}
	}

	return sortedKeys(entitySet), sortedKeys(eventSet), sortedKeys(relationSet)
}

// elementTripleIndex maps each element to the sorted IDs of every triple it
// appears in, whether as subject, predicate, or object. Links carry these
// IDs so a concept can be traced back to its evidence.
func elementTripleIndex(triples []*models.Triple) map[string][]string {
	sets := make(map[string]map[string]struct{})
	for _, t := range triples {
		for _, element := range []string{t.Subject, t.Predicate, t.Object} {
			if sets[element] == nil {
				sets[element] = make(map[string]struct{})
			}
			sets[element][t.ID] = struct{}{}
		}
	}

	index := make(map[string][]string, len(sets))
	for element, ids := range sets {
		index[element] = sortedKeys(ids)
	}
	return index
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
