// -----------------------------------------------------------------------
// DedupHandler - Standalone semantic deduplication over stored triples
// -----------------------------------------------------------------------

package pipeline

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
	"github.com/Andrewske/kgraph/internal/services/dedup"
	"github.com/Andrewske/kgraph/internal/services/embeddings"
)

// DedupHandler runs the DEDUPLICATION stage: load the source's stored
// triples, embed their semantic texts fresh (this stage has no prior
// embedding map), and delete absorbed duplicates with their owned vectors
// in one transaction.
type DedupHandler struct {
	storage  interfaces.StorageManager
	embedder interfaces.Embedder
	config   *common.Config
	logger   arbor.ILogger
}

// NewDedupHandler creates the deduplication stage handler
func NewDedupHandler(
	storage interfaces.StorageManager,
	embedder interfaces.Embedder,
	config *common.Config,
	logger arbor.ILogger,
) *DedupHandler {
	return &DedupHandler{
		storage:  storage,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}
}

// Execute runs deduplication for one job
func (h *DedupHandler) Execute(ctx context.Context, job *models.ProcessingJob) models.JobResult {
	if !h.config.Pipeline.EnableSemanticDedup {
		return models.SuccessResult(&models.JobResultData{Message: "Semantic deduplication disabled"})
	}

	meta := job.Metadata

	triples, err := h.storage.TripleStorage().GetTriplesBySourcePrefix(ctx, meta.Source, meta.SourceType)
	if err != nil {
		return models.FailureResult(models.NewPipelineError(models.OpDeduplication,
			"failed to load triples for source", err))
	}
	if len(triples) < 2 {
		return models.SuccessResult(&models.JobResultData{Message: "Nothing to deduplicate"})
	}

	embMap, err := embeddings.GenerateEmbeddingMap(ctx, triples, nil, h.embedder, h.config.Embeddings.BatchSize, h.logger)
	if err != nil {
		return models.FailureResult(models.NewPipelineError(models.OpEmbeddingGeneration,
			"failed to embed triples for deduplication", err))
	}

	deduper := dedup.NewDeduplicator(true, h.config.Pipeline.SimilarityThreshold, h.logger)
	result := deduper.Deduplicate(triples, embMap.Get)

	if result.DuplicatesRemoved == 0 {
		return models.SuccessResult(&models.JobResultData{Message: "No duplicates found"})
	}

	// Persist merged representatives (confidence/extracted_at may have
	// changed), then drop the absorbed rows and their vectors together.
	if _, _, err := h.storage.TripleStorage().StoreTriples(ctx, result.UniqueTriples); err != nil {
		return models.FailureResult(models.NewPipelineError(models.OpDeduplication,
			"failed to persist merged representatives", err))
	}

	absorbed := make([]string, 0, len(result.MergedMetadata))
	for _, m := range result.MergedMetadata {
		if m.AbsorbedID != "" && m.AbsorbedID != m.RepresentativeID {
			absorbed = append(absorbed, m.AbsorbedID)
		}
	}
	if err := h.storage.DeleteTriplesWithVectors(ctx, absorbed); err != nil {
		return models.FailureResult(models.NewPipelineError(models.OpDeduplication,
			"failed to delete duplicate triples", err))
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("source", meta.Source).
		Int("input_triples", len(triples)).
		Int("duplicates_removed", result.DuplicatesRemoved).
		Msg("Deduplication complete")

	return models.SuccessResult(&models.JobResultData{
		TriplesStored: len(result.UniqueTriples),
		Message:       "Deduplication complete",
	})
}
