// -----------------------------------------------------------------------
// ExtractionHandler - Chunked LLM extraction, dedup, and atomic storage
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
	"github.com/Andrewske/kgraph/internal/services/dedup"
	"github.com/Andrewske/kgraph/internal/services/embeddings"
	"github.com/Andrewske/kgraph/internal/services/extraction"
	"github.com/Andrewske/kgraph/internal/services/resources"
)

// ExtractionHandler runs the batch extraction stage: chunk, extract in
// parallel under admission control, embed once per unique text, dedup, and
// store everything in one transaction. Idempotent at the identity level
// (replays re-upsert the same rows), not at the job level.
type ExtractionHandler struct {
	storage     interfaces.StorageManager
	extractor   *extraction.Extractor
	embedder    interfaces.Embedder
	coordinator *Coordinator
	config      *common.Config
	logger      arbor.ILogger
}

// NewExtractionHandler creates the extraction stage handler
func NewExtractionHandler(
	storage interfaces.StorageManager,
	extractor *extraction.Extractor,
	embedder interfaces.Embedder,
	coordinator *Coordinator,
	config *common.Config,
	logger arbor.ILogger,
) *ExtractionHandler {
	return &ExtractionHandler{
		storage:     storage,
		extractor:   extractor,
		embedder:    embedder,
		coordinator: coordinator,
		config:      config,
		logger:      logger,
	}
}

// Execute runs the ten-step extraction algorithm for one job
func (h *ExtractionHandler) Execute(ctx context.Context, job *models.ProcessingJob) models.JobResult {
	start := time.Now()
	meta := job.Metadata

	chunks := extraction.ChunkText(job.Text, meta.Source, extraction.DefaultMaxTokens, extraction.DefaultOverlapTokens)

	h.logger.Info().
		Str("job_id", job.ID).
		Str("source", meta.Source).
		Int("chunks", len(chunks)).
		Msg("Starting batch extraction")

	h.progress(ctx, job.ID, 10)

	limits := resourceLimits(meta, h.config)
	resMgr := resources.NewManager(limits.MaxAICalls, limits.MaxConnections, h.logger)

	merged, chunksProcessed, err := h.extractChunks(ctx, resMgr, chunks, meta)
	if err != nil {
		return models.FailureResult(asPipelineError(err, models.OpBatchExtraction))
	}

	h.progress(ctx, job.ID, 80)

	embMap, err := embeddings.GenerateEmbeddingMap(ctx, merged, nil, h.embedder, h.config.Embeddings.BatchSize, h.logger)
	if err != nil {
		return models.FailureResult(models.NewPipelineError(models.OpEmbeddingGeneration,
			"failed to build embedding map", err))
	}

	deduper := dedup.NewDeduplicator(h.config.Pipeline.EnableSemanticDedup, h.config.Pipeline.SimilarityThreshold, h.logger)
	dedupResult := deduper.Deduplicate(merged, embMap.Get)

	batch := &interfaces.KnowledgeBatch{
		Triples: dedupResult.UniqueTriples,
		Vectors: buildTripleVectors(dedupResult.UniqueTriples, embMap),
	}

	var storeResult *interfaces.BatchStoreResult
	err = resMgr.WithDatabase(ctx, func(ctx context.Context) error {
		var storeErr error
		storeResult, storeErr = h.storage.BatchStoreKnowledge(ctx, batch)
		return storeErr
	})
	if err != nil {
		return models.FailureResult(models.NewPipelineError(models.OpBatchStorage,
			"failed to store knowledge batch", err))
	}

	h.progress(ctx, job.ID, 95)

	metrics := &models.ExtractionMetrics{
		TriplesStored:       storeResult.TriplesStored + storeResult.DuplicatesSkipped,
		VectorsGenerated:    embMap.Stats.UniqueTexts,
		ChunksProcessed:     chunksProcessed,
		DuplicatesRemoved:   dedupResult.DuplicatesRemoved,
		EmbeddingEfficiency: embMap.Efficiency(),
		ProcessingTime:      time.Since(start),
	}

	if job.ParentJobID != "" {
		if err := h.coordinator.SchedulePostProcessing(ctx, job.ParentJobID, metrics); err != nil {
			return models.FailureResult(models.NewPipelineError(models.OpPipelineInitiation,
				"failed to schedule post-processing stages", err))
		}
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Int("triples_stored", metrics.TriplesStored).
		Int("vectors_generated", metrics.VectorsGenerated).
		Int("chunks_processed", metrics.ChunksProcessed).
		Int("duplicates_removed", metrics.DuplicatesRemoved).
		Dur("processing_time", metrics.ProcessingTime).
		Msg("Batch extraction complete")

	return models.SuccessResult(&models.JobResultData{
		TriplesStored:    metrics.TriplesStored,
		VectorsGenerated: metrics.VectorsGenerated,
		ChunksProcessed:  metrics.ChunksProcessed,
		Metrics:          metrics,
	})
}

// extractChunks runs the oracle over every chunk in parallel under the AI
// semaphore. Per-chunk failures are logged and skipped; the stage fails
// only when no chunk succeeds.
func (h *ExtractionHandler) extractChunks(ctx context.Context, resMgr *resources.Manager, chunks []extraction.Chunk, meta models.JobMetadata) ([]*models.Triple, int, error) {
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		merged    []*models.Triple
		succeeded int
	)

	for _, chunk := range chunks {
		chunk := chunk
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := resMgr.WithAI(ctx, func(ctx context.Context) error {
				triples, _, err := h.extractor.ExtractChunk(ctx, chunk, meta)
				if err != nil {
					return err
				}
				mu.Lock()
				merged = append(merged, triples...)
				succeeded++
				mu.Unlock()
				return nil
			})
			if err != nil {
				h.logger.Warn().Err(err).
					Str("chunk_source", chunk.Source).
					Msg("Chunk extraction failed, skipping")
			}
		}()
	}
	wg.Wait()

	if succeeded == 0 {
		return nil, 0, fmt.Errorf("all %d chunks failed extraction", len(chunks))
	}
	return merged, succeeded, nil
}

// buildTripleVectors emits ENTITY vectors for subject and object,
// a RELATIONSHIP vector for the predicate, and a SEMANTIC vector for the
// full sentence of every unique triple. Vector identity is deterministic,
// so replays upsert instead of duplicating.
func buildTripleVectors(triples []*models.Triple, embMap *embeddings.EmbeddingMap) []*models.VectorEmbedding {
	var vectors []*models.VectorEmbedding
	seen := make(map[string]struct{})

	add := func(tripleID string, vectorType models.VectorType, text string) {
		vec := embMap.Get(text)
		if vec == nil {
			return
		}
		id := common.VectorID(tripleID, string(vectorType), text)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		vectors = append(vectors, &models.VectorEmbedding{
			ID:        id,
			Type:      vectorType,
			Text:      text,
			Embedding: vec,
			TripleID:  tripleID,
		})
	}

	for _, t := range triples {
		add(t.ID, models.VectorTypeEntity, t.Subject)
		add(t.ID, models.VectorTypeEntity, t.Object)
		add(t.ID, models.VectorTypeRelationship, t.Predicate)
		add(t.ID, models.VectorTypeSemantic, t.SemanticText())
	}

	return vectors
}

// resourceLimits resolves per-job limits from metadata with config defaults
func resourceLimits(meta models.JobMetadata, config *common.Config) models.ResourceLimits {
	limits := models.ResourceLimits{
		MaxAICalls:     config.Pipeline.MaxAICalls,
		MaxConnections: config.Pipeline.MaxDBConnections,
	}
	if meta.ResourceLimits != nil {
		if meta.ResourceLimits.MaxAICalls > 0 {
			limits.MaxAICalls = meta.ResourceLimits.MaxAICalls
		}
		if meta.ResourceLimits.MaxConnections > 0 {
			limits.MaxConnections = meta.ResourceLimits.MaxConnections
		}
	}
	return limits
}

func (h *ExtractionHandler) progress(ctx context.Context, jobID string, progress float64) {
	if err := h.coordinator.UpdateProgress(ctx, jobID, progress, nil); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist progress")
	}
}

// asPipelineError wraps a bare error in a classified pipeline error unless
// it already is one
func asPipelineError(err error, operation string) *models.PipelineError {
	if pErr, ok := err.(*models.PipelineError); ok {
		return pErr
	}
	return models.NewPipelineError(operation, err.Error(), err)
}
