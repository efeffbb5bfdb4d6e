// -----------------------------------------------------------------------
// Router - Dispatches queue messages to stage handlers
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

// Handler executes one job type. Handlers return a JobResult instead of
// panicking or leaking bare errors across the router boundary.
type Handler interface {
	Execute(ctx context.Context, job *models.ProcessingJob) models.JobResult
}

// Router resolves a queue message to its job, dispatches by job type, and
// records the outcome through the coordinator.
type Router struct {
	jobs        interfaces.JobStorage
	coordinator *Coordinator
	handlers    map[models.JobType]Handler
	logger      arbor.ILogger
}

// NewRouter creates a job router
func NewRouter(jobs interfaces.JobStorage, coordinator *Coordinator, logger arbor.ILogger) *Router {
	return &Router{
		jobs:        jobs,
		coordinator: coordinator,
		handlers:    make(map[models.JobType]Handler),
		logger:      logger,
	}
}

// Register binds a handler to a job type
func (r *Router) Register(jobType models.JobType, handler Handler) {
	r.handlers[jobType] = handler
}

// HandleMessage processes one queue message end to end. Terminal jobs are
// skipped, which makes redelivered messages harmless.
func (r *Router) HandleMessage(ctx context.Context, msg *interfaces.JobMessage) error {
	job, err := r.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", msg.JobID, err)
	}

	if job.IsTerminal() {
		r.logger.Debug().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("Skipping terminal job")
		return nil
	}

	handler, ok := r.handlers[job.Type]
	if !ok {
		pErr := models.NewPipelineError(models.OpDatabase,
			fmt.Sprintf("no handler for job type %s", job.Type), nil)
		if err := r.coordinator.MarkFailed(ctx, job.ID, pErr); err != nil {
			return err
		}
		return pErr
	}

	if err := r.coordinator.UpdateProgress(ctx, job.ID, 0, nil); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}

	result := handler.Execute(ctx, job)

	if !result.Success {
		pErr := result.Error
		if pErr == nil {
			pErr = models.NewPipelineError(models.OpDatabase, "handler reported failure without error", nil)
		}
		r.logger.Error().
			Str("job_id", job.ID).
			Str("type", string(job.Type)).
			Str("operation", pErr.Operation).
			Str("error", pErr.Message).
			Msg("Stage handler failed")
		return r.coordinator.MarkFailed(ctx, job.ID, pErr)
	}

	if result.Data != nil {
		fresh, err := r.jobs.GetJob(ctx, job.ID)
		if err == nil {
			fresh.Result = map[string]interface{}{
				"triples_stored":    result.Data.TriplesStored,
				"concepts_stored":   result.Data.ConceptsStored,
				"vectors_generated": result.Data.VectorsGenerated,
				"chunks_processed":  result.Data.ChunksProcessed,
				"message":           result.Data.Message,
			}
			if err := r.jobs.UpdateJob(ctx, fresh); err != nil {
				r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job result")
			}
		}
	}

	var metrics *models.ExtractionMetrics
	if result.Data != nil {
		metrics = result.Data.Metrics
	}
	return r.coordinator.UpdateProgress(ctx, job.ID, 100, metrics)
}
