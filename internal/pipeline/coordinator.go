// -----------------------------------------------------------------------
// Coordinator - Pipeline job lifecycle and stage scheduling
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

// InitiateArgs carries everything needed to start a pipeline run
type InitiateArgs struct {
	Text       string
	Source     string
	SourceType string
	SourceDate *time.Time
	Limits     *models.ResourceLimits
}

// StageSnapshot is one stage's view in a pipeline status report
type StageSnapshot struct {
	JobID    string           `json:"job_id"`
	Status   models.JobStatus `json:"status"`
	Progress float64          `json:"progress"`
	Error    string           `json:"error,omitempty"`
}

// PipelineStatus is the aggregate view of one pipeline run
type PipelineStatus struct {
	ParentID   string                                  `json:"parent_id"`
	Status     models.JobStatus                        `json:"status"`
	Stages     map[models.PipelineStage]*StageSnapshot `json:"stages"`
	IsComplete bool                                    `json:"is_complete"`
}

// Coordinator owns the job lifecycle for pipeline runs. Only the extraction
// handler schedules follow-up stages, and the (parent, stage) uniqueness
// constraint in job storage makes that scheduling exactly-once even under
// message redelivery.
type Coordinator struct {
	jobs          interfaces.JobStorage
	queue         interfaces.JobQueue
	semanticDedup bool
	logger        arbor.ILogger
}

// NewCoordinator creates the pipeline coordinator. queue may be nil; job
// creation still works, the jobs just sit QUEUED until a queue is restored.
func NewCoordinator(jobs interfaces.JobStorage, queue interfaces.JobQueue, semanticDedup bool, logger arbor.ILogger) *Coordinator {
	return &Coordinator{
		jobs:          jobs,
		queue:         queue,
		semanticDedup: semanticDedup,
		logger:        logger,
	}
}

// InitiatePipeline creates the PROCESSING parent and its single EXTRACTION
// child, then enqueues the child with no delay. A queue failure does not
// fail initiation: the parent id is still returned and the run remains
// observable, it just will not progress until the queue comes back.
func (c *Coordinator) InitiatePipeline(ctx context.Context, args InitiateArgs) (string, error) {
	if strings.TrimSpace(args.Text) == "" {
		return "", models.NewPipelineError(models.OpPipelineInitiation, "text is required", nil)
	}
	if args.Source == "" {
		return "", models.NewPipelineError(models.OpPipelineInitiation, "source is required", nil)
	}

	metadata := models.JobMetadata{
		Source:         args.Source,
		SourceType:     args.SourceType,
		SourceDate:     args.SourceDate,
		ResourceLimits: args.Limits,
	}

	parent := models.NewParentJob(args.Text, metadata)
	if err := c.jobs.CreateJob(ctx, parent); err != nil {
		return "", models.NewPipelineError(models.OpPipelineInitiation, "failed to create parent job", err)
	}

	child := models.NewChildJob(parent.ID, models.JobTypeExtractKnowledgeBatch, models.StageExtraction, args.Text, metadata)
	if err := c.jobs.CreateChildJob(ctx, child); err != nil {
		return "", models.NewPipelineError(models.OpPipelineInitiation, "failed to create extraction job", err)
	}

	if err := c.enqueue(ctx, child, 0); err != nil {
		c.logger.Warn().Err(err).
			Str("parent_id", parent.ID).
			Str("job_id", child.ID).
			Msg("Queue unavailable, extraction job created but not enqueued")
	}

	c.logger.Info().
		Str("parent_id", parent.ID).
		Str("extraction_job_id", child.ID).
		Str("source", args.Source).
		Msg("Pipeline initiated")

	return parent.ID, nil
}

// SchedulePostProcessing creates the CONCEPTS child and, when semantic
// dedup is enabled, the DEDUPLICATION child. Called by the extraction
// handler exactly once per parent; a replayed call hits the stage
// uniqueness constraint and becomes a no-op for that stage.
func (c *Coordinator) SchedulePostProcessing(ctx context.Context, parentID string, metrics *models.ExtractionMetrics) error {
	parent, err := c.jobs.GetJob(ctx, parentID)
	if err != nil {
		return fmt.Errorf("failed to load parent job: %w", err)
	}

	metadata := parent.Metadata
	metadata.Extraction = metrics

	processingSeconds := 0.0
	if metrics != nil {
		processingSeconds = metrics.ProcessingTime.Seconds()
	}

	conceptDelay := stageDelay(processingSeconds, 0.1, 6, 60)
	if err := c.scheduleStage(ctx, parent, models.JobTypeGenerateConcepts, models.StageConcepts, metadata, conceptDelay); err != nil {
		return err
	}

	if c.semanticDedup {
		dedupDelay := stageDelay(processingSeconds, 0.2, 12, 120)
		if err := c.scheduleStage(ctx, parent, models.JobTypeDeduplicateKnowledge, models.StageDeduplication, metadata, dedupDelay); err != nil {
			return err
		}
	}

	return nil
}

func (c *Coordinator) scheduleStage(ctx context.Context, parent *models.ProcessingJob, jobType models.JobType, stage models.PipelineStage, metadata models.JobMetadata, delay time.Duration) error {
	child := models.NewChildJob(parent.ID, jobType, stage, "", metadata)

	err := c.jobs.CreateChildJob(ctx, child)
	if errors.Is(err, interfaces.ErrStageExists) {
		c.logger.Debug().
			Str("parent_id", parent.ID).
			Str("stage", string(stage)).
			Msg("Stage already scheduled, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create %s job: %w", stage, err)
	}

	if err := c.enqueue(ctx, child, delay); err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", stage, err)
	}

	c.logger.Info().
		Str("parent_id", parent.ID).
		Str("job_id", child.ID).
		Str("stage", string(stage)).
		Dur("delay", delay).
		Msg("Post-processing stage scheduled")

	return nil
}

// stageDelay computes the settle delay for a follow-up stage as a fraction
// of the extraction processing time, clamped to [min, max] seconds
func stageDelay(processingSeconds, fraction, min, max float64) time.Duration {
	delay := processingSeconds * fraction
	if delay < min {
		delay = min
	}
	if delay > max {
		delay = max
	}
	return time.Duration(delay * float64(time.Second))
}

// UpdateProgress clamps progress to [0,100] and keeps it monotone
// non-decreasing. The first update moves a QUEUED job to PROCESSING and
// stamps startedAt; reaching 100 completes the job. Every update refreshes
// the heartbeat for the stale-job sweep.
func (c *Coordinator) UpdateProgress(ctx context.Context, jobID string, progress float64, metrics *models.ExtractionMetrics) error {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress > job.Progress {
		job.Progress = progress
	}

	now := time.Now()
	job.Heartbeat = &now

	if job.Status == models.JobStatusQueued {
		job.Status = models.JobStatusProcessing
		job.StartedAt = &now
	}
	if metrics != nil {
		job.Metrics = metrics
	}
	if job.Progress >= 100 {
		job.Status = models.JobStatusCompleted
		job.CompletedAt = &now
	}

	if err := c.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	if job.IsTerminal() && job.ParentJobID != "" {
		c.completeParentIfDone(ctx, job.ParentJobID)
	}
	return nil
}

// MarkFailed records a classified failure on the job and terminates it
func (c *Coordinator) MarkFailed(ctx context.Context, jobID string, pErr *models.PipelineError) error {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	now := time.Now()
	job.Status = models.JobStatusFailed
	job.ErrorMessage = pErr.Error()
	job.CompletedAt = &now

	if err := c.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	if job.ParentJobID != "" {
		c.completeParentIfDone(ctx, job.ParentJobID)
	}
	return nil
}

// completeParentIfDone transitions the parent to COMPLETED once every child
// is terminal. Best-effort: a failure here only delays the transition until
// the next child update.
func (c *Coordinator) completeParentIfDone(ctx context.Context, parentID string) {
	complete, err := c.IsPipelineComplete(ctx, parentID)
	if err != nil || !complete {
		return
	}

	parent, err := c.jobs.GetJob(ctx, parentID)
	if err != nil || parent.IsTerminal() {
		return
	}

	now := time.Now()
	parent.Status = models.JobStatusCompleted
	parent.Progress = 100
	parent.CompletedAt = &now
	if err := c.jobs.UpdateJob(ctx, parent); err != nil {
		c.logger.Warn().Err(err).Str("parent_id", parentID).Msg("Failed to complete parent job")
		return
	}

	c.logger.Info().Str("parent_id", parentID).Msg("Pipeline complete")
}

// GetPipelineStatus returns the parent status with a per-stage snapshot
func (c *Coordinator) GetPipelineStatus(ctx context.Context, parentID string) (*PipelineStatus, error) {
	parent, err := c.jobs.GetJob(ctx, parentID)
	if err != nil {
		return nil, err
	}

	children, err := c.jobs.GetChildJobs(ctx, parentID)
	if err != nil {
		return nil, err
	}

	status := &PipelineStatus{
		ParentID: parentID,
		Status:   parent.Status,
		Stages:   make(map[models.PipelineStage]*StageSnapshot, len(children)),
	}

	allTerminal := len(children) > 0
	for _, child := range children {
		if child.Stage == nil {
			continue
		}
		status.Stages[*child.Stage] = &StageSnapshot{
			JobID:    child.ID,
			Status:   child.Status,
			Progress: child.Progress,
			Error:    child.ErrorMessage,
		}
		if !child.IsTerminal() {
			allTerminal = false
		}
	}
	status.IsComplete = allTerminal

	return status, nil
}

// IsPipelineComplete reports whether every child reached a terminal status.
// A pipeline with zero children is not complete.
func (c *Coordinator) IsPipelineComplete(ctx context.Context, parentID string) (bool, error) {
	children, err := c.jobs.GetChildJobs(ctx, parentID)
	if err != nil {
		return false, err
	}
	if len(children) == 0 {
		return false, nil
	}
	for _, child := range children {
		if !child.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

// GetJobByStage is a lookup helper over job storage
func (c *Coordinator) GetJobByStage(ctx context.Context, parentID string, stage models.PipelineStage) (*models.ProcessingJob, error) {
	return c.jobs.GetJobByStage(ctx, parentID, stage)
}

func (c *Coordinator) enqueue(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error {
	if c.queue == nil {
		return fmt.Errorf("no queue configured")
	}
	msg := interfaces.JobMessage{JobID: job.ID, Type: string(job.Type)}
	return c.queue.Enqueue(ctx, msg, delay)
}
