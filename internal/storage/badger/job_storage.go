package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serializes the check-then-insert in CreateChildJob; badgerhold has no
	// multi-key uniqueness constraint.
	childMu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if err := s.db.Store().Insert(job.ID, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// CreateChildJob creates a child job under the (parent_job_id, stage)
// uniqueness constraint. A second child for the same stage returns
// interfaces.ErrStageExists, which schedulers treat as already-scheduled.
func (s *JobStorage) CreateChildJob(ctx context.Context, job *models.ProcessingJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if job.Stage == nil {
		return fmt.Errorf("child job requires a stage")
	}

	s.childMu.Lock()
	defer s.childMu.Unlock()

	existing, err := s.GetJobByStage(ctx, job.ParentJobID, *job.Stage)
	if err != nil {
		return err
	}
	if existing != nil {
		return interfaces.ErrStageExists
	}

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		return fmt.Errorf("failed to create child job: %w", err)
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("parent_id", job.ParentJobID).
		Str("stage", job.StageName()).
		Msg("Child job created")

	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.ProcessingJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetChildJobs(ctx context.Context, parentID string) ([]*models.ProcessingJob, error) {
	var jobs []models.ProcessingJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("ParentJobID").Eq(parentID).Index("ParentJobID").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to get child jobs: %w", err)
	}
	result := make([]*models.ProcessingJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// GetJobByStage returns the child for (parentID, stage), or nil when the
// stage has no child yet
func (s *JobStorage) GetJobByStage(ctx context.Context, parentID string, stage models.PipelineStage) (*models.ProcessingJob, error) {
	children, err := s.GetChildJobs(ctx, parentID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.Stage != nil && *child.Stage == stage {
			return child, nil
		}
	}
	return nil, nil
}

// GetStaleJobs returns PROCESSING jobs whose heartbeat (or start time when
// no heartbeat was ever written) lapsed beyond olderThan
func (s *JobStorage) GetStaleJobs(ctx context.Context, olderThan time.Duration) ([]*models.ProcessingJob, error) {
	var jobs []models.ProcessingJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusProcessing).Index("Status")); err != nil {
		return nil, fmt.Errorf("failed to query processing jobs: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	var stale []*models.ProcessingJob
	for i := range jobs {
		last := jobs[i].Heartbeat
		if last == nil {
			last = jobs[i].StartedAt
		}
		if last == nil {
			// Never started; use creation time
			t := jobs[i].CreatedAt
			last = &t
		}
		if last.Before(cutoff) {
			stale = append(stale, &jobs[i])
		}
	}
	return stale, nil
}
