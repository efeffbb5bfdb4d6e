package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
)

// fakeJobStorage is an in-memory JobStorage with the same stage
// uniqueness constraint as the Badger adapter
type fakeJobStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.ProcessingJob
}

func newFakeJobStorage() *fakeJobStorage {
	return &fakeJobStorage{jobs: make(map[string]*models.ProcessingJob)}
}

func (f *fakeJobStorage) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *job
	f.jobs[job.ID] = &clone
	return nil
}

func (f *fakeJobStorage) CreateChildJob(ctx context.Context, job *models.ProcessingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.jobs {
		if existing.ParentJobID == job.ParentJobID && existing.Stage != nil && job.Stage != nil && *existing.Stage == *job.Stage {
			return interfaces.ErrStageExists
		}
	}
	clone := *job
	f.jobs[job.ID] = &clone
	return nil
}

func (f *fakeJobStorage) GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	clone := *job
	return &clone, nil
}

func (f *fakeJobStorage) UpdateJob(ctx context.Context, job *models.ProcessingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *job
	f.jobs[job.ID] = &clone
	return nil
}

func (f *fakeJobStorage) GetChildJobs(ctx context.Context, parentID string) ([]*models.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ProcessingJob
	for _, job := range f.jobs {
		if job.ParentJobID == parentID {
			clone := *job
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeJobStorage) GetJobByStage(ctx context.Context, parentID string, stage models.PipelineStage) (*models.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ParentJobID == parentID && job.Stage != nil && *job.Stage == stage {
			clone := *job
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeJobStorage) GetStaleJobs(ctx context.Context, olderThan time.Duration) ([]*models.ProcessingJob, error) {
	return nil, nil
}

// recordingQueue captures enqueued messages with their delays
type recordingQueue struct {
	mu       sync.Mutex
	messages []interfaces.JobMessage
	delays   []time.Duration
	failNext bool
}

func (q *recordingQueue) Enqueue(ctx context.Context, msg interfaces.JobMessage, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext {
		q.failNext = false
		return fmt.Errorf("queue unavailable")
	}
	q.messages = append(q.messages, msg)
	q.delays = append(q.delays, delay)
	return nil
}

func newTestCoordinator(semanticDedup bool) (*Coordinator, *fakeJobStorage, *recordingQueue) {
	jobs := newFakeJobStorage()
	queue := &recordingQueue{}
	return NewCoordinator(jobs, queue, semanticDedup, arbor.NewLogger()), jobs, queue
}

func TestInitiatePipelineCreatesParentAndExtractionChild(t *testing.T) {
	coordinator, jobs, queue := newTestCoordinator(true)
	ctx := context.Background()

	parentID, err := coordinator.InitiatePipeline(ctx, InitiateArgs{
		Text:       "John works at Tech Corp.",
		Source:     "doc-1",
		SourceType: "document",
	})
	require.NoError(t, err)
	require.NotEmpty(t, parentID)

	parent, err := jobs.GetJob(ctx, parentID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, parent.Status)
	assert.Nil(t, parent.Stage)

	child, err := jobs.GetJobByStage(ctx, parentID, models.StageExtraction)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, models.JobTypeExtractKnowledgeBatch, child.Type)
	assert.Equal(t, models.JobStatusQueued, child.Status)
	assert.Equal(t, "John works at Tech Corp.", child.Text)

	require.Len(t, queue.messages, 1)
	assert.Equal(t, child.ID, queue.messages[0].JobID)
	assert.Equal(t, time.Duration(0), queue.delays[0])
}

func TestInitiatePipelineValidatesInput(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(true)
	ctx := context.Background()

	_, err := coordinator.InitiatePipeline(ctx, InitiateArgs{Source: "doc-1"})
	assert.Error(t, err)

	_, err = coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "   \n\t  ", Source: "doc-1"})
	assert.Error(t, err, "whitespace-only text is rejected")

	_, err = coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "some text"})
	assert.Error(t, err)
}

func TestInitiatePipelineSurvivesQueueFailure(t *testing.T) {
	coordinator, jobs, queue := newTestCoordinator(true)
	queue.failNext = true
	ctx := context.Background()

	parentID, err := coordinator.InitiatePipeline(ctx, InitiateArgs{
		Text:   "text",
		Source: "doc-1",
	})
	require.NoError(t, err)

	// The run stays observable even though nothing was enqueued
	child, err := jobs.GetJobByStage(ctx, parentID, models.StageExtraction)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Empty(t, queue.messages)
}

func TestSchedulePostProcessingDelays(t *testing.T) {
	coordinator, _, queue := newTestCoordinator(true)
	ctx := context.Background()

	parentID, err := coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "text", Source: "doc-1"})
	require.NoError(t, err)

	metrics := &models.ExtractionMetrics{ProcessingTime: 100 * time.Second}
	require.NoError(t, coordinator.SchedulePostProcessing(ctx, parentID, metrics))

	// extraction + concepts + dedup
	require.Len(t, queue.delays, 3)
	assert.Equal(t, 10*time.Second, queue.delays[1], "concepts delay is a tenth of processing time")
	assert.Equal(t, 20*time.Second, queue.delays[2], "dedup delay is a fifth of processing time")
}

func TestSchedulePostProcessingClampsDelays(t *testing.T) {
	coordinator, _, queue := newTestCoordinator(true)
	ctx := context.Background()

	parentID, err := coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "text", Source: "doc-1"})
	require.NoError(t, err)

	// Tiny run clamps to the minimums
	require.NoError(t, coordinator.SchedulePostProcessing(ctx, parentID,
		&models.ExtractionMetrics{ProcessingTime: time.Second}))
	require.Len(t, queue.delays, 3)
	assert.Equal(t, 6*time.Second, queue.delays[1])
	assert.Equal(t, 12*time.Second, queue.delays[2])

	// Huge run clamps to the maximums
	parentID2, err := coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "text", Source: "doc-2"})
	require.NoError(t, err)
	require.NoError(t, coordinator.SchedulePostProcessing(ctx, parentID2,
		&models.ExtractionMetrics{ProcessingTime: time.Hour}))
	require.Len(t, queue.delays, 6)
	assert.Equal(t, 60*time.Second, queue.delays[4])
	assert.Equal(t, 120*time.Second, queue.delays[5])
}

func TestSchedulePostProcessingIdempotent(t *testing.T) {
	coordinator, jobs, queue := newTestCoordinator(true)
	ctx := context.Background()

	parentID, err := coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "text", Source: "doc-1"})
	require.NoError(t, err)

	metrics := &models.ExtractionMetrics{ProcessingTime: 100 * time.Second}
	require.NoError(t, coordinator.SchedulePostProcessing(ctx, parentID, metrics))
	require.NoError(t, coordinator.SchedulePostProcessing(ctx, parentID, metrics))

	// Replayed scheduling hits the stage constraint and enqueues nothing new
	children, err := jobs.GetChildJobs(ctx, parentID)
	require.NoError(t, err)
	assert.Len(t, children, 3)
	assert.Len(t, queue.messages, 3)
}

func TestSchedulePostProcessingSkipsDedupWhenDisabled(t *testing.T) {
	coordinator, jobs, _ := newTestCoordinator(false)
	ctx := context.Background()

	parentID, err := coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "text", Source: "doc-1"})
	require.NoError(t, err)
	require.NoError(t, coordinator.SchedulePostProcessing(ctx, parentID, nil))

	dedupChild, err := jobs.GetJobByStage(ctx, parentID, models.StageDeduplication)
	require.NoError(t, err)
	assert.Nil(t, dedupChild)

	conceptChild, err := jobs.GetJobByStage(ctx, parentID, models.StageConcepts)
	require.NoError(t, err)
	assert.NotNil(t, conceptChild)
}

func TestUpdateProgressLifecycle(t *testing.T) {
	coordinator, jobs, _ := newTestCoordinator(true)
	ctx := context.Background()

	parentID, err := coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "text", Source: "doc-1"})
	require.NoError(t, err)
	child, err := jobs.GetJobByStage(ctx, parentID, models.StageExtraction)
	require.NoError(t, err)

	// First update moves QUEUED to PROCESSING and stamps startedAt
	require.NoError(t, coordinator.UpdateProgress(ctx, child.ID, 10, nil))
	job, err := jobs.GetJob(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, float64(10), job.Progress)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.Heartbeat)

	// Progress is monotone: a lower value does not regress it
	require.NoError(t, coordinator.UpdateProgress(ctx, child.ID, 5, nil))
	job, _ = jobs.GetJob(ctx, child.ID)
	assert.Equal(t, float64(10), job.Progress)

	// Values clamp to [0, 100]; 100 completes the job
	require.NoError(t, coordinator.UpdateProgress(ctx, child.ID, 150, nil))
	job, _ = jobs.GetJob(ctx, child.ID)
	assert.Equal(t, float64(100), job.Progress)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)

	// Terminal jobs ignore further updates
	require.NoError(t, coordinator.UpdateProgress(ctx, child.ID, 0, nil))
	job, _ = jobs.GetJob(ctx, child.ID)
	assert.Equal(t, float64(100), job.Progress)
}

func TestMarkFailedTerminatesJob(t *testing.T) {
	coordinator, jobs, _ := newTestCoordinator(true)
	ctx := context.Background()

	parentID, err := coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "text", Source: "doc-1"})
	require.NoError(t, err)
	child, err := jobs.GetJobByStage(ctx, parentID, models.StageExtraction)
	require.NoError(t, err)

	pErr := models.NewPipelineError(models.OpAIExtraction, "model refused", nil)
	require.NoError(t, coordinator.MarkFailed(ctx, child.ID, pErr))

	job, err := jobs.GetJob(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "model refused")
	assert.NotNil(t, job.CompletedAt)
}

func TestParentCompletesWhenAllChildrenTerminal(t *testing.T) {
	coordinator, jobs, _ := newTestCoordinator(false)
	ctx := context.Background()

	parentID, err := coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "text", Source: "doc-1"})
	require.NoError(t, err)
	require.NoError(t, coordinator.SchedulePostProcessing(ctx, parentID, nil))

	extraction, _ := jobs.GetJobByStage(ctx, parentID, models.StageExtraction)
	concepts, _ := jobs.GetJobByStage(ctx, parentID, models.StageConcepts)

	require.NoError(t, coordinator.UpdateProgress(ctx, extraction.ID, 100, nil))
	parent, _ := jobs.GetJob(ctx, parentID)
	assert.Equal(t, models.JobStatusProcessing, parent.Status, "one child still pending")

	require.NoError(t, coordinator.UpdateProgress(ctx, concepts.ID, 100, nil))
	parent, _ = jobs.GetJob(ctx, parentID)
	assert.Equal(t, models.JobStatusCompleted, parent.Status)
	assert.Equal(t, float64(100), parent.Progress)
}

func TestIsPipelineCompleteZeroChildren(t *testing.T) {
	coordinator, jobs, _ := newTestCoordinator(true)
	ctx := context.Background()

	parent := models.NewParentJob("text", models.JobMetadata{Source: "doc-1"})
	require.NoError(t, jobs.CreateJob(ctx, parent))

	complete, err := coordinator.IsPipelineComplete(ctx, parent.ID)
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestGetPipelineStatus(t *testing.T) {
	coordinator, jobs, _ := newTestCoordinator(false)
	ctx := context.Background()

	parentID, err := coordinator.InitiatePipeline(ctx, InitiateArgs{Text: "text", Source: "doc-1"})
	require.NoError(t, err)
	require.NoError(t, coordinator.SchedulePostProcessing(ctx, parentID, nil))

	extraction, _ := jobs.GetJobByStage(ctx, parentID, models.StageExtraction)
	require.NoError(t, coordinator.UpdateProgress(ctx, extraction.ID, 80, nil))

	status, err := coordinator.GetPipelineStatus(ctx, parentID)
	require.NoError(t, err)
	assert.Equal(t, parentID, status.ParentID)
	assert.False(t, status.IsComplete)
	require.Contains(t, status.Stages, models.StageExtraction)
	assert.Equal(t, float64(80), status.Stages[models.StageExtraction].Progress)
	require.Contains(t, status.Stages, models.StageConcepts)
	assert.Equal(t, models.JobStatusQueued, status.Stages[models.StageConcepts].Status)
}
