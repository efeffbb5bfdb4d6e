// -----------------------------------------------------------------------
// ProcessingJob - Unit of background pipeline work
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType identifies which handler executes a job
type JobType string

const (
	JobTypeProcessKnowledge      JobType = "PROCESS_KNOWLEDGE"
	JobTypeExtractKnowledgeBatch JobType = "EXTRACT_KNOWLEDGE_BATCH"
	JobTypeGenerateConcepts      JobType = "GENERATE_CONCEPTS"
	JobTypeDeduplicateKnowledge  JobType = "DEDUPLICATE_KNOWLEDGE"
)

// PipelineStage names the stage a child job belongs to. Parents have no stage.
type PipelineStage string

const (
	StageExtraction    PipelineStage = "EXTRACTION"
	StageConcepts      PipelineStage = "CONCEPTS"
	StageDeduplication PipelineStage = "DEDUPLICATION"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// ResourceLimits carries per-job overrides for admission control
type ResourceLimits struct {
	MaxAICalls     int `json:"max_ai_calls,omitempty"`
	MaxConnections int `json:"max_connections,omitempty"`
}

// JobMetadata is the structured metadata attached at job creation.
// It is an immutable snapshot: handlers read it but never rewrite it,
// except for the coordinator persisting extraction metrics on children.
type JobMetadata struct {
	Source         string             `json:"source"`
	SourceType     string             `json:"source_type"`
	SourceDate     *time.Time         `json:"source_date,omitempty"`
	ResourceLimits *ResourceLimits    `json:"resource_limits,omitempty"`
	Extraction     *ExtractionMetrics `json:"extraction_metrics,omitempty"`
}

// ExtractionMetrics summarizes what the extraction stage did; the coordinator
// persists them onto the CONCEPTS/DEDUPLICATION children it schedules.
type ExtractionMetrics struct {
	TriplesStored       int           `json:"triples_stored"`
	ConceptsStored      int           `json:"concepts_stored"`
	VectorsGenerated    int           `json:"vectors_generated"`
	ChunksProcessed     int           `json:"chunks_processed"`
	DuplicatesRemoved   int           `json:"duplicates_removed"`
	EmbeddingEfficiency float64       `json:"embedding_efficiency"`
	ProcessingTime      time.Duration `json:"processing_time"`
}

// ProcessingJob is a unit of background work. A parent job (stage nil)
// tracks the pipeline as a whole; each stage runs as a child job.
type ProcessingJob struct {
	ID           string                 `json:"id" badgerhold:"key"`
	Type         JobType                `json:"job_type" badgerhold:"index"`
	ParentJobID  string                 `json:"parent_job_id,omitempty" badgerhold:"index"`
	Stage        *PipelineStage         `json:"stage,omitempty"`
	Text         string                 `json:"text"`
	Metadata     JobMetadata            `json:"metadata"`
	Status       JobStatus              `json:"status" badgerhold:"index"`
	Progress     float64                `json:"progress"`
	Metrics      *ExtractionMetrics     `json:"metrics,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Heartbeat    *time.Time             `json:"heartbeat,omitempty"`
}

// NewParentJob creates the PROCESSING parent that owns a pipeline run
func NewParentJob(text string, metadata JobMetadata) *ProcessingJob {
	return &ProcessingJob{
		ID:        "job_" + uuid.New().String(),
		Type:      JobTypeProcessKnowledge,
		Text:      text,
		Metadata:  metadata,
		Status:    JobStatusProcessing,
		CreatedAt: time.Now(),
	}
}

// NewChildJob creates a QUEUED child for one pipeline stage
func NewChildJob(parentID string, jobType JobType, stage PipelineStage, text string, metadata JobMetadata) *ProcessingJob {
	s := stage
	return &ProcessingJob{
		ID:          "job_" + uuid.New().String(),
		Type:        jobType,
		ParentJobID: parentID,
		Stage:       &s,
		Text:        text,
		Metadata:    metadata,
		Status:      JobStatusQueued,
		CreatedAt:   time.Now(),
	}
}

// IsTerminal reports whether the job reached a final status
func (j *ProcessingJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// StageName returns the stage or "" for parent jobs
func (j *ProcessingJob) StageName() string {
	if j.Stage == nil {
		return ""
	}
	return string(*j.Stage)
}

// Validate checks structural job invariants
func (j *ProcessingJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.Type == "" {
		return fmt.Errorf("job type is required")
	}
	if j.ParentJobID == "" && j.Stage != nil {
		return fmt.Errorf("parent job must not carry a stage")
	}
	if j.ParentJobID != "" && j.Stage == nil {
		return fmt.Errorf("child job requires a stage")
	}
	return nil
}
