// -----------------------------------------------------------------------
// JobResult / PipelineError - Result types crossing the router boundary
// -----------------------------------------------------------------------

package models

import "fmt"

// Operation values classify pipeline failures. Handlers attach one of these
// to every error they return; the router records it on the failed job.
const (
	OpParseError          = "parse_error"
	OpAIExtraction        = "ai_extraction"
	OpEmbeddingGeneration = "embedding_generation"
	OpBatchStorage        = "batch_storage"
	OpVectorStorage       = "vector_storage_error"
	OpDeduplication       = "deduplication_error"
	OpBatchExtraction     = "batch_extraction"
	OpPipelineInitiation  = "pipeline_initiation"
	OpSearch              = "search_error"
	OpFusionSearch        = "fusion_search_error"
	OpDatabase            = "database_error"
)

// PipelineError is the error sum carried by failing handler steps.
// Handlers never panic or return bare errors across the router boundary.
type PipelineError struct {
	Operation string `json:"operation"`
	Message   string `json:"message"`
	Cause     error  `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError builds a classified pipeline error
func NewPipelineError(operation, message string, cause error) *PipelineError {
	return &PipelineError{Operation: operation, Message: message, Cause: cause}
}

// JobResultData is the success payload of a handler execution
type JobResultData struct {
	TriplesStored    int                `json:"triples_stored"`
	ConceptsStored   int                `json:"concepts_stored"`
	VectorsGenerated int                `json:"vectors_generated"`
	ChunksProcessed  int                `json:"chunks_processed"`
	Message          string             `json:"message,omitempty"`
	Metrics          *ExtractionMetrics `json:"metrics,omitempty"`
}

// JobResult is what every handler returns to the router
type JobResult struct {
	Success bool           `json:"success"`
	Data    *JobResultData `json:"data,omitempty"`
	Error   *PipelineError `json:"error,omitempty"`
}

// SuccessResult wraps a payload in a successful JobResult
func SuccessResult(data *JobResultData) JobResult {
	return JobResult{Success: true, Data: data}
}

// FailureResult wraps a classified error in a failed JobResult
func FailureResult(err *PipelineError) JobResult {
	return JobResult{Success: false, Error: err}
}
