// -----------------------------------------------------------------------
// Triple - Directed semantic relation extracted from source text
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// TripleType classifies the kind of relation a triple expresses
type TripleType string

const (
	TripleTypeEntityEntity     TripleType = "ENTITY_ENTITY"
	TripleTypeEntityEvent      TripleType = "ENTITY_EVENT"
	TripleTypeEventEvent       TripleType = "EVENT_EVENT"
	TripleTypeEmotionalContext TripleType = "EMOTIONAL_CONTEXT"
)

// AllTripleTypes lists every triple type, in extraction order
var AllTripleTypes = []TripleType{
	TripleTypeEntityEntity,
	TripleTypeEntityEvent,
	TripleTypeEventEvent,
	TripleTypeEmotionalContext,
}

// Triple represents a directed (subject, predicate, object) statement.
// Identity is deterministic: base64 of "subject|predicate|object|type",
// which makes upserts idempotent across job replays.
type Triple struct {
	ID                string     `json:"id" badgerhold:"key"`
	Subject           string     `json:"subject"`
	Predicate         string     `json:"predicate"`
	Object            string     `json:"object"`
	Type              TripleType `json:"type" badgerhold:"index"`
	Source            string     `json:"source" badgerhold:"index"`
	SourceType        string     `json:"source_type"`
	SourceDate        *time.Time `json:"source_date,omitempty"`
	ExtractedAt       time.Time  `json:"extracted_at"`
	Confidence        float64    `json:"confidence"`
	ProcessingBatchID string     `json:"processing_batch_id,omitempty"`
}

// SemanticText returns the full-sentence form used for SEMANTIC embeddings
func (t *Triple) SemanticText() string {
	return fmt.Sprintf("%s %s %s", t.Subject, t.Predicate, t.Object)
}

// Validate checks the triple invariants before storage
func (t *Triple) Validate() error {
	if t.Subject == "" || t.Predicate == "" || t.Object == "" {
		return fmt.Errorf("triple requires non-empty subject, predicate, and object")
	}
	switch t.Type {
	case TripleTypeEntityEntity, TripleTypeEntityEvent, TripleTypeEventEvent, TripleTypeEmotionalContext:
	default:
		return fmt.Errorf("invalid triple type: %s", t.Type)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %f", t.Confidence)
	}
	return nil
}

// Merge folds another observation of the same identity into this triple.
// Higher confidence wins; later extraction timestamp wins.
func (t *Triple) Merge(other *Triple) {
	if other.Confidence > t.Confidence {
		t.Confidence = other.Confidence
	}
	if other.ExtractedAt.After(t.ExtractedAt) {
		t.ExtractedAt = other.ExtractedAt
	}
	if t.SourceDate == nil && other.SourceDate != nil {
		t.SourceDate = other.SourceDate
	}
}
