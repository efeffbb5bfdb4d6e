// -----------------------------------------------------------------------
// Concept - Abstraction derived from a set of triples
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// AbstractionLevel indicates how general a concept is
type AbstractionLevel string

const (
	AbstractionHigh   AbstractionLevel = "HIGH"
	AbstractionMedium AbstractionLevel = "MEDIUM"
	AbstractionLow    AbstractionLevel = "LOW"
)

// EntityType classifies which kind of triple element a conceptualization
// link refers to
type EntityType string

const (
	EntityTypeEntity   EntityType = "ENTITY"
	EntityTypeEvent    EntityType = "EVENT"
	EntityTypeRelation EntityType = "RELATION"
)

// Concept is a discovered abstraction (e.g. "Technology Industry") at one of
// three granularities. Identity is base64 of "concept|level|source".
type Concept struct {
	ID          string           `json:"id" badgerhold:"key"`
	Concept     string           `json:"concept"`
	Level       AbstractionLevel `json:"abstraction_level" badgerhold:"index"`
	Confidence  float64          `json:"confidence"`
	Source      string           `json:"source" badgerhold:"index"`
	SourceType  string           `json:"source_type"`
	ExtractedAt time.Time        `json:"extracted_at"`
}

// Validate checks concept invariants before storage
func (c *Concept) Validate() error {
	if c.Concept == "" {
		return fmt.Errorf("concept name is required")
	}
	switch c.Level {
	case AbstractionHigh, AbstractionMedium, AbstractionLow:
	default:
		return fmt.Errorf("invalid abstraction level: %s", c.Level)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %f", c.Confidence)
	}
	return nil
}

// Conceptualization links a triple element (subject, predicate, or object)
// to a concept. Links reference elements by value, not by foreign key, so
// the table behaves as an append-only index.
type Conceptualization struct {
	ID             string     `json:"id" badgerhold:"key"`
	SourceElement  string     `json:"source_element"`
	EntityType     EntityType `json:"entity_type"`
	Concept        string     `json:"concept" badgerhold:"index"`
	Confidence     float64    `json:"confidence"`
	ContextTriples []string   `json:"context_triples,omitempty"`
	Source         string     `json:"source" badgerhold:"index"`
	SourceType     string     `json:"source_type"`
	ExtractedAt    time.Time  `json:"extracted_at"`
}
