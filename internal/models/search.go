// -----------------------------------------------------------------------
// Fusion search result types
// -----------------------------------------------------------------------

package models

import "time"

// SearchStrategy names one of the four parallel index strategies
type SearchStrategy string

const (
	StrategyEntity       SearchStrategy = "entity"
	StrategyRelationship SearchStrategy = "relationship"
	StrategySemantic     SearchStrategy = "semantic"
	StrategyConcept      SearchStrategy = "concept"
)

// AllStrategies lists the strategies fusion search enables by default
var AllStrategies = []SearchStrategy{
	StrategyEntity,
	StrategyRelationship,
	StrategySemantic,
	StrategyConcept,
}

// FusionScores holds the per-strategy position scores plus the fused score
type FusionScores struct {
	Entity       *float64 `json:"entity,omitempty"`
	Relationship *float64 `json:"relationship,omitempty"`
	Semantic     *float64 `json:"semantic,omitempty"`
	Concept      *float64 `json:"concept,omitempty"`
	Fusion       float64  `json:"fusion"`
}

// FusionResult is one ranked triple returned by fusion search
type FusionResult struct {
	Triple      *Triple      `json:"triple"`
	Scores      FusionScores `json:"scores"`
	SearchTypes []string     `json:"search_types"`
}

// TimeWindow expresses a relative temporal filter
type TimeWindow struct {
	From  string `json:"from"` // "now" or an ISO timestamp
	Value int    `json:"value"`
	Unit  string `json:"unit"` // days | weeks | months | years
}

// TemporalFilter is either an absolute range or a relative window
type TemporalFilter struct {
	FromDate   *time.Time  `json:"from_date,omitempty"`
	ToDate     *time.Time  `json:"to_date,omitempty"`
	TimeWindow *TimeWindow `json:"time_window,omitempty"`
}

// Bounds resolves the filter to absolute [from, to] bounds. A relative
// TimeWindow is anchored at its From timestamp ("now" means time.Now) and
// extends Value units backwards. Explicit dates take precedence.
func (f *TemporalFilter) Bounds() (*time.Time, *time.Time) {
	if f == nil {
		return nil, nil
	}
	if f.FromDate != nil || f.ToDate != nil {
		return f.FromDate, f.ToDate
	}
	if f.TimeWindow == nil {
		return nil, nil
	}

	anchor := time.Now()
	if f.TimeWindow.From != "" && f.TimeWindow.From != "now" {
		if parsed, err := time.Parse(time.RFC3339, f.TimeWindow.From); err == nil {
			anchor = parsed
		}
	}

	var span time.Duration
	switch f.TimeWindow.Unit {
	case "days":
		span = time.Duration(f.TimeWindow.Value) * 24 * time.Hour
	case "weeks":
		span = time.Duration(f.TimeWindow.Value) * 7 * 24 * time.Hour
	case "months":
		span = time.Duration(f.TimeWindow.Value) * 30 * 24 * time.Hour
	case "years":
		span = time.Duration(f.TimeWindow.Value) * 365 * 24 * time.Hour
	default:
		return nil, nil
	}

	from := anchor.Add(-span)
	return &from, &anchor
}

// SearchFilter carries the filtering options common to all search queries
type SearchFilter struct {
	Temporal  *TemporalFilter `json:"temporal,omitempty"`
	Sources   []string        `json:"sources,omitempty"`
	Types     []TripleType    `json:"types,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Threshold float64         `json:"threshold,omitempty"`
}

// ScoredTriple pairs a triple with a raw similarity score from one index
type ScoredTriple struct {
	Triple *Triple `json:"triple"`
	Score  float64 `json:"score"`
}

// ScoredConcept pairs a concept with a raw similarity score
type ScoredConcept struct {
	Concept *Concept `json:"concept"`
	Score   float64  `json:"score"`
}
