// -----------------------------------------------------------------------
// Extractor - LLM-backed triple and concept extraction
// -----------------------------------------------------------------------

package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
	"github.com/Andrewske/kgraph/internal/schemas"
	"github.com/Andrewske/kgraph/internal/services/llm"
)

// Method selects how a chunk is extracted
type Method string

const (
	// MethodFourStage runs one structured call per triple type and unions
	// the results. More calls, but each prompt is narrower and the miss
	// rate on sparse types drops.
	MethodFourStage Method = "four-stage"
	// MethodSinglePass runs one structured call for all four types
	MethodSinglePass Method = "single-pass"
)

// rawTriple mirrors the oracle's extraction payload
type rawTriple struct {
	Subject         string  `json:"subject"`
	Predicate       string  `json:"predicate"`
	Object          string  `json:"object"`
	Type            string  `json:"type"`
	Confidence      float64 `json:"confidence"`
	SemanticContent string  `json:"semantic_content"`
	SourceContext   string  `json:"source_context"`
}

type extractionPayload struct {
	Triples []rawTriple `json:"triples"`
}

// RawConcept mirrors one concept entry in the oracle's concepts payload
type RawConcept struct {
	Concept          string  `json:"concept"`
	AbstractionLevel string  `json:"abstraction_level"`
	Confidence       float64 `json:"confidence"`
}

// RawRelationship mirrors one element-to-concept link in the payload
type RawRelationship struct {
	SourceElement string  `json:"source_element"`
	EntityType    string  `json:"entity_type"`
	Concept       string  `json:"concept"`
	Confidence    float64 `json:"confidence"`
}

// ConceptPayload is the validated result of a concept extraction call
type ConceptPayload struct {
	Concepts      []RawConcept          `json:"concepts"`
	Relationships []RawRelationship     `json:"relationships"`
	Usage         interfaces.TokenUsage `json:"-"`
}

// Extractor turns chunk text into validated triples via the oracle.
// Calls for a source stop fast once its circuit breaker opens.
type Extractor struct {
	oracle  interfaces.Oracle
	breaker *llm.CircuitBreaker
	method  Method
	logger  arbor.ILogger
}

// NewExtractor creates an extractor. method defaults to four-stage.
func NewExtractor(oracle interfaces.Oracle, breaker *llm.CircuitBreaker, method Method, logger arbor.ILogger) *Extractor {
	if method != MethodSinglePass {
		method = MethodFourStage
	}
	return &Extractor{
		oracle:  oracle,
		breaker: breaker,
		method:  method,
		logger:  logger,
	}
}

// breakerKey scopes circuit state per ingestion source
func breakerKey(source string) string {
	return "text_extraction_" + source
}

// ExtractChunk extracts triples from one chunk. The chunk's synthetic
// source is stamped on every triple; identity is derived from the triple
// text so replays upsert instead of duplicating.
func (e *Extractor) ExtractChunk(ctx context.Context, chunk Chunk, meta models.JobMetadata) ([]*models.Triple, interfaces.TokenUsage, error) {
	key := breakerKey(meta.Source)
	usage := interfaces.TokenUsage{}

	if !e.breaker.Allow(key) {
		return nil, usage, models.NewPipelineError(models.OpAIExtraction,
			fmt.Sprintf("circuit breaker open for source %s", meta.Source), llm.ErrCircuitOpen)
	}

	var raws []rawTriple
	var err error
	if e.method == MethodSinglePass {
		raws, usage, err = e.extractSinglePass(ctx, chunk.Text)
	} else {
		raws, usage, err = e.extractFourStage(ctx, chunk.Text)
	}

	if err != nil {
		e.breaker.RecordFailure(key)
		return nil, usage, err
	}
	e.breaker.RecordSuccess(key)

	triples := e.buildTriples(raws, chunk.Source, meta)
	e.logger.Debug().
		Str("chunk_source", chunk.Source).
		Int("raw_triples", len(raws)).
		Int("valid_triples", len(triples)).
		Msg("Chunk extraction complete")

	return triples, usage, nil
}

func (e *Extractor) extractSinglePass(ctx context.Context, text string) ([]rawTriple, interfaces.TokenUsage, error) {
	var payload extractionPayload
	usage := interfaces.TokenUsage{}

	u, err := e.oracle.GenerateObject(ctx, singlePassPrompt(text), schemas.ExtractionSchema, &payload)
	if err != nil {
		return nil, usage, err
	}
	if u != nil {
		usage = *u
	}
	return payload.Triples, usage, nil
}

// extractFourStage makes four separate structured calls, one per triple
// type, and unions the results. A failure of any stage fails the chunk.
func (e *Extractor) extractFourStage(ctx context.Context, text string) ([]rawTriple, interfaces.TokenUsage, error) {
	var all []rawTriple
	usage := interfaces.TokenUsage{}

	for _, tt := range models.AllTripleTypes {
		var payload extractionPayload
		u, err := e.oracle.GenerateObject(ctx, stagePrompt(text, tt), schemas.ExtractionSchema, &payload)
		if err != nil {
			return nil, usage, fmt.Errorf("stage %s failed: %w", tt, err)
		}
		if u != nil {
			usage.PromptTokens += u.PromptTokens
			usage.CompletionTokens += u.CompletionTokens
			usage.TotalTokens += u.TotalTokens
		}

		// Stage prompts pin the type; enforce it even if the model strays
		for i := range payload.Triples {
			payload.Triples[i].Type = string(tt)
		}
		all = append(all, payload.Triples...)
	}

	return all, usage, nil
}

// buildTriples validates raw payload entries and converts the survivors.
// Triples with empty fields or out-of-range confidence are dropped, not
// failed: one malformed entry should not sink a chunk.
func (e *Extractor) buildTriples(raws []rawTriple, chunkSource string, meta models.JobMetadata) []*models.Triple {
	now := time.Now()
	triples := make([]*models.Triple, 0, len(raws))

	for _, raw := range raws {
		t := &models.Triple{
			Subject:     strings.TrimSpace(raw.Subject),
			Predicate:   strings.TrimSpace(raw.Predicate),
			Object:      strings.TrimSpace(raw.Object),
			Type:        models.TripleType(raw.Type),
			Source:      chunkSource,
			SourceType:  meta.SourceType,
			SourceDate:  meta.SourceDate,
			ExtractedAt: now,
			Confidence:  raw.Confidence,
		}
		if err := t.Validate(); err != nil {
			e.logger.Debug().Err(err).
				Str("subject", raw.Subject).
				Str("predicate", raw.Predicate).
				Msg("Dropping invalid extracted triple")
			continue
		}
		t.ID = common.TripleID(t.Subject, t.Predicate, t.Object, string(t.Type))
		triples = append(triples, t)
	}

	return triples
}

// ExtractConcepts asks the oracle for concept abstractions over the unique
// elements of a source's triples. One call covers the whole element set.
func (e *Extractor) ExtractConcepts(ctx context.Context, entities, events, relations []string) (*ConceptPayload, error) {
	var payload ConceptPayload
	u, err := e.oracle.GenerateObject(ctx, conceptPrompt(entities, events, relations), schemas.ConceptsSchema, &payload)
	if err != nil {
		return nil, err
	}
	if u != nil {
		payload.Usage = *u
	}

	// Drop malformed entries instead of failing the payload
	validConcepts := payload.Concepts[:0]
	for _, c := range payload.Concepts {
		if c.Concept == "" || c.Confidence < 0 || c.Confidence > 1 {
			continue
		}
		switch strings.ToLower(c.AbstractionLevel) {
		case "high", "medium", "low":
			validConcepts = append(validConcepts, c)
		}
	}
	payload.Concepts = validConcepts

	validLinks := payload.Relationships[:0]
	for _, r := range payload.Relationships {
		if r.SourceElement == "" || r.Concept == "" || r.Confidence < 0 || r.Confidence > 1 {
			continue
		}
		switch strings.ToLower(r.EntityType) {
		case "entity", "event", "relation":
			validLinks = append(validLinks, r)
		}
	}
	payload.Relationships = validLinks

	return &payload, nil
}
