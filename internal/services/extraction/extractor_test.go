package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
	"github.com/Andrewske/kgraph/internal/services/llm"
)

// fakeOracle replays canned JSON payloads into the output object
type fakeOracle struct {
	payloads []string
	calls    int
	err      error
}

func (f *fakeOracle) GenerateObject(ctx context.Context, prompt, schemaName string, out interface{}) (*interfaces.TokenUsage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	payload := f.payloads[(f.calls-1)%len(f.payloads)]
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return nil, err
	}
	return &interfaces.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

func (f *fakeOracle) GenerateText(ctx context.Context, prompt string) (string, *interfaces.TokenUsage, error) {
	return "", nil, fmt.Errorf("not implemented")
}

func (f *fakeOracle) Close() error { return nil }

func testExtractor(oracle interfaces.Oracle, method Method) *Extractor {
	breaker := llm.NewCircuitBreaker(3, 45*time.Second)
	return NewExtractor(oracle, breaker, method, arbor.NewLogger())
}

func TestExtractChunkSinglePass(t *testing.T) {
	oracle := &fakeOracle{payloads: []string{`{
		"triples": [
			{"subject": "John", "predicate": "works at", "object": "Tech Corp", "type": "ENTITY_ENTITY", "confidence": 0.9},
			{"subject": "", "predicate": "broken", "object": "row", "type": "ENTITY_ENTITY", "confidence": 0.9},
			{"subject": "John", "predicate": "attended", "object": "the launch", "type": "ENTITY_EVENT", "confidence": 1.5}
		]
	}`}}
	e := testExtractor(oracle, MethodSinglePass)

	chunk := Chunk{Text: "John works at Tech Corp.", Source: "doc-1_chunk_0", Index: 0}
	meta := models.JobMetadata{Source: "doc-1", SourceType: "document"}

	triples, usage, err := e.ExtractChunk(context.Background(), chunk, meta)
	require.NoError(t, err)
	assert.Equal(t, 1, oracle.calls)
	assert.Equal(t, 15, usage.TotalTokens)

	// Malformed entries drop without failing the chunk
	require.Len(t, triples, 1)
	triple := triples[0]
	assert.Equal(t, "John", triple.Subject)
	assert.Equal(t, "doc-1_chunk_0", triple.Source)
	assert.Equal(t, "document", triple.SourceType)
	assert.NotEmpty(t, triple.ID)
}

func TestExtractChunkFourStagePinsTypes(t *testing.T) {
	// The model mislabels the type; the stage must override it
	oracle := &fakeOracle{payloads: []string{`{
		"triples": [
			{"subject": "A", "predicate": "rel", "object": "B", "type": "EVENT_EVENT", "confidence": 0.8}
		]
	}`}}
	e := testExtractor(oracle, MethodFourStage)

	triples, usage, err := e.ExtractChunk(context.Background(),
		Chunk{Text: "text", Source: "doc-1"}, models.JobMetadata{Source: "doc-1"})
	require.NoError(t, err)

	// One call per triple type, usage summed across stages
	assert.Equal(t, 4, oracle.calls)
	assert.Equal(t, 60, usage.TotalTokens)

	require.Len(t, triples, 4)
	seen := make(map[models.TripleType]bool)
	for _, triple := range triples {
		seen[triple.Type] = true
	}
	for _, tt := range models.AllTripleTypes {
		assert.True(t, seen[tt], "missing stage type %s", tt)
	}
}

func TestExtractChunkCircuitBreaker(t *testing.T) {
	oracle := &fakeOracle{err: fmt.Errorf("model overloaded")}
	e := testExtractor(oracle, MethodSinglePass)
	meta := models.JobMetadata{Source: "doc-1"}
	chunk := Chunk{Text: "text", Source: "doc-1"}

	for i := 0; i < 3; i++ {
		_, _, err := e.ExtractChunk(context.Background(), chunk, meta)
		require.Error(t, err)
	}
	callsBefore := oracle.calls

	// Circuit open: the oracle is not called again for this source
	_, _, err := e.ExtractChunk(context.Background(), chunk, meta)
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrCircuitOpen)
	assert.Equal(t, callsBefore, oracle.calls)

	// A different source is unaffected
	_, _, err = e.ExtractChunk(context.Background(), chunk, models.JobMetadata{Source: "doc-2"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, llm.ErrCircuitOpen)
}

func TestExtractConceptsFiltersMalformedEntries(t *testing.T) {
	oracle := &fakeOracle{payloads: []string{`{
		"concepts": [
			{"concept": "Technology Industry", "abstraction_level": "HIGH", "confidence": 0.9},
			{"concept": "", "abstraction_level": "HIGH", "confidence": 0.9},
			{"concept": "Bad Level", "abstraction_level": "COSMIC", "confidence": 0.9},
			{"concept": "Bad Confidence", "abstraction_level": "LOW", "confidence": 2.0}
		],
		"relationships": [
			{"source_element": "Tech Corp", "entity_type": "ENTITY", "concept": "Technology Industry", "confidence": 0.85},
			{"source_element": "", "entity_type": "ENTITY", "concept": "Technology Industry", "confidence": 0.85},
			{"source_element": "X", "entity_type": "GALAXY", "concept": "Technology Industry", "confidence": 0.85}
		]
	}`}}
	e := testExtractor(oracle, MethodSinglePass)

	payload, err := e.ExtractConcepts(context.Background(),
		[]string{"Tech Corp"}, nil, []string{"works at"})
	require.NoError(t, err)

	require.Len(t, payload.Concepts, 1)
	assert.Equal(t, "Technology Industry", payload.Concepts[0].Concept)
	require.Len(t, payload.Relationships, 1)
	assert.Equal(t, "Tech Corp", payload.Relationships[0].SourceElement)
	assert.Equal(t, 15, payload.Usage.TotalTokens)
}
