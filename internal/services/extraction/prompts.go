package extraction

import (
	"fmt"
	"strings"

	"github.com/Andrewske/kgraph/internal/models"
)

// typeGuidance describes each triple type for the extraction prompts
var typeGuidance = map[models.TripleType]string{
	models.TripleTypeEntityEntity:     "relations between two entities (people, places, organizations, things), e.g. (John, works at, Tech Corp)",
	models.TripleTypeEntityEvent:      "relations between an entity and an event, e.g. (Sarah, attended, the product launch)",
	models.TripleTypeEventEvent:       "temporal or causal relations between two events, e.g. (the merger, preceded, the layoffs)",
	models.TripleTypeEmotionalContext: "emotional states and attitudes attached to entities or events, e.g. (the team, felt anxious about, the deadline)",
}

// singlePassPrompt asks for all four triple types in one call
func singlePassPrompt(text string) string {
	var rules strings.Builder
	for _, tt := range models.AllTripleTypes {
		rules.WriteString(fmt.Sprintf("- %s: %s\n", tt, typeGuidance[tt]))
	}

	return fmt.Sprintf(`You are a knowledge extraction specialist.

Task: Extract semantic triples (subject, predicate, object) from the text below.

Triple types:
%s
Rules:
- Every triple needs a non-empty subject, predicate, and object.
- Assign exactly one type from the list above.
- Set confidence between 0 and 1 reflecting how directly the text states the relation.
- Include semantic_content (a natural-language restatement) and source_context (the passage it came from).
- Output JSON only, no markdown fences.

Output format:
{"triples": [{"subject": "...", "predicate": "...", "object": "...", "type": "ENTITY_ENTITY", "confidence": 0.9, "semantic_content": "...", "source_context": "..."}]}

Text:
%s`, rules.String(), text)
}

// stagePrompt asks for triples of a single type (four-stage extraction)
func stagePrompt(text string, tripleType models.TripleType) string {
	return fmt.Sprintf(`You are a knowledge extraction specialist.

Task: Extract ONLY %s triples from the text below: %s.

Rules:
- Every triple needs a non-empty subject, predicate, and object.
- Set type to %q on every triple.
- Set confidence between 0 and 1 reflecting how directly the text states the relation.
- Include semantic_content (a natural-language restatement) and source_context (the passage it came from).
- If the text contains no such relations, return an empty list.
- Output JSON only, no markdown fences.

Output format:
{"triples": [{"subject": "...", "predicate": "...", "object": "...", "type": %q, "confidence": 0.9, "semantic_content": "...", "source_context": "..."}]}

Text:
%s`, tripleType, typeGuidance[tripleType], tripleType, tripleType, text)
}

// conceptPrompt asks for concepts and element-to-concept relationships
// over the unique elements of a source's triples
func conceptPrompt(entities, events, relations []string) string {
	return fmt.Sprintf(`You are a knowledge abstraction specialist.

Task: Derive conceptual abstractions for the elements below, extracted from a knowledge graph.

Entities:
%s

Events:
%s

Relations:
%s

Rules:
- Produce concepts at high, medium, and low abstraction levels where the elements support them.
- For each element that belongs to a concept, emit a relationship entry with its entity_type (entity, event, or relation).
- Set confidence between 0 and 1.
- Output JSON only, no markdown fences.

Output format:
{"concepts": [{"concept": "...", "abstraction_level": "high", "confidence": 0.9}], "relationships": [{"source_element": "...", "entity_type": "entity", "concept": "...", "confidence": 0.9}]}`,
		bulleted(entities), bulleted(events), bulleted(relations))
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return "- (none)"
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
