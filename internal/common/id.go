package common

import (
	"encoding/base64"
	"fmt"
)

// TripleID derives the deterministic identity of a triple:
// base64("subject|predicate|object|type"). The encoding is a stable wire
// format, not a secret; it makes idempotent upserts trivial across replays.
func TripleID(subject, predicate, object, tripleType string) string {
	key := fmt.Sprintf("%s|%s|%s|%s", subject, predicate, object, tripleType)
	return base64.StdEncoding.EncodeToString([]byte(key))
}

// ConceptID derives the deterministic identity of a concept:
// base64("concept|level|source").
func ConceptID(concept, level, source string) string {
	key := fmt.Sprintf("%s|%s|%s", concept, level, source)
	return base64.StdEncoding.EncodeToString([]byte(key))
}

// VectorID derives the deterministic identity of a vector row:
// base64("ownerID|vectorType|text"). Replays upsert the same row instead
// of accumulating duplicates.
func VectorID(ownerID, vectorType, text string) string {
	key := fmt.Sprintf("%s|%s|%s", ownerID, vectorType, text)
	return base64.StdEncoding.EncodeToString([]byte(key))
}

// ConceptualizationID derives the deterministic identity of an
// element-to-concept link: base64("element|concept|source").
func ConceptualizationID(element, concept, source string) string {
	key := fmt.Sprintf("%s|%s|%s", element, concept, source)
	return base64.StdEncoding.EncodeToString([]byte(key))
}
