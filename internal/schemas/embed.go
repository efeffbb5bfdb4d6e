package schemas

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed *.json
var fs embed.FS

// Schema names referenced by the oracle and the prompts. The same
// declarative schema drives both the prompt text and the validator.
const (
	ExtractionSchema = "extraction.schema.json"
	ConceptsSchema   = "concepts.schema.json"
)

// GetSchema returns the raw content of a schema file by name
func GetSchema(name string) ([]byte, error) {
	return fs.ReadFile(name)
}

// GetSchemaMap returns a schema parsed into the generic map form the
// Gemini structured-output converter consumes
func GetSchemaMap(name string) (map[string]interface{}, error) {
	data, err := GetSchema(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schema %s: %w", name, err)
	}

	var schema map[string]interface{}
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", name, err)
	}
	return schema, nil
}
