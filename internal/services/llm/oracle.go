package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
	"github.com/Andrewske/kgraph/internal/schemas"
)

// OracleService implements interfaces.Oracle on top of the provider
// factory. Structured output is requested via the embedded JSON schema;
// responses that still arrive as fenced text are cleaned before parsing.
type OracleService struct {
	factory *ProviderFactory
	logger  arbor.ILogger
}

// NewOracleService creates the oracle backed by the provider factory
func NewOracleService(factory *ProviderFactory, logger arbor.ILogger) interfaces.Oracle {
	return &OracleService{
		factory: factory,
		logger:  logger,
	}
}

// GenerateObject produces a structured object validated against the named
// embedded schema and unmarshals it into out. Parse and validation
// failures are classified as parse_error.
func (s *OracleService) GenerateObject(ctx context.Context, prompt string, schemaName string, out interface{}) (*interfaces.TokenUsage, error) {
	schemaMap, err := schemas.GetSchemaMap(schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema %s: %w", schemaName, err)
	}

	resp, err := s.factory.GenerateContent(ctx, &ContentRequest{
		Prompt:       prompt,
		OutputSchema: schemaMap,
	})
	if err != nil {
		return nil, err
	}

	cleaned := CleanMarkdownFences(resp.Text)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		s.logger.Warn().
			Err(err).
			Str("schema", schemaName).
			Int("response_length", len(resp.Text)).
			Msg("Oracle response failed JSON parse")
		return nil, models.NewPipelineError(models.OpParseError,
			fmt.Sprintf("oracle output does not match schema %s", schemaName), err)
	}

	usage := resp.Usage
	return &usage, nil
}

// GenerateText produces a raw text completion
func (s *OracleService) GenerateText(ctx context.Context, prompt string) (string, *interfaces.TokenUsage, error) {
	resp, err := s.factory.GenerateContent(ctx, &ContentRequest{Prompt: prompt})
	if err != nil {
		return "", nil, err
	}
	usage := resp.Usage
	return resp.Text, &usage, nil
}

// Close releases the provider clients
func (s *OracleService) Close() error {
	return s.factory.Close()
}

// fencePattern matches a whole response wrapped in a Markdown code fence
var fencePattern = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?\\s*\n?(.*?)\n?\\s*```\\s*$")

// CleanMarkdownFences removes Markdown code fences from an oracle response.
// Providers add them despite instructions not to; strip before JSON parse.
func CleanMarkdownFences(s string) string {
	s = strings.TrimSpace(s)

	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}
