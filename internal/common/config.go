package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Logging     LoggingConfig   `toml:"logging"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	LLM         LLMConfig       `toml:"llm"`
	Embeddings  EmbeddingConfig `toml:"embeddings"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Search      SearchConfig    `toml:"search"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type QueueConfig struct {
	PollInterval       time.Duration `toml:"poll_interval"` // how often workers poll for messages
	Concurrency        int           `toml:"concurrency" validate:"min=1"`
	VisibilityTimeout  time.Duration `toml:"visibility_timeout"` // message redelivery window
	MaxReceive         int           `toml:"max_receive" validate:"min=1"`
	QueueName          string        `toml:"queue_name"`
	StaleSweepSchedule string        `toml:"stale_sweep_schedule"` // cron spec for stale-job recovery
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default "15:04:05.000"
}

type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

type LLMConfig struct {
	DefaultProvider string        `toml:"default_provider" validate:"oneof=gemini claude"`
	RequestTimeout  time.Duration `toml:"request_timeout"` // per-call deadline, >=45s recommended
	RateLimitRPS    float64       `toml:"rate_limit_rps"`  // oracle calls per second, 0 = unlimited
}

type EmbeddingConfig struct {
	Model     string `toml:"model"`
	Dimension int    `toml:"dimension" validate:"min=1"`
	BatchSize int    `toml:"batch_size" validate:"min=1"`
}

// PipelineConfig governs the knowledge-processing pipeline
type PipelineConfig struct {
	ExtractionMethod    string  `toml:"extraction_method" validate:"oneof=four-stage single-pass"`
	EnableSemanticDedup bool    `toml:"enable_semantic_dedup"`
	SimilarityThreshold float64 `toml:"similarity_threshold" validate:"gte=0,lte=1"`
	MaxAICalls          int     `toml:"max_ai_calls" validate:"min=0"`
	MaxDBConnections    int     `toml:"max_db_connections" validate:"min=0"`
}

// SearchConfig governs fusion search defaults
type SearchConfig struct {
	TopK               int     `toml:"top_k" validate:"min=1"`
	MinScore           float64 `toml:"min_score" validate:"gte=0,lte=1"`
	EntityWeight       float64 `toml:"entity_weight"`
	RelationshipWeight float64 `toml:"relationship_weight"`
	SemanticWeight     float64 `toml:"semantic_weight"`
	ConceptWeight      float64 `toml:"concept_weight"`
}

// DefaultConfig returns the built-in defaults, applied before any file or
// environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{Path: "./data/kgraph"},
		},
		Queue: QueueConfig{
			PollInterval:       time.Second,
			Concurrency:        2,
			VisibilityTimeout:  5 * time.Minute,
			MaxReceive:         3,
			QueueName:          "kgraph",
			StaleSweepSchedule: "*/5 * * * *",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0.2,
			MaxTokens:   8192,
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.2,
			MaxTokens:   8192,
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			RequestTimeout:  45 * time.Second,
			RateLimitRPS:    2,
		},
		Embeddings: EmbeddingConfig{
			Model:     "gemini-embedding-001",
			Dimension: 1536,
			BatchSize: 32,
		},
		Pipeline: PipelineConfig{
			ExtractionMethod:    "four-stage",
			EnableSemanticDedup: false,
			SimilarityThreshold: 0.85,
			MaxAICalls:          4,
			MaxDBConnections:    2,
		},
		Search: SearchConfig{
			TopK:               10,
			MinScore:           0.7,
			EntityWeight:       0.3,
			RelationshipWeight: 0.2,
			SemanticWeight:     0.3,
			ConceptWeight:      0.2,
		},
	}
}

// LoadFromFiles loads configuration: defaults -> file(s) -> env overrides.
// Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Environment
// always wins over files so deployments can inject secrets without
// touching config on disk.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("KGRAPH_GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("KGRAPH_ANTHROPIC_API_KEY"); v != "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("KGRAPH_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("KGRAPH_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("KGRAPH_ENABLE_SEMANTIC_DEDUP"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			config.Pipeline.EnableSemanticDedup = enabled
		}
	}
	if v := os.Getenv("KGRAPH_EXTRACTION_METHOD"); v != "" {
		config.Pipeline.ExtractionMethod = v
	}
	if v := os.Getenv("KGRAPH_SEARCH_TOP_K"); v != "" {
		if topK, err := strconv.Atoi(v); err == nil && topK > 0 {
			config.Search.TopK = topK
		}
	}
	if v := os.Getenv("KGRAPH_MIN_SCORE"); v != "" {
		if score, err := strconv.ParseFloat(v, 64); err == nil {
			config.Search.MinScore = score
		}
	}
}
