// -----------------------------------------------------------------------
// kgraph - Knowledge-graph ingestion and retrieval service
// -----------------------------------------------------------------------

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Andrewske/kgraph/internal/common"
	"github.com/Andrewske/kgraph/internal/interfaces"
	"github.com/Andrewske/kgraph/internal/models"
	"github.com/Andrewske/kgraph/internal/pipeline"
	"github.com/Andrewske/kgraph/internal/queue"
	"github.com/Andrewske/kgraph/internal/services/embeddings"
	"github.com/Andrewske/kgraph/internal/services/extraction"
	"github.com/Andrewske/kgraph/internal/services/llm"
	"github.com/Andrewske/kgraph/internal/services/search"
	badgerstorage "github.com/Andrewske/kgraph/internal/storage/badger"
)

// configPaths allows multiple -config flags; later files override earlier
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	ingestSource = flag.String("source", "", "Source identifier for ingest")
	ingestType   = flag.String("source-type", "document", "Source type for ingest")
	ingestFile   = flag.String("file", "", "Text file to ingest ('-' for stdin)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Kgraph version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("kgraph.toml"); err == nil {
			configFiles = append(configFiles, "kgraph.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger = common.InitLogger(config)

	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}

	switch command {
	case "serve":
		common.PrintBanner(common.GetVersion())
		err = serve()
	case "ingest":
		err = ingest()
	case "search":
		err = runSearch(strings.Join(flag.Args()[1:], " "))
	default:
		err = fmt.Errorf("unknown command %q (expected serve, ingest, or search)", command)
	}

	if err != nil {
		logger.Fatal().Err(err).Str("command", command).Msg("Command failed")
		os.Exit(1)
	}
}

// services bundles everything wired over the shared Badger database
type services struct {
	storage     *badgerstorage.Manager
	queueMgr    *queue.Manager
	oracle      interfaces.Oracle
	embedder    interfaces.Embedder
	extractor   *extraction.Extractor
	coordinator *pipeline.Coordinator
	router      *pipeline.Router
	fusion      *search.FusionService
}

func buildServices(ctx context.Context) (*services, error) {
	storage, err := badgerstorage.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	queueMgr, err := queue.NewManager(storage.DB(), &config.Queue)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	factory := llm.NewProviderFactory(&config.Gemini, &config.Claude, &config.LLM, logger)
	oracle := llm.NewOracleService(factory, logger)

	embedder, err := embeddings.NewEmbedderService(ctx, &config.Gemini, &config.Embeddings, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	breaker := llm.NewCircuitBreaker(3, 45*time.Second)
	extractor := extraction.NewExtractor(oracle, breaker, extraction.Method(config.Pipeline.ExtractionMethod), logger)

	coordinator := pipeline.NewCoordinator(storage.JobStorage(), queueMgr, config.Pipeline.EnableSemanticDedup, logger)

	router := pipeline.NewRouter(storage.JobStorage(), coordinator, logger)
	router.Register(models.JobTypeExtractKnowledgeBatch,
		pipeline.NewExtractionHandler(storage, extractor, embedder, coordinator, config, logger))
	router.Register(models.JobTypeProcessKnowledge,
		pipeline.NewExtractionHandler(storage, extractor, embedder, coordinator, config, logger))
	router.Register(models.JobTypeGenerateConcepts,
		pipeline.NewConceptHandler(storage, extractor, embedder, config, logger))
	router.Register(models.JobTypeDeduplicateKnowledge,
		pipeline.NewDedupHandler(storage, embedder, config, logger))

	return &services{
		storage:     storage,
		queueMgr:    queueMgr,
		oracle:      oracle,
		embedder:    embedder,
		extractor:   extractor,
		coordinator: coordinator,
		router:      router,
		fusion:      search.NewFusionService(storage, embedder, &config.Search, logger),
	}, nil
}

func (s *services) close() {
	if err := s.oracle.Close(); err != nil {
		logger.Warn().Err(err).Msg("Oracle shutdown error")
	}
	if err := s.storage.Close(); err != nil {
		logger.Warn().Err(err).Msg("Storage shutdown error")
	}
}

// serve runs the worker pool until interrupted
func serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer svc.close()

	pool := queue.NewWorkerPool(svc.queueMgr, svc.storage.JobStorage(), &config.Queue, logger)
	dispatch := func(ctx context.Context, msg *interfaces.JobMessage) error {
		return svc.router.HandleMessage(ctx, msg)
	}
	for _, jobType := range []models.JobType{
		models.JobTypeProcessKnowledge,
		models.JobTypeExtractKnowledgeBatch,
		models.JobTypeGenerateConcepts,
		models.JobTypeDeduplicateKnowledge,
	} {
		pool.RegisterHandler(string(jobType), dispatch)
	}

	if err := pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	logger.Info().
		Int("concurrency", config.Queue.Concurrency).
		Str("queue", config.Queue.QueueName).
		Str("extraction_method", config.Pipeline.ExtractionMethod).
		Bool("semantic_dedup", config.Pipeline.EnableSemanticDedup).
		Msg("Kgraph service started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	if err := pool.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Worker pool shutdown error")
	}

	return nil
}

// ingest submits text to the pipeline and prints the parent job id. The
// job runs once a serve process picks it up from the shared queue.
func ingest() error {
	if *ingestSource == "" {
		return fmt.Errorf("-source is required for ingest")
	}

	var text []byte
	var err error
	switch *ingestFile {
	case "":
		return fmt.Errorf("-file is required for ingest ('-' reads stdin)")
	case "-":
		text, err = io.ReadAll(os.Stdin)
	default:
		text, err = os.ReadFile(*ingestFile)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	ctx := context.Background()
	svc, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer svc.close()

	parentID, err := svc.coordinator.InitiatePipeline(ctx, pipeline.InitiateArgs{
		Text:       string(text),
		Source:     *ingestSource,
		SourceType: *ingestType,
	})
	if err != nil {
		return err
	}

	fmt.Println(parentID)
	return nil
}

// runSearch answers one fusion query and prints the results as JSON
func runSearch(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("search requires a query argument")
	}

	ctx := context.Background()
	svc, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer svc.close()

	results, err := svc.fusion.SearchFusion(ctx, query, nil)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}
