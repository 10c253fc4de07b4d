package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/docqa-orchestrator/internal/config"
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/core/usecase"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/embedding"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/llm/openai"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/resilience"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/vector/qdrant"
)

const requestTimeoutMargin = 10 * time.Second

type Options struct {
	// Async connects Postgres and NATS for query jobs.
	Async           bool
	RoutingObserver ports.RoutingObserver
	// OnJobStart runs when the worker picks up a pending job.
	OnJobStart func(job *domain.QueryJob)
}

type App struct {
	Config config.Config

	QueryUC     ports.QueryService
	JobsUC      ports.QueryJobService
	ProcessUC   ports.QueryJobProcessor
	Queue       ports.QueryQueue
	VectorStore *qdrant.Client

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	phrases, err := usecase.LoadPhraseTable(cfg.IntentPhrasesPath)
	if err != nil {
		return nil, fmt.Errorf("load intent phrases: %w", err)
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg))

	ollamaClient := ollama.New(ollama.Config{
		BaseURL:        cfg.OllamaURL,
		GenModel:       cfg.OllamaGenModel,
		EmbedModel:     cfg.OllamaEmbedModel,
		LateModel:      cfg.OllamaLateModel,
		MaxConcurrency: cfg.OllamaMaxConcurrency,
		RequestTimeout: ollamaRequestTimeout(cfg),
	})
	ollamaEmbedder := ollama.NewEmbedder(ollamaClient)
	var tokenEmbedder embedding.TokenEmbedder
	if cfg.OllamaLateModel != "" {
		tokenEmbedder = ollamaEmbedder
	}
	embedder := embedding.NewHybridEmbedder(ollamaEmbedder, tokenEmbedder)

	generator, err := newGenerator(cfg, ollamaClient)
	if err != nil {
		return nil, err
	}

	vectorStore := qdrant.New(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection, qdrant.VectorNames{
		Dense:  cfg.QdrantDenseVector,
		Sparse: cfg.QdrantSparseVector,
		Late:   cfg.QdrantLateVector,
	})

	classifier := usecase.NewIntentClassifier(phrases, cfg.LocalRoutingEnabled)
	planner := usecase.NewRetrievalPlanner(usecase.PlannerConfig{
		SummaryMinTopK:     cfg.SummaryMinTopK,
		SummaryMaxTopK:     cfg.SummaryMaxTopK,
		SummaryMultiplier:  cfg.SummaryMultiplier,
		PrefetchMultiplier: cfg.PrefetchMultiplier,
	})
	router := usecase.NewRoutingStateMachine(classifier, generator, usecase.RoutingConfig{
		LocalRoutingEnabled:    cfg.LocalRoutingEnabled,
		EagerRetrieval:         cfg.EagerRetrieval,
		RoutingDecisionTimeout: cfg.RoutingDecisionTimeout,
	}, opts.RoutingObserver)
	queryUC := usecase.NewQueryUseCase(embedder, vectorStore, generator, executor, planner, router, usecase.QueryConfig{
		MetricsMaxFileList: cfg.MetricsMaxFileList,
		StyleMaxWords: map[domain.Style]int{
			domain.StyleMinimal:  cfg.StyleMaxWordsMinimal,
			domain.StyleConcise:  cfg.StyleMaxWordsConcise,
			domain.StyleDetailed: cfg.StyleMaxWordsDetailed,
		},
		EmbeddingTimeout:  cfg.EmbeddingTimeout,
		RetrievalTimeout:  cfg.RetrievalTimeout,
		GenerationTimeout: cfg.GenerationTimeout,
	})

	slog.Info("query_pipeline_ready",
		"llm_provider", cfg.LLMProvider,
		"phrase_table_version", phrases.Version(),
		"local_routing", cfg.LocalRoutingEnabled,
		"eager_retrieval", cfg.EagerRetrieval,
		"late_interaction", tokenEmbedder != nil,
	)

	app := &App{
		Config:      cfg,
		QueryUC:     queryUC,
		VectorStore: vectorStore,
	}
	if !opts.Async {
		return app, nil
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewQueryJobRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	app.Queue = queue
	app.JobsUC = usecase.NewSubmitQueryUseCase(repo, queue)
	processUC := usecase.NewProcessQueryUseCase(repo, queryUC)
	if opts.OnJobStart != nil {
		processUC.OnStart(opts.OnJobStart)
	}
	app.ProcessUC = processUC
	app.closeFn = func() {
		queue.Close()
		_ = db.Close()
	}
	return app, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

type generator interface {
	ports.Generator
	usecase.RetrievalJudge
}

func newGenerator(cfg config.Config, ollamaClient *ollama.Client) (generator, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "", "ollama":
		return ollama.NewGenerator(ollamaClient), nil
	case "openai":
		return openai.NewGenerator(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}), nil
	default:
		return nil, domain.WrapError(domain.ErrConfig, "select llm provider", fmt.Errorf("unsupported provider %q", cfg.LLMProvider))
	}
}

// ollamaRequestTimeout sits above the longest per-call budget so context deadlines,
// not the HTTP client, end slow model calls.
func ollamaRequestTimeout(cfg config.Config) time.Duration {
	longest := max(cfg.GenerationTimeout, cfg.EmbeddingTimeout, cfg.RoutingDecisionTimeout)
	return longest + requestTimeoutMargin
}

// JobTimeout bounds one asynchronous query: every retried call at its full budget with
// worst-case backoff, plus one routing decision and one generation.
func JobTimeout(cfg config.Config) time.Duration {
	rc := resilienceConfig(cfg)
	attempts := time.Duration(rc.Attempts())
	retried := (cfg.EmbeddingTimeout+cfg.RetrievalTimeout)*attempts + 2*rc.WorstCaseWait()
	return retried + cfg.RoutingDecisionTimeout + cfg.GenerationTimeout
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.RetryMaxAttempts
	rc.RetryInitialBackoff = cfg.RetryInitialBackoff
	rc.RetryMaxBackoff = cfg.RetryMaxBackoff
	rc.RetryMultiplier = cfg.RetryMultiplier
	rc.BreakerEnabled = cfg.BreakerEnabled
	return rc
}
