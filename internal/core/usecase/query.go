package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

// GenerationErrorMarker is appended to partial answers when generation fails mid-stream.
const GenerationErrorMarker = "\n\n[error: answer generation interrupted]"

type QueryConfig struct {
	MetricsMaxFileList int
	StyleMaxWords      map[domain.Style]int
	EmbeddingTimeout   time.Duration
	RetrievalTimeout   time.Duration
	GenerationTimeout  time.Duration
}

type QueryUseCase struct {
	embedder  ports.Embedder
	vectorDB  ports.VectorStore
	generator ports.Generator
	retrier   ports.Retrier
	planner   *RetrievalPlanner
	router    *RoutingStateMachine
	cfg       QueryConfig
}

func NewQueryUseCase(
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
	generator ports.Generator,
	retrier ports.Retrier,
	planner *RetrievalPlanner,
	router *RoutingStateMachine,
	cfg QueryConfig,
) *QueryUseCase {
	if retrier == nil {
		retrier = singleAttempt{}
	}
	return &QueryUseCase{
		embedder:  embedder,
		vectorDB:  vectorDB,
		generator: generator,
		retrier:   retrier,
		planner:   planner,
		router:    router,
		cfg:       cfg,
	}
}

func (uc *QueryUseCase) Answer(ctx context.Context, query domain.Query) (*domain.Answer, error) {
	return uc.Stream(ctx, query, nil)
}

// Stream answers the query, forwarding answer chunks to sink as they arrive.
// On generation failure the returned answer holds the partial text plus
// GenerationErrorMarker alongside an ErrGeneration error.
func (uc *QueryUseCase) Stream(ctx context.Context, query domain.Query, sink ports.TokenSink) (*domain.Answer, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	style, err := domain.ParseStyle(string(query.Style))
	if err != nil {
		return nil, err
	}
	query.Style = style

	var text strings.Builder
	answer := func(ctx context.Context, _ domain.RoutingDecision, candidates []domain.Candidate) error {
		return uc.generate(ctx, query, candidates, &text, sink)
	}

	outcome, runErr := uc.router.Run(ctx, query, uc.retrieve, answer)
	if runErr != nil && !domain.IsKind(runErr, domain.ErrGeneration) {
		return nil, runErr
	}

	result := uc.buildAnswer(query, outcome, text.String())
	if runErr != nil {
		result.Text += GenerationErrorMarker
		result.Metrics.AddWarning(domain.WarningGenerationInterrupted)
		return result, runErr
	}
	return result, nil
}

func (uc *QueryUseCase) retrieve(ctx context.Context, query domain.Query, intent domain.IntentLabel) (RetrievalResult, error) {
	plan, err := uc.planner.Plan(query.RequestedTopK, intent)
	if err != nil {
		return RetrievalResult{}, err
	}

	var vectors domain.QueryVectors
	err = uc.retrier.Do(ctx, "embed", func(ctx context.Context) error {
		return withBudget(ctx, uc.cfg.EmbeddingTimeout, func(ctx context.Context) error {
			var embedErr error
			vectors, embedErr = uc.embedder.Embed(ctx, query.Text)
			return embedErr
		})
	})
	if err != nil {
		return RetrievalResult{}, domain.WrapError(domain.ErrEmbedding, "embed query", err)
	}

	filter := domain.FileFilter{Files: query.SelectedFiles}
	var candidates []domain.Candidate
	err = uc.retrier.Do(ctx, "retrieve", func(ctx context.Context) error {
		return withBudget(ctx, uc.cfg.RetrievalTimeout, func(ctx context.Context) error {
			var retrieveErr error
			candidates, retrieveErr = uc.vectorDB.Retrieve(ctx, vectors, plan.PrefetchK, filter)
			return retrieveErr
		})
	})
	if err != nil {
		return RetrievalResult{}, domain.WrapError(domain.ErrRetrieval, "retrieve candidates", err)
	}

	return RetrievalResult{
		Plan:       plan,
		Candidates: Diversify(candidates, plan.EffectiveTopK, plan.Diversify),
	}, nil
}

func (uc *QueryUseCase) generate(
	ctx context.Context,
	query domain.Query,
	candidates []domain.Candidate,
	text *strings.Builder,
	sink ports.TokenSink,
) error {
	req := domain.GenerationRequest{
		Question: query.Text,
		Style:    query.Style,
		MaxWords: uc.cfg.StyleMaxWords[query.Style],
		Context:  candidates,
	}

	genCtx := ctx
	if uc.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, uc.cfg.GenerationTimeout)
		defer cancel()
	}

	err := uc.generator.Generate(genCtx, req, func(chunk string) error {
		text.WriteString(chunk)
		if sink == nil {
			return nil
		}
		return sink(chunk)
	})
	if err != nil {
		return domain.WrapError(domain.ErrGeneration, "generate answer", err)
	}
	return nil
}

func (uc *QueryUseCase) buildAnswer(query domain.Query, outcome *RoutingOutcome, text string) *domain.Answer {
	metrics := domain.ResponseMetrics{
		Intent:            outcome.Intent,
		RoutingDecision:   outcome.Decision,
		RetrievalDegraded: outcome.RetrievalDegraded,
	}
	for _, warning := range outcome.Warnings {
		metrics.AddWarning(warning)
	}

	sources := []domain.Source{}
	if outcome.Retrieval != nil {
		selected := outcome.Retrieval.Candidates
		files := DistinctFiles(selected)

		metrics.EffectiveTopK = outcome.Retrieval.Plan.EffectiveTopK
		metrics.Diversified = outcome.Retrieval.Plan.Diversify
		metrics.DistinctFilesRepresented = len(files)
		if uc.cfg.MetricsMaxFileList >= 0 && len(files) > uc.cfg.MetricsMaxFileList {
			files = files[:uc.cfg.MetricsMaxFileList]
		}
		metrics.Files = files

		evaluation := Evaluate(query.Text, selected)
		metrics.Evaluation = &evaluation

		sources = make([]domain.Source, 0, len(selected))
		for _, candidate := range selected {
			sources = append(sources, domain.Source{
				File:    candidate.File,
				Excerpt: candidate.Excerpt,
				Score:   candidate.Score,
			})
		}
	}

	return &domain.Answer{
		Text:    text,
		Sources: sources,
		Metrics: metrics,
	}
}

// withBudget runs fn under its own deadline. Exceeding the budget while the caller is
// still waiting counts as a temporary failure.
func withBudget(ctx context.Context, budget time.Duration, fn func(context.Context) error) error {
	if budget <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTemporary, "call budget exceeded", err)
	}
	return err
}

type singleAttempt struct{}

func (singleAttempt) Do(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}
