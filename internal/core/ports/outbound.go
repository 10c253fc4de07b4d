package ports

import (
	"context"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// Embedder builds the dense, sparse and late-interaction representations of query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.QueryVectors, error)
}

// VectorStore performs one hybrid retrieval call. Results are sorted by fused score
// descending, ties broken by ascending candidate id.
type VectorStore interface {
	Retrieve(ctx context.Context, vectors domain.QueryVectors, k int, filter domain.FileFilter) ([]domain.Candidate, error)
}

// TokenSink receives answer chunks as they are produced. Returning an error stops generation.
type TokenSink func(chunk string) error

// Generator decides whether retrieval is needed and produces the final answer stream.
type Generator interface {
	NeedsRetrieval(ctx context.Context, queryText string) (bool, error)
	Generate(ctx context.Context, req domain.GenerationRequest, sink TokenSink) error
}

// QueryJobStore persists asynchronous query jobs.
type QueryJobStore interface {
	Create(ctx context.Context, job *domain.QueryJob) error
	GetByID(ctx context.Context, id string) (*domain.QueryJob, error)
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, answer *domain.Answer) error
	// Fail records errMessage; partial, when non-nil, is the output produced before the failure.
	Fail(ctx context.Context, id string, errMessage string, partial *domain.Answer) error
}

// QueryQueue publishes/consumes asynchronous query job ids.
type QueryQueue interface {
	PublishQueryRequested(ctx context.Context, jobID string) error
	SubscribeQueryRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// Retrier runs fn under the bounded retry and circuit-breaker policy of operation.
// Only failures wrapped as domain.ErrTemporary are retried.
type Retrier interface {
	Do(ctx context.Context, operation string, fn func(context.Context) error) error
}

// RoutingObserver records routing outcomes. Implementations must be safe for concurrent use.
type RoutingObserver interface {
	ObserveRouting(intent domain.IntentLabel, decision domain.RoutingDecision, degraded bool)
	ObserveStage(stage string, status string, seconds float64)
}
