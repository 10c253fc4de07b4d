package ports

import (
	"context"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// QueryService is the inbound contract for routed question answering.
type QueryService interface {
	Answer(ctx context.Context, query domain.Query) (*domain.Answer, error)
	Stream(ctx context.Context, query domain.Query, sink TokenSink) (*domain.Answer, error)
}

// QueryJobService accepts queries for asynchronous answering and reports their state.
type QueryJobService interface {
	Submit(ctx context.Context, query domain.Query) (*domain.QueryJob, error)
	GetByID(ctx context.Context, id string) (*domain.QueryJob, error)
}

// QueryJobProcessor answers a previously submitted job.
type QueryJobProcessor interface {
	ProcessByID(ctx context.Context, jobID string) error
}
