package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

type SubmitQueryUseCase struct {
	repo  ports.QueryJobStore
	queue ports.QueryQueue
}

func NewSubmitQueryUseCase(repo ports.QueryJobStore, queue ports.QueryQueue) *SubmitQueryUseCase {
	return &SubmitQueryUseCase{
		repo:  repo,
		queue: queue,
	}
}

// Submit stores a pending job and publishes its id for the worker.
func (uc *SubmitQueryUseCase) Submit(ctx context.Context, query domain.Query) (*domain.QueryJob, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.QueryJob{
		ID:        uuid.NewString(),
		Query:     query,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := uc.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create query job: %w", err)
	}
	if err := uc.queue.PublishQueryRequested(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("publish query job: %w", err)
	}
	return job, nil
}

func (uc *SubmitQueryUseCase) GetByID(ctx context.Context, id string) (*domain.QueryJob, error) {
	job, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch query job: %w", err)
	}
	return job, nil
}

const finalStatusTimeout = 5 * time.Second

type ProcessQueryUseCase struct {
	repo    ports.QueryJobStore
	queries ports.QueryService
	onStart func(job *domain.QueryJob)
}

func NewProcessQueryUseCase(repo ports.QueryJobStore, queries ports.QueryService) *ProcessQueryUseCase {
	return &ProcessQueryUseCase{
		repo:    repo,
		queries: queries,
	}
}

// OnStart registers fn to run when a pending job is picked up, before it is marked running.
func (uc *ProcessQueryUseCase) OnStart(fn func(job *domain.QueryJob)) {
	uc.onStart = fn
}

// ProcessByID answers a pending job and records the result. A failed answer is
// persisted on the job, along with any partial output, and also returned to the caller.
func (uc *ProcessQueryUseCase) ProcessByID(ctx context.Context, jobID string) error {
	job, err := uc.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetch query job: %w", err)
	}
	if job.Status == domain.JobStatusCompleted || job.Status == domain.JobStatusFailed {
		return nil
	}

	if uc.onStart != nil {
		uc.onStart(job)
	}
	if err := uc.repo.MarkRunning(ctx, jobID); err != nil {
		return fmt.Errorf("set status=running: %w", err)
	}

	answer, err := uc.queries.Answer(ctx, job.Query)

	// The final status must land even when ctx expired during the answer.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalStatusTimeout)
	defer cancel()

	if err != nil {
		if failErr := uc.repo.Fail(finalCtx, jobID, err.Error(), answer); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.Complete(finalCtx, jobID, answer); err != nil {
		return fmt.Errorf("set status=completed: %w", err)
	}
	return nil
}
