package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

type QueryJobRepository struct {
	db *sql.DB
}

func NewQueryJobRepository(db *sql.DB) *QueryJobRepository {
	return &QueryJobRepository{db: db}
}

func (r *QueryJobRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS query_jobs (
	id TEXT PRIMARY KEY,
	query JSONB NOT NULL,
	status TEXT NOT NULL,
	answer JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_query_jobs_status ON query_jobs(status);
CREATE INDEX IF NOT EXISTS idx_query_jobs_created_at ON query_jobs(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *QueryJobRepository) Create(ctx context.Context, job *domain.QueryJob) error {
	queryJSON, err := json.Marshal(job.Query)
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO query_jobs (id, query, status, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, job.ID, queryJSON, string(job.Status), job.Error, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert query job: %w", err)
	}
	return nil
}

func (r *QueryJobRepository) GetByID(ctx context.Context, id string) (*domain.QueryJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, query, status, answer, error_message, created_at, updated_at
FROM query_jobs
WHERE id = $1
`, id)

	var job domain.QueryJob
	var queryRaw, answerRaw []byte
	var status string

	err := row.Scan(&job.ID, &queryRaw, &status, &answerRaw, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get query job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan query job: %w", err)
	}

	if err := json.Unmarshal(queryRaw, &job.Query); err != nil {
		return nil, fmt.Errorf("unmarshal query: %w", err)
	}
	if len(answerRaw) > 0 {
		var answer domain.Answer
		if err := json.Unmarshal(answerRaw, &answer); err != nil {
			return nil, fmt.Errorf("unmarshal answer: %w", err)
		}
		job.Answer = &answer
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func (r *QueryJobRepository) MarkRunning(ctx context.Context, id string) error {
	return r.update(ctx, `
UPDATE query_jobs
SET status = $2, updated_at = $3
WHERE id = $1
`, "mark query job running", id, string(domain.JobStatusRunning), time.Now().UTC())
}

func (r *QueryJobRepository) Complete(ctx context.Context, id string, answer *domain.Answer) error {
	answerJSON, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	return r.update(ctx, `
UPDATE query_jobs
SET status = $2, answer = $3, error_message = '', updated_at = $4
WHERE id = $1
`, "complete query job", id, string(domain.JobStatusCompleted), answerJSON, time.Now().UTC())
}

func (r *QueryJobRepository) Fail(ctx context.Context, id string, errMessage string, partial *domain.Answer) error {
	var answerArg any
	if partial != nil {
		answerJSON, err := json.Marshal(partial)
		if err != nil {
			return fmt.Errorf("marshal partial answer: %w", err)
		}
		answerArg = answerJSON
	}
	return r.update(ctx, `
UPDATE query_jobs
SET status = $2, error_message = $3, answer = $4, updated_at = $5
WHERE id = $1
`, "fail query job", id, string(domain.JobStatusFailed), errMessage, answerArg, time.Now().UTC())
}

func (r *QueryJobRepository) update(ctx context.Context, query, operation string, id string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrJobNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return nil
}
