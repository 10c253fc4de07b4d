package domain

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// QueryJob is an asynchronously answered query.
type QueryJob struct {
	ID        string    `json:"id"`
	Query     Query     `json:"query"`
	Status    JobStatus `json:"status"`
	Answer    *Answer   `json:"answer,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
