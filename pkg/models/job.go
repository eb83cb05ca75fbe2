package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the status of a transcription job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
	JobStatusExpired    JobStatus = "expired"
)

// Job is one asynchronous transcription attempt scoped to a session's
// bound media. The model version is bound at processing time, not at
// creation, so canary routing sees the registry state of the moment the
// worker picks the job up.
type Job struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"` // 0-100, monotonic within a run
	ModelVersionID string    `json:"model_version_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewJob creates a queued job for the given session.
func NewJob(sessionID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Status:    JobStatusQueued,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
