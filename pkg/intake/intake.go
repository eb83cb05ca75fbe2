package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/signflow/signflow/pkg/logging"
	"github.com/signflow/signflow/pkg/models"
	"github.com/signflow/signflow/pkg/queue"
	"github.com/signflow/signflow/pkg/store"
)

// Service is the intake side of the pipeline: it opens sessions, binds
// media and hands jobs to the queue. The worker only ever sees work
// that came through here.
type Service struct {
	store      store.Store
	queue      queue.Queue
	sessionTTL time.Duration
	log        *logging.Logger
}

// NewService creates an intake service
func NewService(s store.Store, q queue.Queue, sessionTTL time.Duration, log *logging.Logger) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	return &Service{store: s, queue: q, sessionTTL: sessionTTL, log: log}
}

// OpenSession creates a new active editing session for userID
func (s *Service) OpenSession(userID string) (*models.EditingSession, error) {
	session := models.NewEditingSession(userID, s.sessionTTL)
	if err := s.store.CreateSession(session); err != nil {
		return nil, err
	}
	s.log.Info("session opened", map[string]interface{}{
		"session_id": session.ID,
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
	})
	return session, nil
}

// BindMedia attaches an uploaded media object to the session. Only
// active, unexpired sessions accept media.
func (s *Service) BindMedia(sessionID, objectKey string) error {
	if objectKey == "" {
		return fmt.Errorf("object key is required")
	}
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session.IsExpired(time.Now().UTC()) {
		return fmt.Errorf("session %s is no longer active", sessionID)
	}
	return s.store.BindSessionMedia(sessionID, objectKey)
}

// SubmitJob creates a transcription job for the session and enqueues
// it. modelVersionID, when non-empty, pins the job to that version and
// must reference a registered version.
func (s *Service) SubmitJob(ctx context.Context, sessionID, modelVersionID string) (*models.Job, error) {
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsExpired(time.Now().UTC()) {
		return nil, fmt.Errorf("session %s is no longer active", sessionID)
	}

	if modelVersionID != "" {
		if _, err := s.store.GetModelVersion(modelVersionID); err != nil {
			return nil, err
		}
	}

	job := models.NewJob(sessionID)
	job.ModelVersionID = modelVersionID
	if err := s.store.CreateJob(job); err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// the job row stays queued; the sweep will expire it with its
		// session if nobody re-enqueues
		return nil, fmt.Errorf("job %s created but not enqueued: %w", job.ID, err)
	}

	if err := s.store.TouchSession(sessionID, time.Now().UTC()); err != nil {
		return nil, err
	}

	s.log.Info("job submitted", map[string]interface{}{
		"job_id":     job.ID,
		"session_id": sessionID,
	})
	return job, nil
}

// JobView bundles a job with its transcript for status reporting
type JobView struct {
	Job      *models.Job                 `json:"job"`
	Segments []*models.TranscriptSegment `json:"segments,omitempty"`
}

// JobStatus returns the job and, for done jobs, its transcript
func (s *Service) JobStatus(jobID string) (*JobView, error) {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	view := &JobView{Job: job}
	if job.Status == models.JobStatusDone {
		segments, err := s.store.GetSegments(jobID)
		if err != nil {
			return nil, err
		}
		view.Segments = segments
	}
	return view, nil
}

// SessionJobs lists the session's jobs in creation order
func (s *Service) SessionJobs(sessionID string) ([]*models.Job, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.store.ListJobsBySession(sessionID)
}
