package intake

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/signflow/signflow/pkg/logging"
	"github.com/signflow/signflow/pkg/models"
	"github.com/signflow/signflow/pkg/queue"
	"github.com/signflow/signflow/pkg/store"
)

func newService(t *testing.T) (*Service, store.Store, *queue.MemoryQueue) {
	t.Helper()
	s := store.NewMemoryStore()
	q := queue.NewMemoryQueue(8)
	t.Cleanup(func() { q.Close() })
	log := logging.New(logging.ERROR, false)
	log.SetOutput(io.Discard)
	return NewService(s, q, time.Hour, log), s, q
}

func TestOpenSessionAndSubmitJob(t *testing.T) {
	svc, _, q := newService(t)
	ctx := context.Background()

	session, err := svc.OpenSession("user-1")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if session.Status != models.SessionStatusActive {
		t.Errorf("expected active session, got %s", session.Status)
	}

	if err := svc.BindMedia(session.ID, "media/clip.mp4"); err != nil {
		t.Fatalf("BindMedia failed: %v", err)
	}

	job, err := svc.SubmitJob(ctx, session.ID, "")
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	if job.Status != models.JobStatusQueued {
		t.Errorf("expected queued job, got %s", job.Status)
	}

	// submission put the id on the queue
	jobID, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if jobID != job.ID {
		t.Errorf("expected %s on queue, got %s", job.ID, jobID)
	}
}

func TestBindMediaValidation(t *testing.T) {
	svc, s, _ := newService(t)

	session, _ := svc.OpenSession("user-1")
	if err := svc.BindMedia(session.ID, ""); err == nil {
		t.Errorf("expected error for empty object key")
	}
	if err := svc.BindMedia("no-such-session", "media/clip.mp4"); err != store.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	if err := s.CloseSession(session.ID); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if err := svc.BindMedia(session.ID, "media/clip.mp4"); err == nil {
		t.Errorf("expected error binding media to a closed session")
	}
}

func TestSubmitJobValidation(t *testing.T) {
	svc, s, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.SubmitJob(ctx, "no-such-session", ""); err != store.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	session, _ := svc.OpenSession("user-1")
	if _, err := svc.SubmitJob(ctx, session.ID, "no-such-model"); err != store.ErrModelNotFound {
		t.Errorf("expected ErrModelNotFound for unknown pinned version, got %v", err)
	}

	// pinned submissions carry the version onto the job
	m := models.NewModelVersion("whisper", "openai/whisper-small", "main", "ctranslate2")
	if err := s.CreateModelVersion(m); err != nil {
		t.Fatalf("CreateModelVersion failed: %v", err)
	}
	job, err := svc.SubmitJob(ctx, session.ID, m.ID)
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	if job.ModelVersionID != m.ID {
		t.Errorf("expected pinned model id on job, got %q", job.ModelVersionID)
	}

	if err := s.CloseSession(session.ID); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if _, err := svc.SubmitJob(ctx, session.ID, ""); err == nil {
		t.Errorf("expected error submitting to a closed session")
	}
}

func TestJobStatusIncludesTranscriptWhenDone(t *testing.T) {
	svc, s, _ := newService(t)
	ctx := context.Background()

	session, _ := svc.OpenSession("user-1")
	if err := svc.BindMedia(session.ID, "media/clip.mp4"); err != nil {
		t.Fatalf("BindMedia failed: %v", err)
	}
	job, err := svc.SubmitJob(ctx, session.ID, "")
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}

	view, err := svc.JobStatus(job.ID)
	if err != nil {
		t.Fatalf("JobStatus failed: %v", err)
	}
	if view.Segments != nil {
		t.Errorf("queued job should carry no transcript")
	}

	now := time.Now().UTC()
	if err := s.MarkJobProcessing(job.ID, 20, "model-a", now); err != nil {
		t.Fatalf("MarkJobProcessing failed: %v", err)
	}
	segments := []*models.TranscriptSegment{
		models.NewTranscriptSegment(job.ID, 0, 0.0, 2.0, "hello", 0.9),
	}
	if err := s.CompleteJob(job.ID, segments, now); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	view, err = svc.JobStatus(job.ID)
	if err != nil {
		t.Fatalf("JobStatus failed: %v", err)
	}
	if len(view.Segments) != 1 {
		t.Errorf("expected transcript on done job, got %d segments", len(view.Segments))
	}

	jobs, err := svc.SessionJobs(session.ID)
	if err != nil {
		t.Fatalf("SessionJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(jobs))
	}
}
