package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/signflow/signflow/pkg/models"
)

// storeUnderTest runs fn against each store implementation that can be
// exercised without external services.
func storeUnderTest(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "signflow_test.db"))
		if err != nil {
			t.Fatalf("failed to create sqlite store: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
}

func mustCreateSession(t *testing.T, s Store, ttl time.Duration) *models.EditingSession {
	t.Helper()
	session := models.NewEditingSession("user-1", ttl)
	if err := s.CreateSession(session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return session
}

func mustCreateJob(t *testing.T, s Store, sessionID string) *models.Job {
	t.Helper()
	job := models.NewJob(sessionID)
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	return job
}

func TestSessionLifecycle(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		session := mustCreateSession(t, s, time.Hour)

		got, err := s.GetSession(session.ID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.Status != models.SessionStatusActive {
			t.Errorf("expected active session, got %s", got.Status)
		}

		if err := s.BindSessionMedia(session.ID, "media/clip.mp4"); err != nil {
			t.Fatalf("BindSessionMedia failed: %v", err)
		}
		got, err = s.GetSession(session.ID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.VideoObjectKey != "media/clip.mp4" {
			t.Errorf("expected bound media key, got %q", got.VideoObjectKey)
		}

		if err := s.CloseSession(session.ID); err != nil {
			t.Fatalf("CloseSession failed: %v", err)
		}
		got, _ = s.GetSession(session.ID)
		if got.Status != models.SessionStatusClosed {
			t.Errorf("expected closed session, got %s", got.Status)
		}

		// closing a non-active session is rejected
		if err := s.CloseSession(session.ID); err != ErrSessionNotFound {
			t.Errorf("expected ErrSessionNotFound on double close, got %v", err)
		}
	})
}

func TestGetSessionNotFound(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		if _, err := s.GetSession("no-such-session"); err != ErrSessionNotFound {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestExpireSessionsSweep(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		stale := mustCreateSession(t, s, time.Hour)
		fresh := mustCreateSession(t, s, 2*time.Hour)

		staleJob := mustCreateJob(t, s, stale.ID)
		freshJob := mustCreateJob(t, s, fresh.ID)

		// sweep at a cutoff past the stale session's window only
		cutoff := stale.ExpiresAt.Add(time.Second)
		if !fresh.ExpiresAt.After(cutoff) {
			// keep the fresh session strictly inside its window
			t.Fatalf("test setup: fresh session window too short")
		}

		// fresh expires an hour after stale here, so sweep at stale's
		// boundary only
		count, err := s.ExpireSessions(stale.ExpiresAt)
		if err != nil {
			t.Fatalf("ExpireSessions failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 expired session, got %d", count)
		}

		got, _ := s.GetSession(stale.ID)
		if got.Status != models.SessionStatusExpired {
			t.Errorf("expected stale session expired, got %s", got.Status)
		}
		got, _ = s.GetSession(fresh.ID)
		if got.Status != models.SessionStatusActive {
			t.Errorf("expected fresh session still active, got %s", got.Status)
		}

		gotJob, _ := s.GetJob(staleJob.ID)
		if gotJob.Status != models.JobStatusExpired {
			t.Errorf("expected stale session's job expired, got %s", gotJob.Status)
		}
		gotJob, _ = s.GetJob(freshJob.ID)
		if gotJob.Status != models.JobStatusQueued {
			t.Errorf("expected fresh session's job queued, got %s", gotJob.Status)
		}

		// a second sweep at the same cutoff finds nothing new
		count, err = s.ExpireSessions(stale.ExpiresAt)
		if err != nil {
			t.Fatalf("ExpireSessions failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected idempotent sweep, got %d", count)
		}
	})
}

func TestJobTransitions(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		session := mustCreateSession(t, s, time.Hour)
		job := mustCreateJob(t, s, session.ID)
		now := time.Now().UTC()

		if err := s.MarkJobProcessing(job.ID, 20, "model-a", now); err != nil {
			t.Fatalf("MarkJobProcessing failed: %v", err)
		}
		got, err := s.GetJob(job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if got.Status != models.JobStatusProcessing {
			t.Errorf("expected processing, got %s", got.Status)
		}
		if got.Progress != 20 {
			t.Errorf("expected progress 20, got %d", got.Progress)
		}
		if got.ModelVersionID != "model-a" {
			t.Errorf("expected model-a, got %q", got.ModelVersionID)
		}

		// progress never goes backwards on redelivery
		if err := s.MarkJobProcessing(job.ID, 10, "model-a", now); err != nil {
			t.Fatalf("MarkJobProcessing redelivery failed: %v", err)
		}
		got, _ = s.GetJob(job.ID)
		if got.Progress != 20 {
			t.Errorf("expected progress to stay at 20, got %d", got.Progress)
		}

		if err := s.FailJob(job.ID, now); err != nil {
			t.Fatalf("FailJob failed: %v", err)
		}
		got, _ = s.GetJob(job.ID)
		if got.Status != models.JobStatusFailed {
			t.Errorf("expected failed, got %s", got.Status)
		}

		// terminal jobs reject further transitions
		if err := s.MarkJobProcessing(job.ID, 20, "model-a", now); err != ErrJobNotActive {
			t.Errorf("expected ErrJobNotActive on terminal job, got %v", err)
		}
		if err := s.FailJob(job.ID, now); err != ErrJobNotActive {
			t.Errorf("expected ErrJobNotActive on terminal job, got %v", err)
		}
	})
}

func TestCompleteJob(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		session := mustCreateSession(t, s, time.Hour)
		job := mustCreateJob(t, s, session.ID)
		now := time.Now().UTC()

		segments := []*models.TranscriptSegment{
			models.NewTranscriptSegment(job.ID, 0, 0.0, 2.5, "hello", 0.9),
			models.NewTranscriptSegment(job.ID, 1, 2.5, 5.0, "world", 0.8),
		}

		// done is only reachable from processing
		if err := s.CompleteJob(job.ID, segments, now); err != ErrJobNotActive {
			t.Fatalf("expected ErrJobNotActive from queued, got %v", err)
		}

		if err := s.MarkJobProcessing(job.ID, 20, "model-a", now); err != nil {
			t.Fatalf("MarkJobProcessing failed: %v", err)
		}
		if err := s.CompleteJob(job.ID, segments, now); err != nil {
			t.Fatalf("CompleteJob failed: %v", err)
		}

		got, _ := s.GetJob(job.ID)
		if got.Status != models.JobStatusDone {
			t.Errorf("expected done, got %s", got.Status)
		}
		if got.Progress != 100 {
			t.Errorf("expected progress 100, got %d", got.Progress)
		}

		stored, err := s.GetSegments(job.ID)
		if err != nil {
			t.Fatalf("GetSegments failed: %v", err)
		}
		if len(stored) != 2 {
			t.Fatalf("expected 2 segments, got %d", len(stored))
		}
		if stored[0].Text != "hello" || stored[1].Text != "world" {
			t.Errorf("segments out of order: %q, %q", stored[0].Text, stored[1].Text)
		}

		// redelivered completion is rejected, transcript untouched
		if err := s.CompleteJob(job.ID, segments[:1], now); err != ErrJobNotActive {
			t.Errorf("expected ErrJobNotActive on redelivered completion, got %v", err)
		}
		stored, _ = s.GetSegments(job.ID)
		if len(stored) != 2 {
			t.Errorf("expected transcript untouched, got %d segments", len(stored))
		}
	})
}

func TestReplaceSegments(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		session := mustCreateSession(t, s, time.Hour)
		job := mustCreateJob(t, s, session.ID)
		now := time.Now().UTC()

		first := []*models.TranscriptSegment{
			models.NewTranscriptSegment(job.ID, 0, 0.0, 2.0, "pass one", 0.9),
		}

		// replacement requires a done job
		if err := s.ReplaceSegments(job.ID, first, now); err != ErrJobNotActive {
			t.Fatalf("expected ErrJobNotActive before completion, got %v", err)
		}

		if err := s.MarkJobProcessing(job.ID, 20, "model-a", now); err != nil {
			t.Fatalf("MarkJobProcessing failed: %v", err)
		}
		if err := s.CompleteJob(job.ID, first, now); err != nil {
			t.Fatalf("CompleteJob failed: %v", err)
		}

		revised := []*models.TranscriptSegment{
			models.NewTranscriptSegment(job.ID, 0, 0.0, 2.0, "pass two", 0.88),
			models.NewTranscriptSegment(job.ID, 1, 2.0, 4.0, "extra", 0.85),
		}
		revised[0].Version = 2
		revised[1].Version = 2
		if err := s.ReplaceSegments(job.ID, revised, now); err != nil {
			t.Fatalf("ReplaceSegments failed: %v", err)
		}

		got, err := s.GetSegments(job.ID)
		if err != nil {
			t.Fatalf("GetSegments failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 segments after replacement, got %d", len(got))
		}
		if got[0].Text != "pass two" || got[0].Version != 2 {
			t.Errorf("unexpected replacement segment: %+v", got[0])
		}
	})
}

// Guarded transitions that match zero rows must resolve promptly; an
// earlier version probed job existence on the pool while the update's
// transaction held sqlite's only connection, blocking forever.
func TestJobGuardMissResolvesPromptly(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		session := mustCreateSession(t, s, time.Hour)
		job := mustCreateJob(t, s, session.ID)
		now := time.Now().UTC()

		segments := []*models.TranscriptSegment{
			models.NewTranscriptSegment(job.ID, 0, 0.0, 2.0, "hello", 0.9),
		}

		done := make(chan error, 2)
		go func() {
			// queued job: both CAS guards miss
			done <- s.CompleteJob(job.ID, segments, now)
			done <- s.ReplaceSegments(job.ID, segments, now)
		}()
		for i := 0; i < 2; i++ {
			select {
			case err := <-done:
				if err != ErrJobNotActive {
					t.Errorf("expected ErrJobNotActive on guard miss, got %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("guard miss did not resolve, transition is blocked")
			}
		}

		// a guard miss on a missing job reports not-found, not not-active
		if err := s.CompleteJob("no-such-job", segments, now); err != ErrJobNotFound {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
		if err := s.ReplaceSegments("no-such-job", segments, now); err != ErrJobNotFound {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})
}

func TestExpireSessionAndJob(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		session := mustCreateSession(t, s, time.Hour)
		job := mustCreateJob(t, s, session.ID)
		now := time.Now().UTC()

		if err := s.ExpireSessionAndJob(session.ID, job.ID, now); err != nil {
			t.Fatalf("ExpireSessionAndJob failed: %v", err)
		}

		gotSession, _ := s.GetSession(session.ID)
		if gotSession.Status != models.SessionStatusExpired {
			t.Errorf("expected expired session, got %s", gotSession.Status)
		}
		gotJob, _ := s.GetJob(job.ID)
		if gotJob.Status != models.JobStatusExpired {
			t.Errorf("expected expired job, got %s", gotJob.Status)
		}

		// repeating is a no-op, not an error
		if err := s.ExpireSessionAndJob(session.ID, job.ID, now); err != nil {
			t.Errorf("expected idempotent expire, got %v", err)
		}
	})
}

func TestExportArtifacts(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		session := mustCreateSession(t, s, time.Hour)
		job := mustCreateJob(t, s, session.ID)

		artifact := models.NewExportArtifact(job.ID, models.ExportFormatSRT)
		if err := s.CreateExportArtifact(artifact); err != nil {
			t.Fatalf("CreateExportArtifact failed: %v", err)
		}

		if err := s.FinishExportArtifact(artifact.ID, models.ExportStatusDone, "exports/out.srt"); err != nil {
			t.Fatalf("FinishExportArtifact failed: %v", err)
		}

		got, err := s.GetExportArtifact(artifact.ID)
		if err != nil {
			t.Fatalf("GetExportArtifact failed: %v", err)
		}
		if got.Status != models.ExportStatusDone {
			t.Errorf("expected done export, got %s", got.Status)
		}
		if got.ObjectKey != "exports/out.srt" {
			t.Errorf("expected object key set, got %q", got.ObjectKey)
		}

		list, err := s.ListExportsByJob(job.ID)
		if err != nil {
			t.Fatalf("ListExportsByJob failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected 1 export, got %d", len(list))
		}
	})
}

func TestModelVersionActivation(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		a := models.NewModelVersion("whisper-small", "openai/whisper-small", "main", "ctranslate2")
		b := models.NewModelVersion("whisper-medium", "openai/whisper-medium", "main", "ctranslate2")
		for _, m := range []*models.ModelVersion{a, b} {
			if err := s.CreateModelVersion(m); err != nil {
				t.Fatalf("CreateModelVersion failed: %v", err)
			}
		}

		if _, err := s.GetActiveModelVersion(); err != ErrModelNotFound {
			t.Errorf("expected no active version, got %v", err)
		}

		if err := s.ActivateModelVersion(a.ID); err != nil {
			t.Fatalf("ActivateModelVersion failed: %v", err)
		}
		active, err := s.GetActiveModelVersion()
		if err != nil {
			t.Fatalf("GetActiveModelVersion failed: %v", err)
		}
		if active.ID != a.ID {
			t.Errorf("expected %s active, got %s", a.ID, active.ID)
		}

		// activating another version demotes the current one
		if err := s.ActivateModelVersion(b.ID); err != nil {
			t.Fatalf("ActivateModelVersion failed: %v", err)
		}
		active, _ = s.GetActiveModelVersion()
		if active.ID != b.ID {
			t.Errorf("expected %s active, got %s", b.ID, active.ID)
		}
		demoted, _ := s.GetModelVersion(a.ID)
		if demoted.IsActive {
			t.Errorf("expected previous version demoted")
		}
		if demoted.Status != models.ModelStatusStaging {
			t.Errorf("expected demoted version in staging, got %s", demoted.Status)
		}

		// exactly one active version overall
		versions, _ := s.ListModelVersions()
		activeCount := 0
		for _, m := range versions {
			if m.IsActive {
				activeCount++
			}
		}
		if activeCount != 1 {
			t.Errorf("expected exactly 1 active version, got %d", activeCount)
		}

		if err := s.ActivateModelVersion("no-such-model"); err != ErrModelNotFound {
			t.Errorf("expected ErrModelNotFound, got %v", err)
		}
	})
}

func TestModelVersionRollbackAndSync(t *testing.T) {
	storeUnderTest(t, func(t *testing.T, s Store) {
		m := models.NewModelVersion("whisper-small", "openai/whisper-small", "main", "ctranslate2")
		if err := s.CreateModelVersion(m); err != nil {
			t.Fatalf("CreateModelVersion failed: %v", err)
		}
		if err := s.ActivateModelVersion(m.ID); err != nil {
			t.Fatalf("ActivateModelVersion failed: %v", err)
		}

		if err := s.SetModelVersionRollback(m.ID); err != nil {
			t.Fatalf("SetModelVersionRollback failed: %v", err)
		}
		got, _ := s.GetModelVersion(m.ID)
		if got.Status != models.ModelStatusRollback {
			t.Errorf("expected rollback status, got %s", got.Status)
		}
		if got.IsActive {
			t.Errorf("rolled back version must not stay active")
		}

		now := time.Now().UTC()
		if err := s.RecordModelSync(m.ID, "", "hub offline", now); err != nil {
			t.Fatalf("RecordModelSync failed: %v", err)
		}
		got, _ = s.GetModelVersion(m.ID)
		if got.LastSyncError != "hub offline" {
			t.Errorf("expected sync error recorded, got %q", got.LastSyncError)
		}

		if err := s.RecordModelSync(m.ID, "/cache/whisper-small", "", now); err != nil {
			t.Fatalf("RecordModelSync failed: %v", err)
		}
		got, _ = s.GetModelVersion(m.ID)
		if got.ArtifactPath != "/cache/whisper-small" {
			t.Errorf("expected artifact path recorded, got %q", got.ArtifactPath)
		}
		if got.LastSyncError != "" {
			t.Errorf("expected sync error cleared, got %q", got.LastSyncError)
		}
		if got.DownloadedAt == nil {
			t.Errorf("expected downloaded_at set")
		}
	})
}
