package store

import (
	"sort"
	"sync"
	"time"

	"github.com/signflow/signflow/pkg/models"
)

// MemoryStore implements Store with in-memory maps. It is intended for
// tests and single-process development setups; nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.EditingSession
	jobs     map[string]*models.Job
	segments map[string][]*models.TranscriptSegment
	exports  map[string]*models.ExportArtifact
	versions map[string]*models.ModelVersion
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.EditingSession),
		jobs:     make(map[string]*models.Job),
		segments: make(map[string][]*models.TranscriptSegment),
		exports:  make(map[string]*models.ExportArtifact),
		versions: make(map[string]*models.ModelVersion),
	}
}

// Session operations

func (s *MemoryStore) CreateSession(session *models.EditingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(id string) (*models.EditingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) BindSessionMedia(id, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.VideoObjectKey = objectKey
	session.LastActivityAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) TouchSession(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.LastActivityAt = at
	return nil
}

func (s *MemoryStore) CloseSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.Status != models.SessionStatusActive {
		return ErrSessionNotFound
	}
	session.Status = models.SessionStatusClosed
	return nil
}

func (s *MemoryStore) ExpireSessions(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, session := range s.sessions {
		if session.Status != models.SessionStatusActive || session.ExpiresAt.After(now) {
			continue
		}
		session.Status = models.SessionStatusExpired
		expired++

		for _, job := range s.jobs {
			if job.SessionID == session.ID && models.IsWorkableState(job.Status) {
				job.Status = models.JobStatusExpired
				job.UpdatedAt = now
			}
		}
	}
	return expired, nil
}

// Job operations

func (s *MemoryStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ListJobsBySession(sessionID string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if job.SessionID == sessionID {
			cp := *job
			jobs = append(jobs, &cp)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *MemoryStore) MarkJobProcessing(id string, minProgress int, modelVersionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !models.IsWorkableState(job.Status) {
		return ErrJobNotActive
	}
	job.Status = models.JobStatusProcessing
	if job.Progress < minProgress {
		job.Progress = minProgress
	}
	job.ModelVersionID = modelVersionID
	job.UpdatedAt = at
	return nil
}

func (s *MemoryStore) FailJob(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !models.IsWorkableState(job.Status) {
		return ErrJobNotActive
	}
	job.Status = models.JobStatusFailed
	job.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ExpireSessionAndJob(sessionID, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok && session.Status == models.SessionStatusActive {
		session.Status = models.SessionStatusExpired
	}
	if job, ok := s.jobs[jobID]; ok && models.IsWorkableState(job.Status) {
		job.Status = models.JobStatusExpired
		job.UpdatedAt = at
	}
	return nil
}

func (s *MemoryStore) CompleteJob(jobID string, segments []*models.TranscriptSegment, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != models.JobStatusProcessing {
		return ErrJobNotActive
	}

	job.Status = models.JobStatusDone
	job.Progress = 100
	job.UpdatedAt = at

	stored := make([]*models.TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		cp := *seg
		stored = append(stored, &cp)
	}
	s.segments[jobID] = stored

	if session, ok := s.sessions[job.SessionID]; ok {
		session.LastActivityAt = at
	}
	return nil
}

func (s *MemoryStore) GetSegments(jobID string) ([]*models.TranscriptSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var segments []*models.TranscriptSegment
	for _, seg := range s.segments[jobID] {
		cp := *seg
		segments = append(segments, &cp)
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].OrderIndex < segments[j].OrderIndex
	})
	return segments, nil
}

func (s *MemoryStore) ReplaceSegments(jobID string, segments []*models.TranscriptSegment, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != models.JobStatusDone {
		return ErrJobNotActive
	}

	stored := make([]*models.TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		cp := *seg
		stored = append(stored, &cp)
	}
	s.segments[jobID] = stored
	job.UpdatedAt = at

	if session, ok := s.sessions[job.SessionID]; ok {
		session.LastActivityAt = at
	}
	return nil
}

// Export artifacts

func (s *MemoryStore) CreateExportArtifact(artifact *models.ExportArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *artifact
	s.exports[artifact.ID] = &cp
	return nil
}

func (s *MemoryStore) GetExportArtifact(id string) (*models.ExportArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.exports[id]
	if !ok {
		return nil, ErrExportNotFound
	}
	cp := *artifact
	return &cp, nil
}

func (s *MemoryStore) FinishExportArtifact(id string, status models.ExportStatus, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	artifact, ok := s.exports[id]
	if !ok {
		return ErrExportNotFound
	}
	artifact.Status = status
	artifact.ObjectKey = objectKey
	return nil
}

func (s *MemoryStore) ListExportsByJob(jobID string) ([]*models.ExportArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var artifacts []*models.ExportArtifact
	for _, artifact := range s.exports {
		if artifact.JobID == jobID {
			cp := *artifact
			artifacts = append(artifacts, &cp)
		}
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// Model versions

func (s *MemoryStore) CreateModelVersion(m *models.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.versions[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetModelVersion(id string) (*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.versions[id]
	if !ok {
		return nil, ErrModelNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetActiveModelVersion() (*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.versions {
		if m.IsActive {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrModelNotFound
}

func (s *MemoryStore) ListModelVersions() ([]*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var versions []*models.ModelVersion
	for _, m := range s.versions {
		cp := *m
		versions = append(versions, &cp)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt.Before(versions[j].CreatedAt)
	})
	return versions, nil
}

func (s *MemoryStore) ActivateModelVersion(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.versions[id]
	if !ok {
		return ErrModelNotFound
	}

	now := time.Now().UTC()
	for _, m := range s.versions {
		if m.IsActive {
			m.IsActive = false
			if m.Status == models.ModelStatusActive {
				m.Status = models.ModelStatusStaging
			}
			m.UpdatedAt = now
		}
	}
	target.IsActive = true
	target.Status = models.ModelStatusActive
	target.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetModelVersionRollback(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.versions[id]
	if !ok {
		return ErrModelNotFound
	}
	m.Status = models.ModelStatusRollback
	m.IsActive = false
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) RecordModelSync(id, artifactPath, syncError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.versions[id]
	if !ok {
		return ErrModelNotFound
	}
	if syncError != "" {
		m.LastSyncError = syncError
	} else {
		m.ArtifactPath = artifactPath
		downloadedAt := at
		m.DownloadedAt = &downloadedAt
		m.LastSyncError = ""
	}
	m.UpdatedAt = at
	return nil
}

// Lifecycle

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) HealthCheck() error {
	return nil
}
