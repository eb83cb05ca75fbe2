package store

import (
	"errors"
	"time"

	"github.com/signflow/signflow/pkg/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrModelNotFound   = errors.New("model version not found")
	ErrExportNotFound  = errors.New("export artifact not found")

	// ErrJobNotActive is returned by compare-and-swap transitions when
	// the job has already reached a terminal state. A second queue
	// delivery racing a sweep lands here instead of overwriting
	// committed work.
	ErrJobNotActive = errors.New("job is not in a workable state")

	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store defines the interface for data persistence.
// SQLite, PostgreSQL and the in-memory test store all implement it.
type Store interface {
	// Session operations
	CreateSession(session *models.EditingSession) error
	GetSession(id string) (*models.EditingSession, error)
	BindSessionMedia(id, objectKey string) error
	TouchSession(id string, at time.Time) error
	CloseSession(id string) error
	// ExpireSessions runs the sweep: every active session past its
	// window is expired together with its queued/processing jobs, in
	// one transaction per pass. Returns the number of expired sessions.
	ExpireSessions(now time.Time) (int, error)

	// Job operations
	CreateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	ListJobsBySession(sessionID string) ([]*models.Job, error)
	// MarkJobProcessing transitions queued→processing with a status
	// guard, binds the routed model version, and raises progress to at
	// least minProgress.
	MarkJobProcessing(id string, minProgress int, modelVersionID string, at time.Time) error
	FailJob(id string, at time.Time) error
	// ExpireSessionAndJob expires a stale session together with the
	// current job in one transaction (lazy expiry during processing).
	ExpireSessionAndJob(sessionID, jobID string, at time.Time) error
	// CompleteJob atomically replaces the job's segments, marks it
	// done with progress 100, and refreshes the session's activity.
	// Fails with ErrJobNotActive unless the job is still processing.
	CompleteJob(jobID string, segments []*models.TranscriptSegment, at time.Time) error

	// Transcript segments
	GetSegments(jobID string) ([]*models.TranscriptSegment, error)
	// ReplaceSegments swaps a done job's transcript wholesale, used by
	// regeneration passes. Fails with ErrJobNotActive unless the job
	// is done.
	ReplaceSegments(jobID string, segments []*models.TranscriptSegment, at time.Time) error

	// Export artifacts
	CreateExportArtifact(artifact *models.ExportArtifact) error
	GetExportArtifact(id string) (*models.ExportArtifact, error)
	FinishExportArtifact(id string, status models.ExportStatus, objectKey string) error
	ListExportsByJob(jobID string) ([]*models.ExportArtifact, error)

	// Model versions
	CreateModelVersion(m *models.ModelVersion) error
	GetModelVersion(id string) (*models.ModelVersion, error)
	GetActiveModelVersion() (*models.ModelVersion, error)
	ListModelVersions() ([]*models.ModelVersion, error)
	// ActivateModelVersion demotes every active version and promotes
	// the target in one transaction, so "at most one active" holds at
	// every observable instant.
	ActivateModelVersion(id string) error
	SetModelVersionRollback(id string) error
	RecordModelSync(id, artifactPath, syncError string, at time.Time) error

	// Lifecycle
	Close() error
	HealthCheck() error
}

// Config holds database configuration
type Config struct {
	Type string // "sqlite", "postgres" or "memory"
	DSN  string

	// PostgreSQL pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "sqlite", "":
		dsn := config.DSN
		if dsn == "" {
			dsn = "signflow.db"
		}
		return NewSQLiteStore(dsn)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}
