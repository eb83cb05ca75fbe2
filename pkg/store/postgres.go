package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/signflow/signflow/pkg/models"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config Config) (*PostgresStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		status TEXT NOT NULL,
		video_object_key TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		last_activity_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		model_version_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transcript_segments (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		order_index INTEGER NOT NULL,
		start_sec DOUBLE PRECISION NOT NULL,
		end_sec DOUBLE PRECISION NOT NULL,
		text TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS export_artifacts (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		format TEXT NOT NULL,
		status TEXT NOT NULL,
		object_key TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_versions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		repo TEXT NOT NULL,
		revision TEXT NOT NULL,
		framework TEXT NOT NULL,
		status TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		artifact_path TEXT,
		downloaded_at TIMESTAMPTZ,
		last_sync_error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status_expiry ON sessions(status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_session ON jobs(session_id, status);
	CREATE INDEX IF NOT EXISTS idx_segments_job ON transcript_segments(job_id, order_index);
	CREATE INDEX IF NOT EXISTS idx_exports_job ON export_artifacts(job_id);
	CREATE INDEX IF NOT EXISTS idx_models_active ON model_versions(is_active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Session operations

func (s *PostgresStore) CreateSession(session *models.EditingSession) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user_id, status, video_object_key, created_at, expires_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, session.ID, session.UserID, session.Status, session.VideoObjectKey,
		session.CreatedAt, session.ExpiresAt, session.LastActivityAt)
	return err
}

func (s *PostgresStore) GetSession(id string) (*models.EditingSession, error) {
	var session models.EditingSession
	var userID, objectKey sql.NullString

	err := s.db.QueryRow(`
		SELECT id, user_id, status, video_object_key, created_at, expires_at, last_activity_at
		FROM sessions WHERE id = $1
	`, id).Scan(&session.ID, &userID, &session.Status, &objectKey,
		&session.CreatedAt, &session.ExpiresAt, &session.LastActivityAt)

	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	session.UserID = userID.String
	session.VideoObjectKey = objectKey.String
	return &session, nil
}

func (s *PostgresStore) BindSessionMedia(id, objectKey string) error {
	return s.execOne(`
		UPDATE sessions SET video_object_key = $1, last_activity_at = $2 WHERE id = $3
	`, ErrSessionNotFound, objectKey, time.Now().UTC(), id)
}

func (s *PostgresStore) TouchSession(id string, at time.Time) error {
	return s.execOne(`
		UPDATE sessions SET last_activity_at = $1 WHERE id = $2
	`, ErrSessionNotFound, at, id)
}

func (s *PostgresStore) CloseSession(id string) error {
	return s.execOne(`
		UPDATE sessions SET status = $1 WHERE id = $2 AND status = $3
	`, ErrSessionNotFound, models.SessionStatusClosed, id, models.SessionStatusActive)
}

func (s *PostgresStore) ExpireSessions(now time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE jobs SET status = $1, updated_at = $2
		WHERE status IN ($3, $4)
		  AND session_id IN (SELECT id FROM sessions WHERE status = $5 AND expires_at <= $6)
	`, models.JobStatusExpired, now,
		models.JobStatusQueued, models.JobStatusProcessing,
		models.SessionStatusActive, now)
	if err != nil {
		return 0, err
	}

	res, err := tx.Exec(`
		UPDATE sessions SET status = $1 WHERE status = $2 AND expires_at <= $3
	`, models.SessionStatusExpired, models.SessionStatusActive, now)
	if err != nil {
		return 0, err
	}

	expired, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(expired), tx.Commit()
}

// Job operations

func (s *PostgresStore) CreateJob(job *models.Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, session_id, status, progress, model_version_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.ID, job.SessionID, job.Status, job.Progress, job.ModelVersionID,
		job.CreatedAt, job.UpdatedAt)
	return err
}

func (s *PostgresStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, status, progress, model_version_id, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)
	return scanJob(row)
}

func (s *PostgresStore) ListJobsBySession(sessionID string) ([]*models.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, status, progress, model_version_id, created_at, updated_at
		FROM jobs WHERE session_id = $1 ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) MarkJobProcessing(id string, minProgress int, modelVersionID string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = $1, progress = GREATEST(progress, $2), model_version_id = $3, updated_at = $4
		WHERE id = $5 AND status IN ($6, $7)
	`, models.JobStatusProcessing, minProgress, modelVersionID, at,
		id, models.JobStatusQueued, models.JobStatusProcessing)
	if err != nil {
		return err
	}
	return s.checkJobGuard(res, id)
}

func (s *PostgresStore) FailJob(id string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`, models.JobStatusFailed, at, id, models.JobStatusQueued, models.JobStatusProcessing)
	if err != nil {
		return err
	}
	return s.checkJobGuard(res, id)
}

func (s *PostgresStore) ExpireSessionAndJob(sessionID, jobID string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE sessions SET status = $1 WHERE id = $2 AND status = $3
	`, models.SessionStatusExpired, sessionID, models.SessionStatusActive); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE jobs SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`, models.JobStatusExpired, at, jobID,
		models.JobStatusQueued, models.JobStatusProcessing); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) CompleteJob(jobID string, segments []*models.TranscriptSegment, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE jobs SET status = $1, progress = 100, updated_at = $2
		WHERE id = $3 AND status = $4
	`, models.JobStatusDone, at, jobID, models.JobStatusProcessing)
	if err != nil {
		return err
	}
	if err := pgJobGuardTx(tx, res, jobID); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM transcript_segments WHERE job_id = $1`, jobID); err != nil {
		return err
	}
	for _, seg := range segments {
		if _, err := tx.Exec(`
			INSERT INTO transcript_segments (id, job_id, order_index, start_sec, end_sec, text, confidence, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, seg.ID, seg.JobID, seg.OrderIndex, seg.StartSec, seg.EndSec, seg.Text, seg.Confidence, seg.Version); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET last_activity_at = $1
		WHERE id = (SELECT session_id FROM jobs WHERE id = $2)
	`, at, jobID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) ReplaceSegments(jobID string, segments []*models.TranscriptSegment, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE jobs SET updated_at = $1 WHERE id = $2 AND status = $3
	`, at, jobID, models.JobStatusDone)
	if err != nil {
		return err
	}
	if err := pgJobGuardTx(tx, res, jobID); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM transcript_segments WHERE job_id = $1`, jobID); err != nil {
		return err
	}
	for _, seg := range segments {
		if _, err := tx.Exec(`
			INSERT INTO transcript_segments (id, job_id, order_index, start_sec, end_sec, text, confidence, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, seg.ID, seg.JobID, seg.OrderIndex, seg.StartSec, seg.EndSec, seg.Text, seg.Confidence, seg.Version); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET last_activity_at = $1
		WHERE id = (SELECT session_id FROM jobs WHERE id = $2)
	`, at, jobID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) GetSegments(jobID string) ([]*models.TranscriptSegment, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, order_index, start_sec, end_sec, text, confidence, version
		FROM transcript_segments WHERE job_id = $1 ORDER BY order_index ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []*models.TranscriptSegment
	for rows.Next() {
		var seg models.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.JobID, &seg.OrderIndex, &seg.StartSec,
			&seg.EndSec, &seg.Text, &seg.Confidence, &seg.Version); err != nil {
			return nil, err
		}
		segments = append(segments, &seg)
	}
	return segments, rows.Err()
}

// Export artifacts

func (s *PostgresStore) CreateExportArtifact(artifact *models.ExportArtifact) error {
	_, err := s.db.Exec(`
		INSERT INTO export_artifacts (id, job_id, format, status, object_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, artifact.ID, artifact.JobID, artifact.Format, artifact.Status,
		artifact.ObjectKey, artifact.CreatedAt)
	return err
}

func (s *PostgresStore) GetExportArtifact(id string) (*models.ExportArtifact, error) {
	var artifact models.ExportArtifact
	var objectKey sql.NullString

	err := s.db.QueryRow(`
		SELECT id, job_id, format, status, object_key, created_at
		FROM export_artifacts WHERE id = $1
	`, id).Scan(&artifact.ID, &artifact.JobID, &artifact.Format,
		&artifact.Status, &objectKey, &artifact.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrExportNotFound
	}
	if err != nil {
		return nil, err
	}
	artifact.ObjectKey = objectKey.String
	return &artifact, nil
}

func (s *PostgresStore) FinishExportArtifact(id string, status models.ExportStatus, objectKey string) error {
	return s.execOne(`
		UPDATE export_artifacts SET status = $1, object_key = $2 WHERE id = $3
	`, ErrExportNotFound, status, objectKey, id)
}

func (s *PostgresStore) ListExportsByJob(jobID string) ([]*models.ExportArtifact, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, format, status, object_key, created_at
		FROM export_artifacts WHERE job_id = $1 ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*models.ExportArtifact
	for rows.Next() {
		var artifact models.ExportArtifact
		var objectKey sql.NullString
		if err := rows.Scan(&artifact.ID, &artifact.JobID, &artifact.Format,
			&artifact.Status, &objectKey, &artifact.CreatedAt); err != nil {
			return nil, err
		}
		artifact.ObjectKey = objectKey.String
		artifacts = append(artifacts, &artifact)
	}
	return artifacts, rows.Err()
}

// Model versions

func (s *PostgresStore) CreateModelVersion(m *models.ModelVersion) error {
	_, err := s.db.Exec(`
		INSERT INTO model_versions (id, name, repo, revision, framework, status, is_active,
			artifact_path, downloaded_at, last_sync_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, m.ID, m.Name, m.Repo, m.Revision, m.Framework, m.Status, m.IsActive,
		m.ArtifactPath, m.DownloadedAt, m.LastSyncError, m.CreatedAt, m.UpdatedAt)
	return err
}

func (s *PostgresStore) GetModelVersion(id string) (*models.ModelVersion, error) {
	row := s.db.QueryRow(`
		SELECT id, name, repo, revision, framework, status, is_active,
		       artifact_path, downloaded_at, last_sync_error, created_at, updated_at
		FROM model_versions WHERE id = $1
	`, id)
	return scanModelVersion(row)
}

func (s *PostgresStore) GetActiveModelVersion() (*models.ModelVersion, error) {
	row := s.db.QueryRow(`
		SELECT id, name, repo, revision, framework, status, is_active,
		       artifact_path, downloaded_at, last_sync_error, created_at, updated_at
		FROM model_versions WHERE is_active = TRUE LIMIT 1
	`)
	return scanModelVersion(row)
}

func (s *PostgresStore) ListModelVersions() ([]*models.ModelVersion, error) {
	rows, err := s.db.Query(`
		SELECT id, name, repo, revision, framework, status, is_active,
		       artifact_path, downloaded_at, last_sync_error, created_at, updated_at
		FROM model_versions ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.ModelVersion
	for rows.Next() {
		m, err := scanModelVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, m)
	}
	return versions, rows.Err()
}

// ActivateModelVersion runs at serializable isolation so concurrent
// activations cannot leave two versions marked active.
func (s *PostgresStore) ActivateModelVersion(id string) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM model_versions WHERE id = $1`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrModelNotFound
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`
		UPDATE model_versions
		SET is_active = FALSE,
		    status = CASE WHEN status = $1 THEN $2 ELSE status END,
		    updated_at = $3
		WHERE is_active = TRUE
	`, models.ModelStatusActive, models.ModelStatusStaging, now); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE model_versions SET is_active = TRUE, status = $1, updated_at = $2 WHERE id = $3
	`, models.ModelStatusActive, now, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) SetModelVersionRollback(id string) error {
	return s.execOne(`
		UPDATE model_versions SET status = $1, is_active = FALSE, updated_at = $2 WHERE id = $3
	`, ErrModelNotFound, models.ModelStatusRollback, time.Now().UTC(), id)
}

func (s *PostgresStore) RecordModelSync(id, artifactPath, syncError string, at time.Time) error {
	if syncError != "" {
		return s.execOne(`
			UPDATE model_versions SET last_sync_error = $1, updated_at = $2 WHERE id = $3
		`, ErrModelNotFound, syncError, at, id)
	}
	return s.execOne(`
		UPDATE model_versions
		SET artifact_path = $1, downloaded_at = $2, last_sync_error = '', updated_at = $3
		WHERE id = $4
	`, ErrModelNotFound, artifactPath, at, at, id)
}

// Lifecycle

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}

// pgJobGuardTx resolves a zero-row CAS update inside an open
// transaction. The probe goes through tx so a capped pool cannot make
// the guard wait on its own connection.
func pgJobGuardTx(tx *sql.Tx, res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows != 0 {
		return nil
	}
	row := tx.QueryRow(`
		SELECT id, session_id, status, progress, model_version_id, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)
	if _, err := scanJob(row); err != nil {
		return err
	}
	return ErrJobNotActive
}

func (s *PostgresStore) checkJobGuard(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetJob(id); err != nil {
			return err
		}
		return ErrJobNotActive
	}
	return nil
}

func (s *PostgresStore) execOne(query string, notFound error, args ...interface{}) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
