package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/signflow/signflow/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// The DSN enables WAL and an immediate-lock busy timeout; the pool is
// capped at a single connection to serialize writes and avoid
// SQLITE_BUSY under concurrent workers on one host.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		status TEXT NOT NULL,
		video_object_key TEXT,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		last_activity_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		model_version_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transcript_segments (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		order_index INTEGER NOT NULL,
		start_sec REAL NOT NULL,
		end_sec REAL NOT NULL,
		text TEXT NOT NULL,
		confidence REAL NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS export_artifacts (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		format TEXT NOT NULL,
		status TEXT NOT NULL,
		object_key TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_versions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		repo TEXT NOT NULL,
		revision TEXT NOT NULL,
		framework TEXT NOT NULL,
		status TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 0,
		artifact_path TEXT,
		downloaded_at DATETIME,
		last_sync_error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
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

func (s *SQLiteStore) CreateSession(session *models.EditingSession) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user_id, status, video_object_key, created_at, expires_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.UserID, session.Status, session.VideoObjectKey,
		session.CreatedAt, session.ExpiresAt, session.LastActivityAt)
	return err
}

func (s *SQLiteStore) GetSession(id string) (*models.EditingSession, error) {
	var session models.EditingSession
	var userID, objectKey sql.NullString

	err := s.db.QueryRow(`
		SELECT id, user_id, status, video_object_key, created_at, expires_at, last_activity_at
		FROM sessions WHERE id = ?
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

func (s *SQLiteStore) BindSessionMedia(id, objectKey string) error {
	return s.execOne(`
		UPDATE sessions SET video_object_key = ?, last_activity_at = ? WHERE id = ?
	`, ErrSessionNotFound, objectKey, time.Now().UTC(), id)
}

func (s *SQLiteStore) TouchSession(id string, at time.Time) error {
	return s.execOne(`
		UPDATE sessions SET last_activity_at = ? WHERE id = ?
	`, ErrSessionNotFound, at, id)
}

func (s *SQLiteStore) CloseSession(id string) error {
	return s.execOne(`
		UPDATE sessions SET status = ? WHERE id = ? AND status = ?
	`, ErrSessionNotFound, models.SessionStatusClosed, id, models.SessionStatusActive)
}

// ExpireSessions expires every active session past its window and the
// queued/processing jobs that belong to them, in one transaction.
func (s *SQLiteStore) ExpireSessions(now time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Jobs first, while the owning sessions still match on status.
	_, err = tx.Exec(`
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE status IN (?, ?)
		  AND session_id IN (SELECT id FROM sessions WHERE status = ? AND expires_at <= ?)
	`, models.JobStatusExpired, now,
		models.JobStatusQueued, models.JobStatusProcessing,
		models.SessionStatusActive, now)
	if err != nil {
		return 0, err
	}

	res, err := tx.Exec(`
		UPDATE sessions SET status = ? WHERE status = ? AND expires_at <= ?
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

func (s *SQLiteStore) CreateJob(job *models.Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, session_id, status, progress, model_version_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.SessionID, job.Status, job.Progress, job.ModelVersionID,
		job.CreatedAt, job.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, status, progress, model_version_id, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobsBySession(sessionID string) ([]*models.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, status, progress, model_version_id, created_at, updated_at
		FROM jobs WHERE session_id = ? ORDER BY created_at ASC
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

func (s *SQLiteStore) MarkJobProcessing(id string, minProgress int, modelVersionID string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, progress = MAX(progress, ?), model_version_id = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, models.JobStatusProcessing, minProgress, modelVersionID, at,
		id, models.JobStatusQueued, models.JobStatusProcessing)
	if err != nil {
		return err
	}
	return s.checkJobGuard(res, id)
}

func (s *SQLiteStore) FailJob(id string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, models.JobStatusFailed, at, id, models.JobStatusQueued, models.JobStatusProcessing)
	if err != nil {
		return err
	}
	return s.checkJobGuard(res, id)
}

func (s *SQLiteStore) ExpireSessionAndJob(sessionID, jobID string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE sessions SET status = ? WHERE id = ? AND status = ?
	`, models.SessionStatusExpired, sessionID, models.SessionStatusActive); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, models.JobStatusExpired, at, jobID,
		models.JobStatusQueued, models.JobStatusProcessing); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) CompleteJob(jobID string, segments []*models.TranscriptSegment, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE jobs SET status = ?, progress = 100, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.JobStatusDone, at, jobID, models.JobStatusProcessing)
	if err != nil {
		return err
	}
	if err := jobGuardTx(tx, res, jobID); err != nil {
		return err
	}

	// Segments are replaced wholesale, never merged.
	if _, err := tx.Exec(`DELETE FROM transcript_segments WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	for _, seg := range segments {
		if _, err := tx.Exec(`
			INSERT INTO transcript_segments (id, job_id, order_index, start_sec, end_sec, text, confidence, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, seg.ID, seg.JobID, seg.OrderIndex, seg.StartSec, seg.EndSec, seg.Text, seg.Confidence, seg.Version); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET last_activity_at = ?
		WHERE id = (SELECT session_id FROM jobs WHERE id = ?)
	`, at, jobID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) ReplaceSegments(jobID string, segments []*models.TranscriptSegment, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE jobs SET updated_at = ? WHERE id = ? AND status = ?
	`, at, jobID, models.JobStatusDone)
	if err != nil {
		return err
	}
	if err := jobGuardTx(tx, res, jobID); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM transcript_segments WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	for _, seg := range segments {
		if _, err := tx.Exec(`
			INSERT INTO transcript_segments (id, job_id, order_index, start_sec, end_sec, text, confidence, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, seg.ID, seg.JobID, seg.OrderIndex, seg.StartSec, seg.EndSec, seg.Text, seg.Confidence, seg.Version); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET last_activity_at = ?
		WHERE id = (SELECT session_id FROM jobs WHERE id = ?)
	`, at, jobID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetSegments(jobID string) ([]*models.TranscriptSegment, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, order_index, start_sec, end_sec, text, confidence, version
		FROM transcript_segments WHERE job_id = ? ORDER BY order_index ASC
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

func (s *SQLiteStore) CreateExportArtifact(artifact *models.ExportArtifact) error {
	_, err := s.db.Exec(`
		INSERT INTO export_artifacts (id, job_id, format, status, object_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, artifact.ID, artifact.JobID, artifact.Format, artifact.Status,
		artifact.ObjectKey, artifact.CreatedAt)
	return err
}

func (s *SQLiteStore) GetExportArtifact(id string) (*models.ExportArtifact, error) {
	var artifact models.ExportArtifact
	var objectKey sql.NullString

	err := s.db.QueryRow(`
		SELECT id, job_id, format, status, object_key, created_at
		FROM export_artifacts WHERE id = ?
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

func (s *SQLiteStore) FinishExportArtifact(id string, status models.ExportStatus, objectKey string) error {
	return s.execOne(`
		UPDATE export_artifacts SET status = ?, object_key = ? WHERE id = ?
	`, ErrExportNotFound, status, objectKey, id)
}

func (s *SQLiteStore) ListExportsByJob(jobID string) ([]*models.ExportArtifact, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, format, status, object_key, created_at
		FROM export_artifacts WHERE job_id = ? ORDER BY created_at ASC
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

func (s *SQLiteStore) CreateModelVersion(m *models.ModelVersion) error {
	_, err := s.db.Exec(`
		INSERT INTO model_versions (id, name, repo, revision, framework, status, is_active,
			artifact_path, downloaded_at, last_sync_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Name, m.Repo, m.Revision, m.Framework, m.Status, m.IsActive,
		m.ArtifactPath, m.DownloadedAt, m.LastSyncError, m.CreatedAt, m.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetModelVersion(id string) (*models.ModelVersion, error) {
	row := s.db.QueryRow(`
		SELECT id, name, repo, revision, framework, status, is_active,
		       artifact_path, downloaded_at, last_sync_error, created_at, updated_at
		FROM model_versions WHERE id = ?
	`, id)
	return scanModelVersion(row)
}

func (s *SQLiteStore) GetActiveModelVersion() (*models.ModelVersion, error) {
	row := s.db.QueryRow(`
		SELECT id, name, repo, revision, framework, status, is_active,
		       artifact_path, downloaded_at, last_sync_error, created_at, updated_at
		FROM model_versions WHERE is_active = 1 LIMIT 1
	`)
	m, err := scanModelVersion(row)
	if err == ErrModelNotFound {
		return nil, ErrModelNotFound
	}
	return m, err
}

func (s *SQLiteStore) ListModelVersions() ([]*models.ModelVersion, error) {
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

// ActivateModelVersion demotes all active versions and promotes the
// target inside one transaction. SQLite transactions are serializable,
// which is what the at-most-one-active invariant requires.
func (s *SQLiteStore) ActivateModelVersion(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM model_versions WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrModelNotFound
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`
		UPDATE model_versions
		SET is_active = 0,
		    status = CASE WHEN status = ? THEN ? ELSE status END,
		    updated_at = ?
		WHERE is_active = 1
	`, models.ModelStatusActive, models.ModelStatusStaging, now); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE model_versions SET is_active = 1, status = ?, updated_at = ? WHERE id = ?
	`, models.ModelStatusActive, now, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) SetModelVersionRollback(id string) error {
	return s.execOne(`
		UPDATE model_versions SET status = ?, is_active = 0, updated_at = ? WHERE id = ?
	`, ErrModelNotFound, models.ModelStatusRollback, time.Now().UTC(), id)
}

func (s *SQLiteStore) RecordModelSync(id, artifactPath, syncError string, at time.Time) error {
	if syncError != "" {
		return s.execOne(`
			UPDATE model_versions SET last_sync_error = ?, updated_at = ? WHERE id = ?
		`, ErrModelNotFound, syncError, at, id)
	}
	return s.execOne(`
		UPDATE model_versions
		SET artifact_path = ?, downloaded_at = ?, last_sync_error = '', updated_at = ?
		WHERE id = ?
	`, ErrModelNotFound, artifactPath, at, at, id)
}

// Lifecycle

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var modelVersionID sql.NullString

	err := row.Scan(&job.ID, &job.SessionID, &job.Status, &job.Progress,
		&modelVersionID, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.ModelVersionID = modelVersionID.String
	return &job, nil
}

func scanModelVersion(row rowScanner) (*models.ModelVersion, error) {
	var m models.ModelVersion
	var artifactPath, syncError sql.NullString
	var downloadedAt sql.NullTime

	err := row.Scan(&m.ID, &m.Name, &m.Repo, &m.Revision, &m.Framework,
		&m.Status, &m.IsActive, &artifactPath, &downloadedAt, &syncError,
		&m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}

	m.ArtifactPath = artifactPath.String
	m.LastSyncError = syncError.String
	if downloadedAt.Valid {
		m.DownloadedAt = &downloadedAt.Time
	}
	return &m, nil
}

// jobGuardTx resolves a zero-row CAS update inside an open transaction.
// The pool is capped at one connection, so the existence probe must go
// through tx rather than the pool or it would wait on itself.
func jobGuardTx(tx *sql.Tx, res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows != 0 {
		return nil
	}
	row := tx.QueryRow(`
		SELECT id, session_id, status, progress, model_version_id, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	if _, err := scanJob(row); err != nil {
		return err
	}
	return ErrJobNotActive
}

func (s *SQLiteStore) checkJobGuard(res sql.Result, id string) error {
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

func (s *SQLiteStore) execOne(query string, notFound error, args ...interface{}) error {
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
