package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExportFormat enumerates the supported subtitle/text export formats
type ExportFormat string

const (
	ExportFormatSRT ExportFormat = "srt"
	ExportFormatVTT ExportFormat = "vtt"
	ExportFormatTXT ExportFormat = "txt"
)

// ParseExportFormat validates a user-supplied format string
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case ExportFormatSRT:
		return ExportFormatSRT, nil
	case ExportFormatVTT:
		return ExportFormatVTT, nil
	case ExportFormatTXT:
		return ExportFormatTXT, nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", raw)
	}
}

// ExportStatus represents the status of an export artifact
type ExportStatus string

const (
	ExportStatusQueued ExportStatus = "queued"
	ExportStatusDone   ExportStatus = "done"
	ExportStatusFailed ExportStatus = "failed"
)

// ExportArtifact records one rendered export of a job's transcript.
// It is derived data: a deterministic function of the job's segments at
// the time of rendering. The object key is an opaque reference into an
// external blob store.
type ExportArtifact struct {
	ID        string       `json:"id"`
	JobID     string       `json:"job_id"`
	Format    ExportFormat `json:"format"`
	Status    ExportStatus `json:"status"`
	ObjectKey string       `json:"object_key,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewExportArtifact creates a queued export record for a job.
func NewExportArtifact(jobID string, format ExportFormat) *ExportArtifact {
	return &ExportArtifact{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Format:    format,
		Status:    ExportStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}
