package export

import (
	"fmt"

	"github.com/signflow/signflow/pkg/blob"
	"github.com/signflow/signflow/pkg/models"
	"github.com/signflow/signflow/pkg/store"
)

// Sink counts finished exports per format; the metrics package
// provides the production implementation.
type Sink interface {
	ObserveExport(format string)
}

// Service renders transcripts into export artifacts and persists both
// the document and its bookkeeping row.
type Service struct {
	store store.Store
	blobs blob.ObjectStore
	sink  Sink
}

// NewService creates an export service. sink may be nil when no
// metrics are collected.
func NewService(s store.Store, blobs blob.ObjectStore, sink Sink) *Service {
	return &Service{store: s, blobs: blobs, sink: sink}
}

// Export renders the transcript of a completed job in the given format,
// writes the document to blob storage and records an ExportArtifact.
// Only jobs in done status can be exported; an empty transcript still
// produces a valid (empty) document.
func (s *Service) Export(jobID string, format models.ExportFormat) (*models.ExportArtifact, error) {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusDone {
		return nil, fmt.Errorf("job %s is %s, only done jobs can be exported", jobID, job.Status)
	}

	segments, err := s.store.GetSegments(jobID)
	if err != nil {
		return nil, err
	}

	artifact := models.NewExportArtifact(jobID, format)
	if err := s.store.CreateExportArtifact(artifact); err != nil {
		return nil, err
	}

	document, err := Render(format, segments)
	if err != nil {
		s.finish(artifact, models.ExportStatusFailed, "")
		return nil, err
	}

	key := fmt.Sprintf("exports/%s/%s.%s", jobID, artifact.ID, format)
	if err := s.blobs.Put(key, []byte(document)); err != nil {
		s.finish(artifact, models.ExportStatusFailed, "")
		return nil, fmt.Errorf("failed to store export: %w", err)
	}

	if err := s.store.FinishExportArtifact(artifact.ID, models.ExportStatusDone, key); err != nil {
		return nil, err
	}
	artifact.Status = models.ExportStatusDone
	artifact.ObjectKey = key
	if s.sink != nil {
		s.sink.ObserveExport(string(format))
	}
	return artifact, nil
}

func (s *Service) finish(artifact *models.ExportArtifact, status models.ExportStatus, key string) {
	// best effort; the original error is what the caller sees
	_ = s.store.FinishExportArtifact(artifact.ID, status, key)
}
