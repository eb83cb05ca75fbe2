package provider

import (
	"context"

	"github.com/signflow/signflow/pkg/models"
)

// LocalProvider is the stub transcription backend. It never contacts
// the hub: local pseudo-repos resolve to placeholder artifact
// directories and everything else falls back to the baseline
// transcript, which keeps output deterministic for tests and
// development.
type LocalProvider struct {
	resolver *Resolver
}

// NewLocalProvider creates a local provider caching artifacts under cacheDir
func NewLocalProvider(cacheDir string) *LocalProvider {
	return &LocalProvider{resolver: NewResolver(cacheDir, true, nil, 0)}
}

func (p *LocalProvider) Transcribe(ctx context.Context, req Request) ([]*models.TranscriptSegment, error) {
	artifactPath := req.ArtifactPath
	if artifactPath == "" && req.Repo != "" {
		if dir, err := p.resolver.EnsureArtifacts(ctx, req.ModelLabel, req.Repo, req.Revision); err == nil {
			artifactPath = dir
		}
	}

	if segments, ok := segmentsFromArtifacts(req.JobID, artifactPath); ok {
		return segments, nil
	}
	return fallbackSegments(req.JobID, p.label(req)), nil
}

func (p *LocalProvider) Regenerate(ctx context.Context, req Request, segments []*models.TranscriptSegment) ([]*models.TranscriptSegment, error) {
	return regenerateSegments(segments, "[local-pass]"), nil
}

func (p *LocalProvider) Health() Status {
	return Status{
		Provider: "local",
		Status:   "ok",
		Message:  "Local stub runtime. Provide artifacts with segments.json/transcript.txt for deterministic output.",
	}
}

func (p *LocalProvider) label(req Request) string {
	if req.ModelLabel != "" {
		return req.ModelLabel
	}
	if req.ModelVersionID != "" {
		return req.ModelVersionID
	}
	return "local-model"
}
