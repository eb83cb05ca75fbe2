package provider

import (
	"context"

	"github.com/signflow/signflow/pkg/models"
)

// HubProvider transcribes with model artifacts pulled from the model
// hub. In offline mode it serves from the artifact cache only.
type HubProvider struct {
	resolver *Resolver
	offline  bool
}

// NewHubProvider creates a hub-backed provider
func NewHubProvider(config Config) *HubProvider {
	var hub HubClient
	if !config.Offline {
		hub = NewHTTPHubClient(config.Endpoint, config.Token)
	}
	return &HubProvider{
		resolver: NewResolver(config.CacheDir, config.Offline, hub, config.RPS),
		offline:  config.Offline,
	}
}

func (p *HubProvider) Transcribe(ctx context.Context, req Request) ([]*models.TranscriptSegment, error) {
	artifactPath := req.ArtifactPath
	if artifactPath == "" && req.Repo != "" {
		dir, err := p.resolver.EnsureArtifacts(ctx, p.label(req), req.Repo, req.Revision)
		if err != nil {
			return nil, err
		}
		artifactPath = dir
	}

	if segments, ok := segmentsFromArtifacts(req.JobID, artifactPath); ok {
		return segments, nil
	}
	return fallbackSegments(req.JobID, p.label(req)), nil
}

func (p *HubProvider) Regenerate(ctx context.Context, req Request, segments []*models.TranscriptSegment) ([]*models.TranscriptSegment, error) {
	return regenerateSegments(segments, "[hub-pass]"), nil
}

func (p *HubProvider) Health() Status {
	status := "ok"
	if p.offline {
		status = "degraded"
	}
	return Status{
		Provider:    "hub",
		Status:      status,
		OfflineMode: p.offline,
		Message:     "Hub runtime enabled. Provide artifacts with segments.json/transcript.txt for deterministic output.",
	}
}

func (p *HubProvider) label(req Request) string {
	if req.ModelLabel != "" {
		return req.ModelLabel
	}
	if req.ModelVersionID != "" {
		return req.ModelVersionID
	}
	return "hub-model"
}
