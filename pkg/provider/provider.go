package provider

import (
	"context"
	"fmt"

	"github.com/signflow/signflow/pkg/models"
)

// Request carries everything a provider needs to transcribe one job
type Request struct {
	JobID          string
	SessionID      string
	MediaObjectKey string

	// resolved model identity
	ModelVersionID string
	ModelLabel     string
	Repo           string
	Revision       string
	ArtifactPath   string
}

// Status describes a provider's readiness for the health endpoint
type Status struct {
	Provider    string `json:"provider"`
	Status      string `json:"status"`
	OfflineMode bool   `json:"offline_mode"`
	Message     string `json:"message"`
}

// Provider is a transcription backend. Output is deterministic for a
// given request and artifact set, so redelivered jobs produce the same
// transcript.
type Provider interface {
	// Transcribe produces the ordered transcript for the job's media.
	Transcribe(ctx context.Context, req Request) ([]*models.TranscriptSegment, error)

	// Regenerate produces a fresh pass over an existing transcript,
	// bumping each segment's version.
	Regenerate(ctx context.Context, req Request, segments []*models.TranscriptSegment) ([]*models.TranscriptSegment, error)

	// Health reports readiness without side effects.
	Health() Status
}

// Config selects and parameterizes a provider backend
type Config struct {
	Type     string  // "local" or "hub"
	CacheDir string  // artifact cache root
	Offline  bool    // hub: never download, serve from cache only
	Endpoint string  // hub: base URL override
	Token    string  // hub: access token
	RPS      float64 // hub: download rate limit
}

// New creates a provider from config
func New(config Config) (Provider, error) {
	switch config.Type {
	case "local", "":
		return NewLocalProvider(config.CacheDir), nil
	case "hub":
		return NewHubProvider(config), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}
