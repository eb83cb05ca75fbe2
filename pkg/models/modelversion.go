package models

import (
	"time"

	"github.com/google/uuid"
)

// FallbackModelVersionID is returned by the router when the registry
// holds no active version. The system must always resolve to some
// identity, even with an empty registry.
const FallbackModelVersionID = "stub-v0"

// ModelVersionStatus represents the rollout state of a model version
type ModelVersionStatus string

const (
	ModelStatusStaging  ModelVersionStatus = "staging"
	ModelStatusActive   ModelVersionStatus = "active"
	ModelStatusRollback ModelVersionStatus = "rollback"
)

// ModelVersion is one versioned inference backend registered with the
// system. At most one version is active at any time; is_active implies
// status=active. A version in rollback status is never routed to,
// regardless of canary configuration.
type ModelVersion struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Repo          string             `json:"repo"`     // backend repository reference, e.g. "local/stub"
	Revision      string             `json:"revision"` // e.g. "main"
	Framework     string             `json:"framework"`
	Status        ModelVersionStatus `json:"status"`
	IsActive      bool               `json:"is_active"`
	ArtifactPath  string             `json:"artifact_path,omitempty"`
	DownloadedAt  *time.Time         `json:"downloaded_at,omitempty"`
	LastSyncError string             `json:"last_sync_error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NewModelVersion creates a staged, inactive model version.
func NewModelVersion(name, repo, revision, framework string) *ModelVersion {
	now := time.Now().UTC()
	return &ModelVersion{
		ID:        uuid.New().String(),
		Name:      name,
		Repo:      repo,
		Revision:  revision,
		Framework: framework,
		Status:    ModelStatusStaging,
		IsActive:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
