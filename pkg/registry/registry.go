package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/signflow/signflow/pkg/logging"
	"github.com/signflow/signflow/pkg/models"
	"github.com/signflow/signflow/pkg/provider"
	"github.com/signflow/signflow/pkg/store"
)

// Defaults for the seeded stub version
const (
	DefaultModelName = "stub-default"
	DefaultModelRepo = "local/stub"
)

// Service manages the model-version registry. The exactly-one-active
// invariant lives in the store's activation transaction; this layer
// adds seeding, rollout operations and artifact syncing on top.
type Service struct {
	store    store.Store
	resolver *provider.Resolver
	log      *logging.Logger
}

// NewService creates a registry service. resolver may be nil when
// artifact syncing is not needed (pure CLI listings).
func NewService(s store.Store, resolver *provider.Resolver, log *logging.Logger) *Service {
	return &Service{store: s, resolver: resolver, log: log}
}

// Register records a new staged, inactive model version
func (s *Service) Register(name, repo, revision, framework string) (*models.ModelVersion, error) {
	if name == "" || repo == "" {
		return nil, fmt.Errorf("model name and repo are required")
	}
	m := models.NewModelVersion(name, repo, revision, framework)
	if err := s.store.CreateModelVersion(m); err != nil {
		return nil, err
	}
	s.log.Info("model version registered", map[string]interface{}{
		"model_version_id": m.ID,
		"name":             m.Name,
		"repo":             m.Repo,
	})
	return m, nil
}

// EnsureDefault guarantees the registry always routes somewhere: if no
// version is active, a local stub version is seeded and activated.
func (s *Service) EnsureDefault() (*models.ModelVersion, error) {
	active, err := s.store.GetActiveModelVersion()
	if err == nil {
		return active, nil
	}
	if err != store.ErrModelNotFound {
		return nil, err
	}

	m := models.NewModelVersion(DefaultModelName, DefaultModelRepo, "main", "stub")
	if err := s.store.CreateModelVersion(m); err != nil {
		return nil, err
	}
	if err := s.store.ActivateModelVersion(m.ID); err != nil {
		return nil, err
	}

	s.log.Info("seeded default model version", map[string]interface{}{
		"model_version_id": m.ID,
	})
	return s.store.GetModelVersion(m.ID)
}

// Activate promotes the version to the single active slot
func (s *Service) Activate(id string) (*models.ModelVersion, error) {
	if err := s.store.ActivateModelVersion(id); err != nil {
		return nil, err
	}
	s.log.Info("model version activated", map[string]interface{}{"model_version_id": id})
	return s.store.GetModelVersion(id)
}

// Rollback marks the version rolled back. A rolled-back version is
// never routed to, and if it held the active slot the registry is left
// with no active version until an operator activates another.
func (s *Service) Rollback(id string) (*models.ModelVersion, error) {
	if err := s.store.SetModelVersionRollback(id); err != nil {
		return nil, err
	}
	s.log.Warn("model version rolled back", map[string]interface{}{"model_version_id": id})
	return s.store.GetModelVersion(id)
}

// Sync resolves the version's artifacts into the local cache,
// persisting either the artifact path or the failure for operators to
// inspect.
func (s *Service) Sync(ctx context.Context, id string) (*models.ModelVersion, error) {
	if s.resolver == nil {
		return nil, fmt.Errorf("no artifact resolver configured")
	}

	m, err := s.store.GetModelVersion(id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	path, resolveErr := s.resolver.EnsureArtifacts(ctx, m.Name, m.Repo, m.Revision)
	if resolveErr != nil {
		if recErr := s.store.RecordModelSync(id, "", resolveErr.Error(), now); recErr != nil {
			return nil, recErr
		}
		s.log.Error("model sync failed", map[string]interface{}{
			"model_version_id": id,
			"error":            resolveErr.Error(),
		})
		return s.store.GetModelVersion(id)
	}

	if err := s.store.RecordModelSync(id, path, "", now); err != nil {
		return nil, err
	}
	s.log.Info("model artifacts synced", map[string]interface{}{
		"model_version_id": id,
		"artifact_path":    path,
	})
	return s.store.GetModelVersion(id)
}

// Get returns one version
func (s *Service) Get(id string) (*models.ModelVersion, error) {
	return s.store.GetModelVersion(id)
}

// List returns all versions in registration order
func (s *Service) List() ([]*models.ModelVersion, error) {
	return s.store.ListModelVersions()
}
