package registry

import (
	"context"
	"io"
	"testing"

	"github.com/signflow/signflow/pkg/logging"
	"github.com/signflow/signflow/pkg/models"
	"github.com/signflow/signflow/pkg/provider"
	"github.com/signflow/signflow/pkg/store"
)

func newService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	log := logging.New(logging.ERROR, false)
	log.SetOutput(io.Discard)
	resolver := provider.NewResolver(t.TempDir(), true, nil, 0)
	return NewService(s, resolver, log), s
}

func TestEnsureDefaultSeedsOnce(t *testing.T) {
	svc, _ := newService(t)

	first, err := svc.EnsureDefault()
	if err != nil {
		t.Fatalf("EnsureDefault failed: %v", err)
	}
	if first.Name != DefaultModelName || first.Repo != DefaultModelRepo {
		t.Errorf("unexpected default version: %+v", first)
	}
	if !first.IsActive || first.Status != models.ModelStatusActive {
		t.Errorf("default version must be active, got %+v", first)
	}

	second, err := svc.EnsureDefault()
	if err != nil {
		t.Fatalf("second EnsureDefault failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("EnsureDefault seeded twice: %s then %s", first.ID, second.ID)
	}

	versions, _ := svc.List()
	if len(versions) != 1 {
		t.Errorf("expected single registered version, got %d", len(versions))
	}
}

func TestEnsureDefaultRespectsExistingActive(t *testing.T) {
	svc, _ := newService(t)

	m, err := svc.Register("whisper-small", "openai/whisper-small", "main", "ctranslate2")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.Activate(m.ID); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	got, err := svc.EnsureDefault()
	if err != nil {
		t.Fatalf("EnsureDefault failed: %v", err)
	}
	if got.ID != m.ID {
		t.Errorf("expected existing active version, got %s", got.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Register("", "openai/whisper-small", "main", "ctranslate2"); err == nil {
		t.Errorf("expected error for empty name")
	}
	if _, err := svc.Register("whisper", "", "main", "ctranslate2"); err == nil {
		t.Errorf("expected error for empty repo")
	}
}

func TestActivateSwapsActiveSlot(t *testing.T) {
	svc, _ := newService(t)

	a, _ := svc.Register("model-a", "local/a", "main", "stub")
	b, _ := svc.Register("model-b", "local/b", "main", "stub")

	if _, err := svc.Activate(a.ID); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	got, err := svc.Activate(b.ID)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if !got.IsActive {
		t.Errorf("activated version not active")
	}

	demoted, _ := svc.Get(a.ID)
	if demoted.IsActive || demoted.Status != models.ModelStatusStaging {
		t.Errorf("expected previous active demoted to staging, got %+v", demoted)
	}
}

func TestRollbackClearsActiveSlot(t *testing.T) {
	svc, s := newService(t)

	m, _ := svc.Register("model-a", "local/a", "main", "stub")
	if _, err := svc.Activate(m.ID); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	got, err := svc.Rollback(m.ID)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if got.Status != models.ModelStatusRollback || got.IsActive {
		t.Errorf("unexpected rolled back version: %+v", got)
	}

	if _, err := s.GetActiveModelVersion(); err != store.ErrModelNotFound {
		t.Errorf("expected empty active slot after rollback, got %v", err)
	}
}

func TestSyncRecordsArtifactsAndFailures(t *testing.T) {
	svc, _ := newService(t)

	local, _ := svc.Register("stub-a", "local/a", "main", "stub")
	synced, err := svc.Sync(context.Background(), local.ID)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if synced.ArtifactPath == "" || synced.DownloadedAt == nil {
		t.Errorf("expected artifact path recorded, got %+v", synced)
	}
	if synced.LastSyncError != "" {
		t.Errorf("expected no sync error, got %q", synced.LastSyncError)
	}

	// offline resolver cannot fetch hub repos that were never cached
	remote, _ := svc.Register("whisper", "openai/whisper-small", "main", "ctranslate2")
	failed, err := svc.Sync(context.Background(), remote.ID)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if failed.LastSyncError == "" {
		t.Errorf("expected sync error recorded")
	}
	if failed.ArtifactPath != "" {
		t.Errorf("expected no artifact path on failure, got %q", failed.ArtifactPath)
	}
}
