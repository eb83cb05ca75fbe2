package routing

import (
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/signflow/signflow/pkg/models"
	"github.com/signflow/signflow/pkg/store"
)

// Source records which routing rule produced a decision
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceCanary   Source = "canary"
	SourceActive   Source = "active"
	SourceFallback Source = "fallback"
)

// Decision is the outcome of resolving a model version for one job
type Decision struct {
	ModelVersionID string
	Source         Source
}

// CanaryConfig steers a fixed share of sessions to a candidate version.
// Percent is clamped to [0, 100]; 0 disables the canary entirely.
type CanaryConfig struct {
	ModelVersionID string
	Percent        int
}

// Router resolves the model version for a job. Resolution order:
// an explicitly requested version wins, then the canary if the session
// falls inside the rollout share, then the registry's active version,
// then the stub fallback.
type Router struct {
	store  store.Store
	canary CanaryConfig
}

// NewRouter creates a router over the given registry store
func NewRouter(s store.Store, canary CanaryConfig) *Router {
	if canary.Percent < 0 {
		canary.Percent = 0
	}
	if canary.Percent > 100 {
		canary.Percent = 100
	}
	return &Router{store: s, canary: canary}
}

// CanaryBucket maps a session id onto a stable bucket in [0, 100).
// The first 8 hex characters of the session id's SHA-256 digest are
// read as an integer and reduced mod 100, so the same session always
// lands in the same bucket across workers and restarts. The reduction
// is slightly biased toward low buckets; the skew is far below what
// canary percentages care about.
func CanaryBucket(sessionID string) int {
	sum := sha256.Sum256([]byte(sessionID))
	prefix := fmt.Sprintf("%x", sum)[:8]
	n, _ := strconv.ParseUint(prefix, 16, 64)
	return int(n % 100)
}

// Resolve picks the model version for a job belonging to sessionID.
// requestedID, when non-empty, pins the job to that exact version and
// fails with store.ErrModelNotFound if it is not registered. The stub
// fallback id has no registry row; a job redelivered with it bound
// re-derives its route instead of being treated as pinned.
func (r *Router) Resolve(sessionID, requestedID string) (Decision, error) {
	if requestedID != "" && requestedID != models.FallbackModelVersionID {
		if _, err := r.store.GetModelVersion(requestedID); err != nil {
			return Decision{}, err
		}
		return Decision{ModelVersionID: requestedID, Source: SourceExplicit}, nil
	}

	active, err := r.store.GetActiveModelVersion()
	if err == store.ErrModelNotFound {
		return Decision{ModelVersionID: models.FallbackModelVersionID, Source: SourceFallback}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	if d, ok := r.canaryDecision(sessionID, active); ok {
		return d, nil
	}
	return Decision{ModelVersionID: active.ID, Source: SourceActive}, nil
}

// canaryDecision applies the canary rules: the candidate must be
// configured, registered, distinct from the active version, not rolled
// back, and the session's bucket must fall inside the rollout share.
func (r *Router) canaryDecision(sessionID string, active *models.ModelVersion) (Decision, bool) {
	if r.canary.Percent <= 0 || r.canary.ModelVersionID == "" {
		return Decision{}, false
	}
	if r.canary.ModelVersionID == active.ID {
		return Decision{}, false
	}

	candidate, err := r.store.GetModelVersion(r.canary.ModelVersionID)
	if err != nil {
		return Decision{}, false
	}
	if candidate.Status == models.ModelStatusRollback {
		return Decision{}, false
	}

	if CanaryBucket(sessionID) >= r.canary.Percent {
		return Decision{}, false
	}
	return Decision{ModelVersionID: candidate.ID, Source: SourceCanary}, true
}
