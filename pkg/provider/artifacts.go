package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/signflow/signflow/pkg/ratelimit"
	"github.com/signflow/signflow/pkg/retry"
)

// ErrOfflineWithoutArtifacts is returned when the hub is in offline
// mode and the requested model has never been cached.
var ErrOfflineWithoutArtifacts = errors.New("hub offline without cached artifacts")

// localRepoPrefix marks pseudo-repos that never touch the hub; their
// artifact directory is a deterministic local placeholder.
const localRepoPrefix = "local/"

// Resolver maps a model version onto a local artifact directory,
// downloading from the hub when allowed.
type Resolver struct {
	cacheDir string
	offline  bool
	hub      HubClient
	limiter  *ratelimit.Limiter
	retry    retry.Config
}

// defaultHubRPS caps hub downloads when no rate is configured
const defaultHubRPS = 4

// NewResolver creates an artifact resolver. hub may be nil for
// local-only setups; any non-local repo then requires a cache hit.
// rps caps hub download requests per second; non-positive values use
// the default.
func NewResolver(cacheDir string, offline bool, hub HubClient, rps float64) *Resolver {
	if cacheDir == "" {
		cacheDir = "./model-cache"
	}
	if rps <= 0 {
		rps = defaultHubRPS
	}
	return &Resolver{
		cacheDir: cacheDir,
		offline:  offline,
		hub:      hub,
		limiter:  ratelimit.NewLimiter(rps, 2),
		retry:    retry.DefaultConfig(),
	}
}

// safeFolderName keeps cache directory names filesystem-safe
func safeFolderName(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

func (r *Resolver) modelDir(modelID, repo, revision string) string {
	return filepath.Join(r.cacheDir, "models",
		safeFolderName(modelID), safeFolderName(repo), safeFolderName(revision))
}

// EnsureArtifacts resolves the artifact directory for a model version,
// creating placeholder artifacts for local pseudo-repos and downloading
// hub repos on a cache miss.
func (r *Resolver) EnsureArtifacts(ctx context.Context, modelID, repo, revision string) (string, error) {
	if revision == "" {
		revision = "main"
	}
	dir := r.modelDir(modelID, repo, revision)

	if strings.HasPrefix(repo, localRepoPrefix) {
		if err := r.ensurePlaceholder(dir, modelID, repo, revision); err != nil {
			return "", err
		}
		return dir, nil
	}

	if r.offline {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
		return "", ErrOfflineWithoutArtifacts
	}

	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}
	if r.hub == nil {
		return "", fmt.Errorf("no hub client configured for repo %s", repo)
	}

	err := retry.Do(ctx, r.retry, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		return r.hub.Snapshot(ctx, repo, revision, dir)
	})
	if err != nil {
		// leave no partial snapshot behind
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to download %s@%s: %w", repo, revision, err)
	}
	return dir, nil
}

func (r *Resolver) ensurePlaceholder(dir, modelID, repo, revision string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	marker := filepath.Join(dir, "MODEL_PLACEHOLDER.txt")
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	content := fmt.Sprintf(
		"Local placeholder model artifacts.\nmodel_id=%s\nrepo=%s\nrevision=%s\n",
		modelID, repo, revision)
	return os.WriteFile(marker, []byte(content), 0644)
}

// HubClient downloads a model snapshot into a local directory
type HubClient interface {
	Snapshot(ctx context.Context, repo, revision, dir string) error
}

// HTTPHubClient downloads snapshots over the model hub's HTTP API:
// the repo's file tree is listed, then each file fetched via the
// resolve endpoint.
type HTTPHubClient struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPHubClient creates a hub client. endpoint defaults to the
// public hub.
func NewHTTPHubClient(endpoint, token string) *HTTPHubClient {
	if endpoint == "" {
		endpoint = "https://huggingface.co"
	}
	return &HTTPHubClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

type hubTreeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

func (c *HTTPHubClient) Snapshot(ctx context.Context, repo, revision, dir string) error {
	listURL := fmt.Sprintf("%s/api/models/%s/tree/%s", c.endpoint, repo, revision)
	var entries []hubTreeEntry
	if err := c.getJSON(ctx, listURL, &entries); err != nil {
		return fmt.Errorf("failed to list %s@%s: %w", repo, revision, err)
	}

	for _, entry := range entries {
		if entry.Type != "file" {
			continue
		}
		fileURL := fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, repo, revision, entry.Path)
		dest := filepath.Join(dir, filepath.FromSlash(entry.Path))
		if err := c.download(ctx, fileURL, dest); err != nil {
			return fmt.Errorf("failed to fetch %s: %w", entry.Path, err)
		}
	}
	return nil
}

func (c *HTTPHubClient) getJSON(ctx context.Context, url string, out interface{}) error {
	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPHubClient) download(ctx context.Context, url, dest string) error {
	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}

func (c *HTTPHubClient) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("hub returned %d for %s", resp.StatusCode, url)
	}
	return resp, nil
}
