package chrome

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/logging"
)

// WebCache stores snapshots of the web application's document, keyed by
// application version, so a session can be pinned to a known version.
type WebCache interface {
	// Resolve returns the snapshot for version, or nil when there is none.
	Resolve(ctx context.Context, version string) ([]byte, error)
	// Persist stores a snapshot for version. Read-only caches ignore it.
	Persist(version string, html []byte) error
}

// NewWebCache builds the cache selected by cfg.
func NewWebCache(cfg config.WebVersionCacheConfig, logger *logging.Logger) (WebCache, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	switch cfg.Type {
	case "", config.CacheNone:
		return noCache{}, nil
	case config.CacheLocal:
		if cfg.Path == "" {
			return nil, fmt.Errorf("local web version cache needs a path")
		}
		return &LocalCache{dir: cfg.Path, logger: logger}, nil
	case config.CacheRemote:
		if !strings.Contains(cfg.RemotePath, "{version}") {
			return nil, fmt.Errorf("remote web version cache path must contain {version}")
		}
		hc := retryablehttp.NewClient()
		hc.RetryMax = 2
		hc.Logger = logger
		return &RemoteCache{template: cfg.RemotePath, http: hc}, nil
	default:
		return nil, fmt.Errorf("unknown web version cache type %q", cfg.Type)
	}
}

type noCache struct{}

func (noCache) Resolve(context.Context, string) ([]byte, error) { return nil, nil }
func (noCache) Persist(string, []byte) error                    { return nil }

var versionPattern = regexp.MustCompile(`^[0-9A-Za-z._-]+$`)

// LocalCache keeps <dir>/<version>.html files.
type LocalCache struct {
	dir    string
	logger *logging.Logger
}

func (c *LocalCache) path(version string) (string, error) {
	if !versionPattern.MatchString(version) {
		return "", fmt.Errorf("invalid web version %q", version)
	}
	return filepath.Join(c.dir, version+".html"), nil
}

// Resolve reads the snapshot of version.
func (c *LocalCache) Resolve(_ context.Context, version string) ([]byte, error) {
	p, err := c.path(version)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read web version cache: %w", err)
	}
	return data, nil
}

// Persist writes the snapshot of version unless it already exists.
func (c *LocalCache) Persist(version string, html []byte) error {
	p, err := c.path(version)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create web version cache: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, html, 0o644); err != nil {
		return fmt.Errorf("write web version cache: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("write web version cache: %w", err)
	}
	c.logger.Info("web version cached", "version", version, "path", p)
	return nil
}

// RemoteCache fetches snapshots from a URL template containing {version}.
type RemoteCache struct {
	template string
	http     *retryablehttp.Client
}

// URL returns the snapshot location of version.
func (c *RemoteCache) URL(version string) string {
	return strings.ReplaceAll(c.template, "{version}", version)
}

// Resolve downloads the snapshot of version. A 404 means not cached.
func (c *RemoteCache) Resolve(ctx context.Context, version string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.URL(version), nil)
	if err != nil {
		return nil, fmt.Errorf("build web version request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch web version: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch web version: %s returned %d", c.URL(version), resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read web version: %w", err)
	}
	return data, nil
}

// Persist is a no-op: remote caches are read-only.
func (c *RemoteCache) Persist(string, []byte) error { return nil }
