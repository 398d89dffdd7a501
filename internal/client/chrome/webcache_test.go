package chrome

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/wamux/internal/config"
)

func TestNewWebCache(t *testing.T) {
	c, err := NewWebCache(config.WebVersionCacheConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, noCache{}, c)

	_, err = NewWebCache(config.WebVersionCacheConfig{Type: config.CacheLocal}, nil)
	assert.Error(t, err)

	_, err = NewWebCache(config.WebVersionCacheConfig{Type: config.CacheRemote, RemotePath: "https://example.com/latest.html"}, nil)
	assert.Error(t, err)

	_, err = NewWebCache(config.WebVersionCacheConfig{Type: "ftp"}, nil)
	assert.Error(t, err)
}

func TestLocalCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewWebCache(config.WebVersionCacheConfig{Type: config.CacheLocal, Path: dir}, nil)
	require.NoError(t, err)

	got, err := c.Resolve(context.Background(), "2.3000.1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Persist("2.3000.1", []byte("<html>v1</html>")))
	require.NoError(t, c.Persist("2.3000.1", []byte("<html>v2</html>")), "existing snapshot is kept")

	got, err = c.Resolve(context.Background(), "2.3000.1")
	require.NoError(t, err)
	assert.Equal(t, "<html>v1</html>", string(got))

	_, err = os.Stat(filepath.Join(dir, "2.3000.1.html.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalCacheRejectsBadVersion(t *testing.T) {
	c := &LocalCache{dir: t.TempDir()}
	_, err := c.Resolve(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, c.Persist("a/b", nil))
}

func TestRemoteCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/versions/2.3000.1.html":
			_, _ = w.Write([]byte("<html>remote</html>"))
		case "/versions/broken.html":
			w.WriteHeader(http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewWebCache(config.WebVersionCacheConfig{
		Type:       config.CacheRemote,
		RemotePath: srv.URL + "/versions/{version}.html",
	}, nil)
	require.NoError(t, err)

	got, err := c.Resolve(context.Background(), "2.3000.1")
	require.NoError(t, err)
	assert.Equal(t, "<html>remote</html>", string(got))

	got, err = c.Resolve(context.Background(), "9.9")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = c.Resolve(context.Background(), "broken")
	assert.ErrorContains(t, err, "403")

	assert.NoError(t, c.Persist("2.3000.1", []byte("x")))
}
