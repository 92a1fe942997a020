package pagepress

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "Pagepress", cfg.Site.Name)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "data/pagepress.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 15*time.Minute, cfg.Storage.UploadTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 250, cfg.Publish.MaxPages)
	assert.Error(t, cfg.validateServe())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagepress.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
site:
  domain: example.com
  base_url: https://cms.example.com/
admin:
  password: from-file
  session_secret: s3cret
publish:
  max_pages: 40
  auto_interval: 10m
`), 0o644))
	t.Setenv("PAGEPRESS_ADMIN_PASSWORD", "from-env")
	t.Setenv("PAGEPRESS_CACHE_TTL", "30s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "example.com", cfg.Site.Domain)
	assert.Equal(t, "https://cms.example.com", cfg.Site.BaseURL)
	assert.Equal(t, "from-env", cfg.Admin.Password)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 40, cfg.Publish.MaxPages)
	assert.Equal(t, 10*time.Minute, cfg.Publish.AutoInterval)
	assert.NoError(t, cfg.validateServe())
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("PAGEPRESS_MAX_PAGES", "many")
	t.Setenv("PAGEPRESS_CACHE_TTL", "soon")
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAGEPRESS_MAX_PAGES")
	assert.Contains(t, err.Error(), "PAGEPRESS_CACHE_TTL")
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryConfig{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, MaxRetries: 3}.Policy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 40*time.Millisecond, p.Delay(10))
}
