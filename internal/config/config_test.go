package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, "fs", cfg.Cache.Backend)
	assert.Equal(t, "./cached", cfg.Cache.Dir)
	assert.Equal(t, "./images", cfg.Images.Dir)
	assert.Equal(t, []string{"png", "jpg", "jpeg", "gif"}, cfg.Images.AllowedExtensions)
	assert.Equal(t, time.Minute, cfg.API.RateLimitWindow)
	assert.GreaterOrEqual(t, cfg.Worker.MaxActiveJobs, 1)
	assert.Equal(t, "localhost:6379", cfg.Queue.RedisClientOpt().Addr)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PIXELCACHE_API_ADDR", ":9999")
	t.Setenv("PIXELCACHE_CACHE_BACKEND", "SQLite")
	t.Setenv("PIXELCACHE_ALLOWED_EXTENSIONS", " .PNG, webp ,")
	t.Setenv("PIXELCACHE_CACHE_REDIS_TTL", "90s")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, []string{"png", "webp"}, cfg.Images.AllowedExtensions)
	assert.Equal(t, 90*time.Second, cfg.Cache.RedisTTL)
	assert.Equal(t, 3, cfg.Queue.RedisDB)
}

func TestLoadConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("pixelcache.toml", []byte(`
[cache]
backend = "redis"
memory_entries = 12

[log]
level = "debug"
`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 12, cfg.Cache.MemoryEntries)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(".env", []byte("PIXELCACHE_CACHE_DIR=/var/cache/pixelcache\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PIXELCACHE_CACHE_DIR") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/pixelcache", cfg.Cache.Dir)
}

func TestLoadRejectsMalformedConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("pixelcache.toml", []byte("[cache\nbackend = "), 0o644))

	_, err := Load()
	require.Error(t, err)
}
