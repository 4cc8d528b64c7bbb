package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
}

func TestLoad_Defaults(t *testing.T) {
	isolateHome(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "0.0.0.0:8080", cfg.API.Addr())
	assert.Equal(t, 0.7, cfg.SimilarityThreshold)
	assert.Equal(t, 10000, cfg.MaxTextLength)
}

func TestLoad_File(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
store:
  path: /tmp/other.db
embed:
  provider: ollama
  model: all-minilm
api:
  port: 9000
  shutdown_timeout: 30s
similarity_threshold: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "ollama", cfg.Embed.Provider)
	assert.Equal(t, "all-minilm", cfg.Embed.Model)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, 30*time.Second, cfg.API.ShutdownTimeout)
	assert.Equal(t, 0.5, cfg.SimilarityThreshold)
	assert.Equal(t, 5, cfg.DefaultLimit)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("MEMORY_API_PORT", "9191")
	t.Setenv("MEMORY_STORE_PATH", "/var/lib/memory.db")
	t.Setenv("MEMORY_MAX_TEXT_LENGTH", "42")
	t.Setenv("MEMORY_TEST_KEY", "sk-123")
	t.Setenv("MEMORY_EMBED_API_KEY", "$MEMORY_TEST_KEY")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.API.Port)
	assert.Equal(t, "/var/lib/memory.db", cfg.Store.Path)
	assert.Equal(t, 42, cfg.MaxTextLength)
	assert.Equal(t, "sk-123", cfg.Embed.APIKey)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolateHome(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValue(t *testing.T) {
	isolateHome(t)
	t.Setenv("MEMORY_STORE_DRIVER", "mysql")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errSub string
	}{
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"empty sqlite path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"bad provider", func(c *Config) { c.Embed.Provider = "magic" }, "embed.provider"},
		{"bad device", func(c *Config) { c.Embed.Device = "tpu" }, "embed.device"},
		{"negative chunk size", func(c *Config) { c.Embed.ChunkSize = -1 }, "embed.chunk_size"},
		{"port zero", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"negative rate", func(c *Config) { c.API.RateLimitRPM = -1 }, "rate_limit_rpm"},
		{"zero shutdown", func(c *Config) { c.API.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"zero max length", func(c *Config) { c.MaxTextLength = 0 }, "max_text_length"},
		{"threshold too high", func(c *Config) { c.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"zero limit", func(c *Config) { c.DefaultLimit = 0 }, "default_limit"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}

	pg := DefaultConfig()
	pg.Store.Driver = "postgres"
	pg.Store.DSN = "postgres://localhost/memory"
	assert.NoError(t, pg.Validate())
}

func TestWriteAndReload(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.API.Port = 7070
	cfg.API.ShutdownTimeout = 12 * time.Second
	require.NoError(t, cfg.Write(path, false))

	err := cfg.Write(path, false)
	assert.Error(t, err, "existing file must not be overwritten without force")
	require.NoError(t, cfg.Write(path, true))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
