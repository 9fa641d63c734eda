package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "prism", cfg.Name)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.Equal(t, 0.50, cfg.Run.BudgetUSD)
	assert.Equal(t, 4, cfg.Run.MaxWorkers)
	assert.False(t, cfg.LLM.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Run.BudgetUSD, cfg.Run.BudgetUSD)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prism.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
lens:
  id: sports
run:
  budget_usd: 1.25
  max_workers: 8
store:
  driver: sqlite3
  path: /tmp/other.db
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sports", cfg.Lens.ID)
	assert.Equal(t, 1.25, cfg.Run.BudgetUSD)
	assert.Equal(t, 8, cfg.Run.MaxWorkers)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
	// Untouched sections keep defaults.
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lens.ID = "sports"
	cfg.Run.BudgetUSD = 2.5
	cfg.Store.Path = "/tmp/roundtrip.db"

	path := filepath.Join(t.TempDir(), "nested", "prism.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sports", loaded.Lens.ID)
	assert.Equal(t, 2.5, loaded.Run.BudgetUSD)
	assert.Equal(t, "/tmp/roundtrip.db", loaded.Store.Path)
	assert.Equal(t, cfg.Run.MaxWorkers, loaded.Run.MaxWorkers)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LENS_ID", "venues")
	t.Setenv("GEMINI_API_KEY", "k-123")
	t.Setenv("PRISM_DB", "/tmp/env.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "venues", cfg.Lens.ID)
	assert.Equal(t, "k-123", cfg.LLM.APIKey)
	assert.True(t, cfg.LLM.Enabled)
	assert.Equal(t, "/tmp/env.db", cfg.Store.Path)
}

func TestTimeoutAccessors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 2*time.Second, cfg.GetConnectorGrace())

	cfg.LLM.Timeout = "bogus"
	assert.Equal(t, 30*time.Second, cfg.GetLLMTimeout(), "bad duration falls back to default")
}

func TestValidate(t *testing.T) {
	t.Run("postgres requires dsn", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Store.Driver = "postgres"
		assert.Error(t, cfg.Validate())
		cfg.Store.DSN = "postgres://localhost/prism"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Store.Driver = "oracle"
		assert.Error(t, cfg.Validate())
	})

	t.Run("llm enabled without key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.Enabled = true
		assert.Error(t, cfg.Validate())
	})
}

func TestLensPath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("lenses", "sports.yaml"), cfg.LensPath("sports"))
}
