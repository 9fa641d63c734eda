// Package config holds prism's runtime configuration: lens resolution,
// connector registry location, run limits, persistence, and logging.
// Defaults first, then an optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all prism configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Lens configuration
	Lens LensConfig `yaml:"lens"`

	// Connector registry and fixtures
	Connectors ConnectorsConfig `yaml:"connectors"`

	// Run limits and defaults
	Run RunConfig `yaml:"run"`

	// LLM summarizer
	LLM LLMConfig `yaml:"llm"`

	// Persistence
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LensConfig configures lens resolution and loading.
type LensConfig struct {
	// ID is the configured lens id, overridden by --lens and LENS_ID.
	ID string `yaml:"id"`
	// Dir is the directory of lens YAML documents, one file per lens id.
	Dir string `yaml:"dir"`
}

// ConnectorsConfig configures the connector registry.
type ConnectorsConfig struct {
	// RegistryPath is the YAML file declaring connector specs.
	RegistryPath string `yaml:"registry_path"`
	// FixtureDir holds per-connector JSON fixture payloads for offline runs.
	FixtureDir string `yaml:"fixture_dir"`
}

// RunConfig holds per-run defaults, each overridable by CLI flags.
type RunConfig struct {
	BudgetUSD      float64 `yaml:"budget_usd"`
	TargetCount    int     `yaml:"target_count"`
	MinConfidence  float64 `yaml:"min_confidence"`
	MaxWorkers     int     `yaml:"max_workers"`
	ConnectorGrace string  `yaml:"connector_grace"`
}

// LLMConfig configures the enrichment summarizer.
type LLMConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// Driver is sqlite3 or postgres.
	Driver string `yaml:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "prism",
		Version: "0.3.0",

		Lens: LensConfig{
			Dir: "lenses",
		},

		Connectors: ConnectorsConfig{
			RegistryPath: "connectors.yaml",
			FixtureDir:   "fixtures",
		},

		Run: RunConfig{
			BudgetUSD:      0.50,
			TargetCount:    25,
			MinConfidence:  0.60,
			MaxWorkers:     4,
			ConnectorGrace: "2s",
		},

		LLM: LLMConfig{
			Enabled: false,
			Model:   "gemini-2.0-flash",
			Timeout: "30s",
		},

		Store: StoreConfig{
			Driver: "sqlite3",
			Path:   "data/prism.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if id := os.Getenv("LENS_ID"); id != "" {
		c.Lens.ID = id
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Enabled = true
	}
	if path := os.Getenv("PRISM_DB"); path != "" {
		c.Store.Driver = "sqlite3"
		c.Store.Path = path
	}
	if dsn := os.Getenv("PRISM_PG_DSN"); dsn != "" {
		c.Store.Driver = "postgres"
		c.Store.DSN = dsn
	}
	if level := os.Getenv("PRISM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetLLMTimeout returns the summarizer timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetConnectorGrace returns the cancellation grace period as a duration.
func (c *Config) GetConnectorGrace() time.Duration {
	d, err := time.ParseDuration(c.Run.ConnectorGrace)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// LensPath returns the YAML document path for a lens id.
func (c *Config) LensPath(lensID string) string {
	return filepath.Join(c.Lens.Dir, lensID+".yaml")
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite3":
		if c.Store.Path == "" {
			return fmt.Errorf("store path required for sqlite3 driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn required for postgres driver (set PRISM_PG_DSN)")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (valid: sqlite3, postgres)", c.Store.Driver)
	}

	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM summarizer enabled but no API key configured (set GEMINI_API_KEY)")
	}
	if c.Run.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1")
	}
	return nil
}
