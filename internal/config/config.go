package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// OrphanPolicy controls what happens to notes and artifacts whose
// producing turn was rolled back.
type OrphanPolicy string

const (
	// OrphanMark soft-marks orphans, keeping them queryable.
	OrphanMark OrphanPolicy = "mark"
	// OrphanDelete removes orphans outright.
	OrphanDelete OrphanPolicy = "delete"
)

// Config holds application configuration. Domain budgets (scope memory
// limits, lock leases) are supplied per-entity at creation time and
// have no defaults here; this struct covers process-level settings.
type Config struct {
	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" envconfig:"DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" envconfig:"DB_MAX_IDLE_CONNS"`

	// WebListenAddr is the listen address for the read-only web viewer.
	WebListenAddr string `json:"web_listen_addr,omitempty" envconfig:"WEB_LISTEN_ADDR"`

	// OrphanPolicy selects how rollback treats notes/artifacts whose
	// producing turn is discarded: "mark" (soft-mark, recommended) or
	// "delete".
	OrphanPolicy OrphanPolicy `json:"orphan_policy,omitempty" envconfig:"ORPHAN_POLICY"`

	// LockLeaseMS is the lock lease duration in milliseconds for the
	// coordinator started by this process. Required for server modes;
	// there is no built-in default.
	LockLeaseMS int `json:"lock_lease_ms,omitempty" envconfig:"LOCK_LEASE_MS"`

	// OpenAIAPIKey enables the OpenAI-backed summarizer/embedder when set.
	OpenAIAPIKey string `json:"openai_api_key,omitempty" envconfig:"OPENAI_API_KEY"`

	// OpenAIBaseURL overrides the OpenAI API endpoint (e.g. a local proxy).
	OpenAIBaseURL string `json:"openai_base_url,omitempty" envconfig:"OPENAI_BASE_URL"`

	// EmbeddingModel is the embedding model name used for note ranking.
	EmbeddingModel string `json:"embedding_model,omitempty" envconfig:"EMBEDDING_MODEL"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty" envconfig:"DISABLED_TOOLS"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		WebListenAddr: "127.0.0.1:7433",
		OrphanPolicy:  OrphanMark,
	}
}

// Load loads configuration from baseDir/config.json, then applies
// CALIBER_* environment variable overrides. Returns default config if
// the file doesn't exist. The baseDir parameter allows tests to use
// t.TempDir() instead of ~/.caliber.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := envconfig.Process("caliber", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.OrphanPolicy {
	case OrphanMark, OrphanDelete:
	default:
		return errors.New("orphan_policy must be one of: mark, delete")
	}
	if c.LockLeaseMS < 0 {
		return errors.New("lock_lease_ms must be non-negative")
	}
	return nil
}

// loadFile loads configuration from a specific path, applying defaults
// for missing fields.
func loadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to baseDir/config.json.
func Save(baseDir string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(baseDir, "config.json"), data, 0600)
}
