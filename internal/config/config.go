// Package config loads and validates ThreatVault configuration from YAML,
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete ThreatVault configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Feeds      FeedsConfig      `yaml:"feeds" json:"feeds"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Curator    CuratorConfig    `yaml:"curator" json:"curator"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// EmbeddingsConfig configures the embedding adapter.
type EmbeddingsConfig struct {
	// Provider selects the adapter: "ollama" or "none".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Host     string `yaml:"host" json:"host"`
	// Timeout is the per-call timeout (e.g. "30s").
	Timeout string `yaml:"timeout" json:"timeout"`
	// CacheSize is the query-embedding LRU size.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ClassifierConfig configures the classification gateway.
type ClassifierConfig struct {
	// Provider selects the classifier: "gateway" or "heuristic".
	Provider string `yaml:"provider" json:"provider"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	// ItemTimeout is the per-item classification timeout.
	ItemTimeout string `yaml:"item_timeout" json:"item_timeout"`
}

// FeedsConfig configures the ingestion scheduler.
type FeedsConfig struct {
	// MaxConcurrency bounds the number of concurrent source fetch tasks.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
	// QueueCapacity bounds candidates awaiting classification per task;
	// overflow drops the oldest queued item.
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`
	// SourceTimeout is the per-source task timeout.
	SourceTimeout string `yaml:"source_timeout" json:"source_timeout"`
	// TickInterval is the scheduler loop interval in watch mode.
	TickInterval string `yaml:"tick_interval" json:"tick_interval"`
	// SeedDefaults installs the default feed catalogue on first run.
	SeedDefaults bool `yaml:"seed_defaults" json:"seed_defaults"`
	// MetricsAddr exposes prometheus metrics at /metrics in watch mode.
	// Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// SearchConfig configures similarity search defaults.
type SearchConfig struct {
	MaxResults int     `yaml:"max_results" json:"max_results"`
	MinScore   float64 `yaml:"min_score" json:"min_score"`
}

// CuratorConfig carries the data-quality policy defaults for dataset
// generation.
type CuratorConfig struct {
	UseRealDataOnly        bool     `yaml:"use_real_data_only" json:"use_real_data_only"`
	MinConfidence          float64  `yaml:"min_confidence" json:"min_confidence"`
	ExcludedSourceTokens   []string `yaml:"excluded_source_tokens" json:"excluded_source_tokens"`
	MaxExamplesPerCategory int      `yaml:"max_examples_per_category" json:"max_examples_per_category"`
	MinExamplesPerCategory int      `yaml:"min_examples_per_category" json:"min_examples_per_category"`
}

// DefaultDataDir returns ~/.threatvault, falling back to the temp dir.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".threatvault")
	}
	return filepath.Join(home, ".threatvault")
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Logging: LoggingConfig{
			Level: "info",
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Host:      "http://localhost:11434",
			Timeout:   "30s",
			CacheSize: 1000,
		},
		Classifier: ClassifierConfig{
			Provider:    "heuristic",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3",
			ItemTimeout: "15s",
		},
		Feeds: FeedsConfig{
			MaxConcurrency: 4,
			QueueCapacity:  256,
			SourceTimeout:  "2m",
			TickInterval:   "30s",
			SeedDefaults:   true,
		},
		Search: SearchConfig{
			MaxResults: 10,
			MinScore:   0.0,
		},
		Curator: CuratorConfig{
			UseRealDataOnly:        true,
			MinConfidence:          0.5,
			ExcludedSourceTokens:   []string{"synthetic", "demo", "test", "example", "generated"},
			MaxExamplesPerCategory: 100,
			MinExamplesPerCategory: 1,
		},
	}
}

// Load reads configuration from path, applies defaults for missing fields,
// then applies THREATVAULT_* environment overrides and validates.
// A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variables on top of file values.
// Env vars take precedence over the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("THREATVAULT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("THREATVAULT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("THREATVAULT_EMBEDDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("THREATVAULT_OLLAMA_HOST"); v != "" {
		cfg.Embeddings.Host = v
		cfg.Classifier.Endpoint = v
	}
	if v := os.Getenv("THREATVAULT_CLASSIFIER"); v != "" {
		cfg.Classifier.Provider = v
	}
	if v := os.Getenv("THREATVAULT_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Feeds.MaxConcurrency = n
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "none":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	switch strings.ToLower(c.Classifier.Provider) {
	case "gateway", "heuristic":
	default:
		return fmt.Errorf("unknown classifier provider %q", c.Classifier.Provider)
	}
	if c.Feeds.MaxConcurrency <= 0 {
		return fmt.Errorf("feeds.max_concurrency must be positive")
	}
	if c.Feeds.QueueCapacity <= 0 {
		return fmt.Errorf("feeds.queue_capacity must be positive")
	}
	if c.Curator.MinConfidence < 0 || c.Curator.MinConfidence > 1 {
		return fmt.Errorf("curator.min_confidence must be in [0,1]")
	}
	if c.Curator.MaxExamplesPerCategory <= 0 {
		return fmt.Errorf("curator.max_examples_per_category must be positive")
	}
	for _, field := range []struct {
		name, val string
	}{
		{"embeddings.timeout", c.Embeddings.Timeout},
		{"classifier.item_timeout", c.Classifier.ItemTimeout},
		{"feeds.source_timeout", c.Feeds.SourceTimeout},
		{"feeds.tick_interval", c.Feeds.TickInterval},
	} {
		if field.val == "" {
			continue
		}
		if _, err := time.ParseDuration(field.val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", field.name, err)
		}
	}
	return nil
}

// Duration parses a duration field, returning fallback for empty or invalid
// values. Validate has already rejected malformed values on the Load path.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
