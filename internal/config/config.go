// Package config provides unified configuration loading for the content intelligence engine.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RuntimeMode centralizes the test/mock posture of the process. Per design,
// environment lookups for test affordances happen only here, once, at load
// time — never scattered through the component packages.
type RuntimeMode struct {
	TestMode           bool
	SkipModelLoad      bool
	QdrantDisabled     bool
	AllowEmptyCollection bool
	DeltaThreshold     int
}

// Mock reports whether the embedding service and vector index should run
// in deterministic mock mode.
func (m RuntimeMode) Mock() bool {
	return m.TestMode || m.SkipModelLoad
}

// Config holds all configuration for the engine.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Validator ValidatorConfig `yaml:"validator"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Cache     CacheConfig     `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
	Mode      RuntimeMode     `yaml:"-"`
}

// DatabaseConfig holds C1 storage settings.
type DatabaseConfig struct {
	Driver        string `yaml:"driver"` // sqlite or postgres
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"` // postgres connection string
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	CacheMB       int    `yaml:"cache_mb"`
	Journal       string `yaml:"journal"`
	MigrationDir  string `yaml:"migration_dir"`
}

// EmbeddingConfig holds C4 settings.
type EmbeddingConfig struct {
	ModelName string `yaml:"model_name"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	Device    string `yaml:"device"` // auto, cpu, gpu
}

// VectorConfig holds C5 settings.
type VectorConfig struct {
	URL            string  `yaml:"url"`
	CollectionName string  `yaml:"collection_name"`
	TimeoutS       float64 `yaml:"timeout_s"`
	APIKey         string  `yaml:"api_key"`
	BatchSize      int     `yaml:"batch_size"`
}

// ValidatorConfig holds C2 settings.
type ValidatorConfig struct {
	TestDataPatterns []string `yaml:"test_data_patterns"`
	MinBodyChars     int      `yaml:"min_body_chars"`
	MinYear          int      `yaml:"min_year"`
	compiled         []*regexp.Regexp
}

// CompiledPatterns lazily compiles and caches the test-data blocklist.
func (v *ValidatorConfig) CompiledPatterns() ([]*regexp.Regexp, error) {
	if v.compiled != nil {
		return v.compiled, nil
	}
	out := make([]*regexp.Regexp, 0, len(v.TestDataPatterns))
	for _, p := range v.TestDataPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile test data pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	v.compiled = out
	return out, nil
}

// HybridConfig holds RRF weights.
type HybridConfig struct {
	K          int     `yaml:"k"`
	WSemantic  float64 `yaml:"w_semantic"`
	WKeyword   float64 `yaml:"w_keyword"`
}

// LiteralConfig holds literal-search defaults.
type LiteralConfig struct {
	DefaultExcludeSourceTypes []string `yaml:"default_exclude_source_types"`
}

// RetrievalConfig holds C6 settings.
type RetrievalConfig struct {
	Hybrid  HybridConfig  `yaml:"hybrid"`
	Literal LiteralConfig `yaml:"literal"`
}

// CacheConfig holds the ambient response-cache settings.
type CacheConfig struct {
	Driver string        `yaml:"driver"` // memory or redis
	Addr   string        `yaml:"addr"`
	TTL    time.Duration `yaml:"ttl"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file, a .env file alongside it, and
// environment variable overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true) // reject unknown keys
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:        "sqlite",
			Path:          "./data/content.db",
			BusyTimeoutMS: 5000,
			CacheMB:       64,
			Journal:       "WAL",
			MigrationDir:  "./migrations",
		},
		Embedding: EmbeddingConfig{
			ModelName: "text-embedding-3-small",
			Dimension: 768,
			BatchSize: 75,
			Device:    "auto",
		},
		Vector: VectorConfig{
			URL:            "localhost:6334",
			CollectionName: "content",
			TimeoutS:       0.5,
			BatchSize:      100,
		},
		Validator: ValidatorConfig{
			TestDataPatterns: []string{"TEST FIXTURE", "^DO NOT INGEST"},
			MinBodyChars:     5,
			MinYear:          2014,
		},
		Retrieval: RetrievalConfig{
			Hybrid: HybridConfig{
				K:         60,
				WSemantic: 0.7,
				WKeyword:  0.3,
			},
			Literal: LiteralConfig{
				DefaultExcludeSourceTypes: []string{"email_message", "email_summary"},
			},
		},
		Cache: CacheConfig{
			Driver: "memory",
			Addr:   "localhost:6379",
			TTL:    5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for sqlite driver")
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for postgres driver")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	switch c.Embedding.Device {
	case "auto", "cpu", "gpu":
	default:
		return fmt.Errorf("invalid embedding.device: %s", c.Embedding.Device)
	}
	if c.Vector.TimeoutS <= 0 {
		return fmt.Errorf("vector.timeout_s must be positive")
	}
	if c.Validator.MinBodyChars < 0 {
		return fmt.Errorf("validator.min_body_chars must be non-negative")
	}
	if c.Retrieval.Hybrid.K <= 0 {
		return fmt.Errorf("retrieval.hybrid.k must be positive")
	}
	sum := c.Retrieval.Hybrid.WSemantic + c.Retrieval.Hybrid.WKeyword
	if sum <= 0 {
		return fmt.Errorf("retrieval.hybrid weights must sum to a positive value")
	}
	// Normalize weights to sum to 1, per §4.6.4.
	c.Retrieval.Hybrid.WSemantic /= sum
	c.Retrieval.Hybrid.WKeyword /= sum
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}
	return nil
}

// applyEnvOverrides applies the named environment toggles from §6, plus a
// handful of conventional deployment overrides. This is the only place in
// the codebase permitted to call os.Getenv for engine behavior.
func applyEnvOverrides(cfg *Config) {
	cfg.Mode = RuntimeMode{
		TestMode:             envBool("TEST_MODE"),
		SkipModelLoad:        envBool("SKIP_MODEL_LOAD"),
		QdrantDisabled:       envBool("QDRANT_DISABLED"),
		AllowEmptyCollection: envBool("ALLOW_EMPTY_COLLECTION"),
		DeltaThreshold:       envInt("DELTA_THRESHOLD", 0),
	}

	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.ModelName = v
	}
	if v := os.Getenv("EMBEDDING_DEVICE"); v != "" {
		cfg.Embedding.Device = v
	}
	if v := os.Getenv("VECTOR_URL"); v != "" {
		cfg.Vector.URL = v
	}
	if v := os.Getenv("VECTOR_COLLECTION"); v != "" {
		cfg.Vector.CollectionName = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Addr = strings.TrimPrefix(v, "redis://")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
