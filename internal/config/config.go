// Package config provides unified configuration loading for the generation
// core. Supports YAML files, environment variables, and programmatic
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the generation core.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	TaskStore     TaskStoreConfig     `yaml:"task_store"`
	Registry      RegistryConfig      `yaml:"registry"`
	Vector        VectorConfig        `yaml:"vector"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	LLM           LLMConfig           `yaml:"llm"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Coordinator   CoordinatorConfig   `yaml:"coordinator"`
	Queues        QueueConfig         `yaml:"queues"`
	PhaseGate     PhaseGateConfig     `yaml:"phase_gate"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// TaskStoreConfig holds durable task record settings.
type TaskStoreConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// RegistryConfig holds document registry settings.
type RegistryConfig struct {
	Dir string `yaml:"dir"` // per-program NDJSON files live here
}

// VectorConfig holds vector store settings.
type VectorConfig struct {
	IndexPath string `yaml:"index_path"`
	Dimension int    `yaml:"dimension"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string      `yaml:"driver"` // memory or redis
	MaxEntries int         `yaml:"max_entries"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LLMConfig holds language model settings shared by agents.
type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Version     string        `yaml:"version"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RetrievalConfig holds retriever settings.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"`
	GuidanceChars  int     `yaml:"guidance_chars"`
	CacheResults   bool    `yaml:"cache_results"`
}

// IngestionConfig holds knowledge-upload chunking settings.
type IngestionConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// CoordinatorConfig holds generation coordinator settings.
type CoordinatorConfig struct {
	AncestorContentCap int  `yaml:"ancestor_content_cap"`
	ParallelChains     bool `yaml:"parallel_chains"`
	ExtractionMinChars int  `yaml:"extraction_min_chars"`
}

// QueueConfig holds background worker queue settings.
type QueueConfig struct {
	Workers          int            `yaml:"workers"`
	HighWeight       int            `yaml:"high_weight"`
	BatchWeight      int            `yaml:"batch_weight"`
	QualityWeight    int            `yaml:"quality_weight"`
	TaskDeadlines    DeadlineConfig `yaml:"task_deadlines"`
	BatchConcurrency int            `yaml:"batch_concurrency"`
}

// DeadlineConfig holds per-queue task deadlines.
type DeadlineConfig struct {
	High    time.Duration `yaml:"high"`
	Batch   time.Duration `yaml:"batch"`
	Quality time.Duration `yaml:"quality"`
}

// PhaseGateConfig holds phase-gate settings.
type PhaseGateConfig struct {
	RequiredDocsPath  string `yaml:"required_docs_path"`
	BlockOnUnapproved bool   `yaml:"block_on_unapproved"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for
// development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		TaskStore: TaskStoreConfig{
			Driver: "sqlite",
			DSN:    "/tmp/generation-core.db",
		},
		Registry: RegistryConfig{
			Dir: "/tmp/generation-core/registry",
		},
		Vector: VectorConfig{
			IndexPath: "/tmp/generation-core/vectors.json",
			Dimension: 768,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "gc:",
			},
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 768,
			Timeout:   30 * time.Second,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o",
			Temperature: 0.2,
			Version:     "1",
			Timeout:     120 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:           8,
			ScoreThreshold: 0,
			GuidanceChars:  300,
			CacheResults:   true,
		},
		Ingestion: IngestionConfig{
			ChunkSize:    512,
			ChunkOverlap: 64,
		},
		Coordinator: CoordinatorConfig{
			AncestorContentCap: 2000,
			ParallelChains:     false,
			ExtractionMinChars: 200,
		},
		Queues: QueueConfig{
			Workers:          2,
			HighWeight:       9,
			BatchWeight:      3,
			QualityWeight:    5,
			BatchConcurrency: 2,
			TaskDeadlines: DeadlineConfig{
				High:    5 * time.Minute,
				Batch:   30 * time.Minute,
				Quality: 10 * time.Minute,
			},
		},
		PhaseGate: PhaseGateConfig{
			BlockOnUnapproved: false,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.TaskStore.Driver != "sqlite" && c.TaskStore.Driver != "postgres" {
		return fmt.Errorf("invalid task store driver: %s", c.TaskStore.Driver)
	}
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 50 {
		return fmt.Errorf("retrieval top_k must be between 1 and 50")
	}
	if c.Coordinator.AncestorContentCap < 100 {
		return fmt.Errorf("ancestor_content_cap must be at least 100")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.TaskStore.Driver = "sqlite"
			cfg.TaskStore.DSN = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.TaskStore.Driver = "postgres"
			cfg.TaskStore.DSN = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}
	if v := os.Getenv("REGISTRY_DIR"); v != "" {
		cfg.Registry.Dir = v
	}
	if v := os.Getenv("VECTOR_INDEX_PATH"); v != "" {
		cfg.Vector.IndexPath = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("REQUIRED_DOCS_PATH"); v != "" {
		cfg.PhaseGate.RequiredDocsPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
