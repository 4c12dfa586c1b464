// Package config loads and validates the engine's YAML configuration,
// mirroring the teacher's $include-resolving loader and per-section
// default application.
package config

import (
	"time"

	"github.com/jonhardwick-spec/specmem-sub022/internal/ratelimit"
)

// Config is the root configuration for one engine process. A process may
// serve multiple projects; ProjectPath merely seeds the default project
// when none is supplied by the caller.
type Config struct {
	ProjectPath string         `yaml:"project_path"`
	Database    DatabaseConfig `yaml:"database"`
	Embedding   EmbeddingConfig `yaml:"embedding"`
	Search      SearchConfig   `yaml:"search"`
	Content     ContentConfig  `yaml:"content"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	HotPath     HotPathConfig  `yaml:"hotpath"`
	Queue       QueueConfig    `yaml:"queue"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig configures the relational store connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// EmbeddingConfig configures the embedding socket client.
type EmbeddingConfig struct {
	Socket         string        `yaml:"socket"`
	RuntimeDir     string        `yaml:"runtime_dir"`
	TimeoutMin     time.Duration `yaml:"timeout_min"`
	TimeoutMax     time.Duration `yaml:"timeout_max"`
	TimeoutInitial time.Duration `yaml:"timeout_initial"`

	// RateLimit throttles calls to the embedding socket. Off by default;
	// operators fronting a shared or metered embedding service can enable
	// it to avoid overrunning its capacity.
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// SearchConfig configures default search behavior.
type SearchConfig struct {
	DefaultLimit     int     `yaml:"default_limit"`
	DefaultThreshold float64 `yaml:"default_threshold"`
	KeywordFallback  bool    `yaml:"keyword_fallback"`
}

// ContentConfig bounds content size for compression and ingest skipping.
type ContentConfig struct {
	MaxContentLength int   `yaml:"max_content_length"`
	MaxFileSize      int64 `yaml:"max_file_size"`
}

// ConsolidationConfig configures the background consolidation sweep.
type ConsolidationConfig struct {
	IntervalMinutes    int     `yaml:"interval_min"`
	MinMemories        int     `yaml:"min_memories"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	DryRun             bool    `yaml:"dry_run"`
}

// HotPathConfig configures heat-score decay and pruning.
type HotPathConfig struct {
	DecayFactor float64 `yaml:"decay"`
	PruneFloor  float64 `yaml:"prune_floor"`
}

// QueueConfig configures the embedding overflow queue.
type QueueConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	CleanupDays     int           `yaml:"cleanup_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ApplyDefaults fills zero-valued fields with the engine's defaults, in the
// same per-section style as the rest of this config package.
func (c *Config) ApplyDefaults() {
	applyDatabaseDefaults(&c.Database)
	applyEmbeddingDefaults(&c.Embedding)
	applySearchDefaults(&c.Search)
	applyContentDefaults(&c.Content)
	applyConsolidationDefaults(&c.Consolidation)
	applyHotPathDefaults(&c.HotPath)
	applyQueueDefaults(&c.Queue)
	applyLoggingDefaults(&c.Logging)
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = 30 * time.Second
	}
}

func applyEmbeddingDefaults(cfg *EmbeddingConfig) {
	if cfg.RuntimeDir == "" {
		cfg.RuntimeDir = ".specmem/run"
	}
	if cfg.TimeoutMin == 0 {
		cfg.TimeoutMin = 500 * time.Millisecond
	}
	if cfg.TimeoutMax == 0 {
		cfg.TimeoutMax = 30 * time.Second
	}
	if cfg.TimeoutInitial == 0 {
		cfg.TimeoutInitial = 5 * time.Second
	}
}

func applySearchDefaults(cfg *SearchConfig) {
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = 10
	}
	// DefaultThreshold of 0 is meaningful: it means "resolve adaptively".
}

func applyContentDefaults(cfg *ContentConfig) {
	if cfg.MaxContentLength == 0 {
		cfg.MaxContentLength = 4000
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 1 << 20
	}
}

func applyConsolidationDefaults(cfg *ConsolidationConfig) {
	if cfg.IntervalMinutes == 0 {
		cfg.IntervalMinutes = 60
	}
	if cfg.MinMemories == 0 {
		cfg.MinMemories = 20
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.85
	}
}

func applyHotPathDefaults(cfg *HotPathConfig) {
	if cfg.DecayFactor == 0 {
		cfg.DecayFactor = 0.95
	}
	if cfg.PruneFloor == 0 {
		cfg.PruneFloor = 0.05
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.CleanupDays == 0 {
		cfg.CleanupDays = 7
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 1 * time.Hour
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}
