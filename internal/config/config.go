// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package config provides layered application configuration via Koanf v2.
//
// Configuration loading order:
//  1. Defaults: built-in sensible defaults for every optional setting
//  2. Config file: optional YAML file (config.yaml) for persistent settings
//  3. Environment variables: override any setting (highest priority)
//
// Config is immutable after Load() and safe for concurrent read access.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration.
type Config struct {
	Sources   []SourceConfig  `koanf:"sources"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Crawler   CrawlerConfig   `koanf:"crawler"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Recommend RecommendConfig `koanf:"recommend"`
	Digest    DigestConfig    `koanf:"digest"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SourceConfig declares one registered source adapter. The registry is
// built statically from this list at process start; there is no runtime
// adapter discovery.
type SourceConfig struct {
	// Name is the stable adapter identifier (arxiv, neurips, acl).
	Name string `koanf:"name" validate:"required"`

	// Kind selects the adapter capability shape: paged or feed.
	Kind string `koanf:"kind" validate:"required,oneof=paged feed"`

	// EntryPoint is the listing page or feed URL the adapter starts from.
	EntryPoint string `koanf:"entry_point" validate:"required,url"`

	// Enabled allows disabling a source without removing its config.
	Enabled bool `koanf:"enabled"`
}

// FetchConfig tunes the HTTP fetcher shared by all adapters.
type FetchConfig struct {
	// Timeout bounds a single GET including body read.
	Timeout time.Duration `koanf:"timeout"`

	// UserAgent is sent on every request.
	UserAgent string `koanf:"user_agent"`

	// RatePerHost is the sustained request rate per origin host.
	RatePerHost float64 `koanf:"rate_per_host"`

	// BurstPerHost is the token-bucket burst per origin host.
	BurstPerHost int `koanf:"burst_per_host"`

	// BreakerFailureThreshold is the consecutive-failure count that trips
	// the per-host circuit breaker.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold"`

	// BreakerCooldown is how long a tripped breaker stays open.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

// CrawlerConfig tunes the crawl orchestrator.
type CrawlerConfig struct {
	// RecrawlWindow is the minimum interval before a URL is eligible for
	// re-fetching. URLs crawled inside the window are subtracted from
	// candidate sets.
	RecrawlWindow time.Duration `koanf:"recrawl_window"`

	// BatchSize is the number of URLs dispatched per crawl batch job.
	BatchSize int `koanf:"batch_size" validate:"gt=0"`
}

// DatabaseConfig holds DuckDB settings for the catalog, ledger, and
// feedback log.
type DatabaseConfig struct {
	// Path is the DuckDB database file. Empty means in-memory (tests).
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory usage (e.g. "1GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// CacheConfig holds the Badger-backed source metadata cache settings.
type CacheConfig struct {
	// Path is the Badger directory. Empty means in-memory (tests).
	Path string `koanf:"path"`

	// CategoryMapTTL is how long a scraped category taxonomy stays fresh
	// before a refetch is attempted. Stale entries are served with a
	// warning when the refetch fails.
	CategoryMapTTL time.Duration `koanf:"category_map_ttl"`
}

// EmbeddingConfig tunes the abstract embedding trainer.
type EmbeddingConfig struct {
	// Dim is the output vector width. Fixed for the whole run; every
	// paper embedded by one run carries exactly this many dimensions.
	Dim int `koanf:"dim" validate:"gt=0"`

	// SampleSize is the number of abstracts sampled for vocabulary and
	// model training. The run fails fast when the catalog is smaller.
	SampleSize int `koanf:"sample_size" validate:"gt=0"`

	// Epochs is the number of training passes over the sampled corpus.
	Epochs int `koanf:"epochs"`

	// MinTokenCount prunes vocabulary terms rarer than this.
	MinTokenCount int `koanf:"min_token_count"`

	// Seed fixes the random source for reproducible vectors.
	Seed int64 `koanf:"seed"`
}

// RecommendConfig tunes recommender training and serving.
type RecommendConfig struct {
	// MinInteractions is the minimum feedback volume for a training run.
	// Fewer interactions is a fatal job failure, not a silent skip.
	MinInteractions int `koanf:"min_interactions"`

	// MinUsers is the minimum number of hold-out-able users required to
	// build an evaluation split.
	MinUsers int `koanf:"min_users"`

	// HoldoutFraction is the share of users moved to the test split.
	HoldoutFraction float64 `koanf:"holdout_fraction"`

	// Seed fixes the train/test split and factor initialization.
	Seed int64 `koanf:"seed"`

	// Iterations is the ALS iteration count per candidate fit.
	Iterations int `koanf:"iterations"`

	// StageAFactors, StageAAlphas, StageARegs span the stage-A grid.
	StageAFactors []int     `koanf:"stage_a_factors"`
	StageAAlphas  []float64 `koanf:"stage_a_alphas"`
	StageARegs    []float64 `koanf:"stage_a_regs"`

	// StageBFactors is the smaller factors grid for feature variants.
	StageBFactors []int `koanf:"stage_b_factors"`

	// ArtifactDir is where versioned model artifacts are stored.
	ArtifactDir string `koanf:"artifact_dir"`

	// TopK is the default recommendation list length.
	TopK int `koanf:"top_k"`
}

// DigestConfig holds digest rendering and delivery settings.
type DigestConfig struct {
	// SubjectPrefix is prepended to every digest subject line.
	SubjectPrefix string `koanf:"subject_prefix"`

	// MaxItems caps papers per digest.
	MaxItems int `koanf:"max_items"`

	// AbstractLimit truncates abstracts in the rendered digest.
	AbstractLimit int `koanf:"abstract_limit"`

	SMTP    SMTPConfig    `koanf:"smtp"`
	Webhook WebhookConfig `koanf:"webhook"`
}

// SMTPConfig holds email delivery settings.
type SMTPConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	FromName string `koanf:"from_name"`
	UseTLS   bool   `koanf:"use_tls"`
}

// WebhookConfig holds generic webhook delivery settings.
type WebhookConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// JobsConfig configures the Watermill job bus and schedules.
type JobsConfig struct {
	// RetryMaxRetries bounds handler retries before poison routing.
	RetryMaxRetries int `koanf:"retry_max_retries"`

	// RetryInitialInterval is the first retry backoff.
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`

	// PoisonTopic receives messages that exhausted retries.
	PoisonTopic string `koanf:"poison_topic"`

	// CloseTimeout bounds graceful router shutdown.
	CloseTimeout time.Duration `koanf:"close_timeout"`

	// Schedules declares the periodic triggers explicitly. No job is
	// registered implicitly at import time.
	Schedules []ScheduleConfig `koanf:"schedules" validate:"dive"`

	NATS NATSConfig `koanf:"nats"`
}

// ScheduleConfig declares one periodic trigger.
type ScheduleConfig struct {
	// Name identifies the schedule in logs and metrics.
	Name string `koanf:"name" validate:"required"`

	// Interval is the trigger period.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`

	// Job is the job topic published on each tick: crawl.cycle,
	// train.cycle, or digest.dispatch.
	Job string `koanf:"job" validate:"required,oneof=crawl.cycle train.cycle digest.dispatch"`
}

// NATSConfig enables a JetStream-backed job bus for multi-process
// deployments. Disabled means the in-process GoChannel pubsub is used.
type NATSConfig struct {
	Enabled bool `koanf:"enabled"`

	// URL is the NATS server address.
	URL string `koanf:"url"`

	// EmbeddedServer starts an in-process NATS server (single-binary
	// deployments).
	EmbeddedServer bool `koanf:"embedded_server"`

	// StoreDir is the JetStream storage directory for the embedded server.
	StoreDir string `koanf:"store_dir"`

	// DurableName is the durable consumer name; at-least-once delivery
	// resumes from the last acknowledged message across restarts.
	DurableName string `koanf:"durable_name"`

	// QueueGroup distributes work across competing workers.
	QueueGroup string `koanf:"queue_group"`
}

// ServerConfig holds the ops HTTP endpoint settings (health, metrics,
// artifact status). The user-facing API is out of scope.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gt=0,lt=65536"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs caps requests per window per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration using struct tags plus cross-field
// rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = struct{}{}
	}

	if c.Crawler.RecrawlWindow <= 0 {
		return fmt.Errorf("crawler.recrawl_window must be positive, got %s", c.Crawler.RecrawlWindow)
	}

	if c.Recommend.HoldoutFraction <= 0 || c.Recommend.HoldoutFraction >= 1 {
		return fmt.Errorf("recommend.holdout_fraction must be in (0, 1), got %f", c.Recommend.HoldoutFraction)
	}
	if len(c.Recommend.StageAFactors) == 0 || len(c.Recommend.StageAAlphas) == 0 || len(c.Recommend.StageARegs) == 0 {
		return fmt.Errorf("recommend stage-A grid must not be empty")
	}

	if c.Digest.SMTP.Enabled && c.Digest.SMTP.Host == "" {
		return fmt.Errorf("digest.smtp.host is required when SMTP delivery is enabled")
	}
	if c.Digest.Webhook.Enabled && c.Digest.Webhook.URL == "" {
		return fmt.Errorf("digest.webhook.url is required when webhook delivery is enabled")
	}

	return nil
}
