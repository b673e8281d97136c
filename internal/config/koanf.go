// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/paperscope/config.yaml",
	"/etc/paperscope/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix is stripped from environment variables before mapping them to
// config paths: PAPERSCOPE_DATABASE_PATH -> database.path.
const envPrefix = "PAPERSCOPE_"

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Sources: []SourceConfig{
			{Name: "arxiv", Kind: "feed", EntryPoint: "https://rss.arxiv.org/atom/cs.LG", Enabled: true},
			{Name: "neurips", Kind: "paged", EntryPoint: "https://papers.nips.cc/paper_files/paper/2025", Enabled: false},
			{Name: "acl", Kind: "paged", EntryPoint: "https://aclanthology.org/events/acl-2025/", Enabled: false},
		},
		Fetch: FetchConfig{
			Timeout:                 20 * time.Second,
			UserAgent:               "paperscope/1.0 (+https://github.com/paperscope/paperscope)",
			RatePerHost:             2.0,
			BurstPerHost:            4,
			BreakerFailureThreshold: 5,
			BreakerCooldown:         time.Minute,
		},
		Crawler: CrawlerConfig{
			RecrawlWindow: 7 * 24 * time.Hour,
			BatchSize:     16,
		},
		Database: DatabaseConfig{
			Path:      "/data/paperscope.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Cache: CacheConfig{
			Path:           "/data/cache",
			CategoryMapTTL: 30 * 24 * time.Hour,
		},
		Embedding: EmbeddingConfig{
			Dim:           64,
			SampleSize:    200,
			Epochs:        20,
			MinTokenCount: 2,
			Seed:          42,
		},
		Recommend: RecommendConfig{
			MinInteractions: 100,
			MinUsers:        5,
			HoldoutFraction: 0.2,
			Seed:            42,
			Iterations:      15,
			StageAFactors:   []int{32, 64, 128},
			StageAAlphas:    []float64{1, 10, 40},
			StageARegs:      []float64{0.01, 0.1},
			StageBFactors:   []int{32, 64},
			ArtifactDir:     "/data/models",
			TopK:            10,
		},
		Digest: DigestConfig{
			SubjectPrefix: "Paperscope digest",
			MaxItems:      10,
			AbstractLimit: 400,
			SMTP: SMTPConfig{
				Enabled:  false,
				Port:     587,
				FromName: "Paperscope",
				UseTLS:   true,
			},
			Webhook: WebhookConfig{
				Enabled: false,
				Timeout: 10 * time.Second,
			},
		},
		Jobs: JobsConfig{
			RetryMaxRetries:      3,
			RetryInitialInterval: time.Second,
			PoisonTopic:          "jobs.poison",
			CloseTimeout:         30 * time.Second,
			Schedules: []ScheduleConfig{
				{Name: "crawl", Interval: 6 * time.Hour, Job: "crawl.cycle"},
				{Name: "train", Interval: 2 * time.Hour, Job: "train.cycle"},
			},
			NATS: NATSConfig{
				Enabled:        false,
				URL:            "nats://127.0.0.1:4222",
				EmbeddedServer: false,
				StoreDir:       "/data/nats/jetstream",
				DurableName:    "paperscope-jobs",
				QueueGroup:     "workers",
			},
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8642,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps environment variable names to koanf config paths.
// Double underscores separate nesting levels so keys containing single
// underscores survive:
//
//	PAPERSCOPE_DATABASE__PATH         -> database.path
//	PAPERSCOPE_CRAWLER__BATCH_SIZE    -> crawler.batch_size
//	PAPERSCOPE_JOBS__NATS__ENABLED    -> jobs.nats.enabled
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
