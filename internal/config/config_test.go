// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Crawler.BatchSize != 16 {
		t.Errorf("BatchSize = %d, want 16", cfg.Crawler.BatchSize)
	}
	if cfg.Crawler.RecrawlWindow != 7*24*time.Hour {
		t.Errorf("RecrawlWindow = %s, want 168h", cfg.Crawler.RecrawlWindow)
	}
	if cfg.Recommend.TopK != 10 {
		t.Errorf("TopK = %d, want 10", cfg.Recommend.TopK)
	}
	if len(cfg.Sources) != 3 {
		t.Errorf("expected 3 registered sources, got %d", len(cfg.Sources))
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAPERSCOPE_CRAWLER__BATCH_SIZE", "32")
	t.Setenv("PAPERSCOPE_DATABASE__PATH", "/tmp/papers.duckdb")
	t.Setenv("PAPERSCOPE_JOBS__NATS__ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Crawler.BatchSize != 32 {
		t.Errorf("BatchSize = %d, want 32", cfg.Crawler.BatchSize)
	}
	if cfg.Database.Path != "/tmp/papers.duckdb" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if !cfg.Jobs.NATS.Enabled {
		t.Error("NATS.Enabled should be true")
	}
}

func TestConfigFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
crawler:
  batch_size: 8
digest:
  subject_prefix: "Weekly papers"
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Crawler.BatchSize != 8 {
		t.Errorf("BatchSize = %d, want 8", cfg.Crawler.BatchSize)
	}
	if cfg.Digest.SubjectPrefix != "Weekly papers" {
		t.Errorf("SubjectPrefix = %q", cfg.Digest.SubjectPrefix)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "duplicate source name",
			mutate: func(c *Config) { c.Sources = append(c.Sources, c.Sources[0]) },
			want:   "duplicate source",
		},
		{
			name:   "non-positive recrawl window",
			mutate: func(c *Config) { c.Crawler.RecrawlWindow = 0 },
			want:   "recrawl_window",
		},
		{
			name:   "holdout fraction out of range",
			mutate: func(c *Config) { c.Recommend.HoldoutFraction = 1.0 },
			want:   "holdout_fraction",
		},
		{
			name:   "empty stage-A grid",
			mutate: func(c *Config) { c.Recommend.StageAFactors = nil },
			want:   "stage-A",
		},
		{
			name: "smtp enabled without host",
			mutate: func(c *Config) {
				c.Digest.SMTP.Enabled = true
				c.Digest.SMTP.Host = ""
			},
			want: "smtp.host",
		},
		{
			name: "webhook enabled without url",
			mutate: func(c *Config) {
				c.Digest.Webhook.Enabled = true
				c.Digest.Webhook.URL = ""
			},
			want: "webhook.url",
		},
		{
			name:   "unknown job topic in schedule",
			mutate: func(c *Config) { c.Jobs.Schedules[0].Job = "compact.cycle" },
			want:   "validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PAPERSCOPE_DATABASE__PATH", "database.path"},
		{"PAPERSCOPE_CRAWLER__BATCH_SIZE", "crawler.batch_size"},
		{"PAPERSCOPE_JOBS__NATS__ENABLED", "jobs.nats.enabled"},
		{"PAPERSCOPE_LOGGING__LEVEL", "logging.level"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
