package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: debug
crawl:
  max_pages: 5
  timeout_seconds: 20
  concurrency: 2
  delay_ms: 100
  max_content_bytes: 1000
  user_agent: test-agent
render:
  provider: headless
  max_parallel: 3
llm:
  provider: gemini
  api_key: g-key
  fast_model: gemini-fast
  deep_model: gemini-deep
pipeline:
  concurrency: 3
  queue_depth: 16
  base_url: https://registry.example.com
scheduler:
  enabled: true
  refresh_interval_hours: 24
  sweep_interval: 1h
  initial_delay: 10s
storage:
  driver: postgres
db:
  dsn: postgres://localhost/capreg
archive:
  driver: gcs
  gcs_bucket: snapshots
push:
  tenant_keys: ["t1", "t2"]
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if cfg.Crawl.MaxPages != 5 || cfg.Crawl.UserAgent != "test-agent" {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if cfg.LLM.Provider != LLMGemini || cfg.LLM.DeepModel != "gemini-deep" {
		t.Fatalf("expected llm overrides: %+v", cfg.LLM)
	}
	if cfg.Pipeline.BaseURL != "https://registry.example.com" {
		t.Fatalf("unexpected base url %q", cfg.Pipeline.BaseURL)
	}
	if cfg.Scheduler.SweepInterval != time.Hour || cfg.Scheduler.InitialDelay != 10*time.Second {
		t.Fatalf("expected scheduler durations to parse: %+v", cfg.Scheduler)
	}
	if got := cfg.RefreshInterval(); got != 24*time.Hour {
		t.Fatalf("expected refresh interval 24h, got %v", got)
	}
	if got := cfg.CrawlTimeout(); got != 20*time.Second {
		t.Fatalf("expected crawl timeout 20s, got %v", got)
	}
	if len(cfg.Push.TenantKeys) != 2 {
		t.Fatalf("expected tenant keys, got %v", cfg.Push.TenantKeys)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawl.MaxPages != 20 || cfg.Crawl.MaxContentBytes != 50000 || cfg.Crawl.Concurrency != 4 {
		t.Fatalf("unexpected crawl defaults: %+v", cfg.Crawl)
	}
	if cfg.Scheduler.RefreshIntervalHours != 168 || cfg.Scheduler.SweepInterval != 6*time.Hour {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Pipeline.BaseURL != "http://localhost:8000" {
		t.Fatalf("unexpected base url default %q", cfg.Pipeline.BaseURL)
	}
	if cfg.Render.BatchTimeoutSeconds != 180 {
		t.Fatalf("unexpected batch timeout default %d", cfg.Render.BatchTimeoutSeconds)
	}
	if got := cfg.RenderTimeout(); got != 200*time.Second {
		t.Fatalf("expected render timeout 200s, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Crawl:    CrawlConfig{MaxPages: 10, TimeoutSeconds: 10, Concurrency: 1, MaxContentBytes: 100},
		LLM:      LLMConfig{Provider: LLMAnthropic, FastModel: "f", DeepModel: "d"},
		Pipeline: PipelineConfig{Concurrency: 1, QueueDepth: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"invalid max pages", func(c *Config) { c.Crawl.MaxPages = 0 }, "crawl.max_pages"},
		{"invalid timeout", func(c *Config) { c.Crawl.TimeoutSeconds = 0 }, "crawl.timeout_seconds"},
		{"firecrawl missing key", func(c *Config) { c.Render.Provider = RenderFirecrawl }, "render.api_key"},
		{"unknown render provider", func(c *Config) { c.Render.Provider = "magic" }, "render.provider"},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "oracle" }, "llm.provider"},
		{"missing deep model", func(c *Config) { c.LLM.DeepModel = "" }, "llm.fast_model"},
		{"invalid pipeline concurrency", func(c *Config) { c.Pipeline.Concurrency = 0 }, "pipeline.concurrency"},
		{"scheduler missing interval", func(c *Config) { c.Scheduler.Enabled = true }, "scheduler.refresh_interval_hours"},
		{"postgres missing dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "db.dsn"},
		{"gcs missing bucket", func(c *Config) { c.Archive.Driver = "gcs" }, "archive.gcs_bucket"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
