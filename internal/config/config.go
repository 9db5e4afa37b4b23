// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/telemetry"
)

// Render providers.
const (
	RenderNone      = "none"
	RenderFirecrawl = "firecrawl"
	RenderHeadless  = "headless"
)

// LLM providers.
const (
	LLMAnthropic = "anthropic"
	LLMOpenAI    = "openai"
	LLMOllama    = "ollama"
	LLMGemini    = "gemini"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Logging   logging.Config   `mapstructure:"logging"`
	Tracing   telemetry.Config `mapstructure:"tracing"`
	Crawl     CrawlConfig      `mapstructure:"crawl"`
	Render    RenderConfig     `mapstructure:"render"`
	LLM       LLMConfig        `mapstructure:"llm"`
	Pipeline  PipelineConfig   `mapstructure:"pipeline"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Storage   StorageConfig    `mapstructure:"storage"`
	DB        DBConfig         `mapstructure:"db"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Push      PushConfig       `mapstructure:"push"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig governs the direct fetch strategy and crawl budget.
type CrawlConfig struct {
	MaxPages        int    `mapstructure:"max_pages"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	Concurrency     int    `mapstructure:"concurrency"`
	DelayMs         int    `mapstructure:"delay_ms"`
	MaxContentBytes int    `mapstructure:"max_content_bytes"`
	UserAgent       string `mapstructure:"user_agent"`
}

// RenderConfig selects and configures the remote rendering service.
type RenderConfig struct {
	Provider            string `mapstructure:"provider"`
	APIKey              string `mapstructure:"api_key"`
	BaseURL             string `mapstructure:"base_url"`
	MaxParallel         int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds   int    `mapstructure:"nav_timeout_seconds"`
	BatchTimeoutSeconds int    `mapstructure:"batch_timeout_seconds"`
}

// LLMConfig selects the text-generation provider and model variants.
type LLMConfig struct {
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	FastModel string `mapstructure:"fast_model"`
	DeepModel string `mapstructure:"deep_model"`
}

// PipelineConfig controls the ingest worker pool.
type PipelineConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	QueueDepth  int    `mapstructure:"queue_depth"`
	BaseURL     string `mapstructure:"base_url"`
}

// SchedulerConfig controls the staleness sweep.
type SchedulerConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	RefreshIntervalHours int           `mapstructure:"refresh_interval_hours"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	InitialDelay         time.Duration `mapstructure:"initial_delay"`
}

// StorageConfig selects the registry/job store.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ArchiveConfig selects where registry snapshots are written.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for registry change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PushConfig controls the snippet push endpoint.
type PushConfig struct {
	TenantKeys []string `mapstructure:"tenant_keys"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAPREG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "capreg")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("crawl.max_pages", 20)
	v.SetDefault("crawl.timeout_seconds", 10)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.delay_ms", 300)
	v.SetDefault("crawl.max_content_bytes", 50000)
	v.SetDefault("crawl.user_agent", "CapabilityRegistry-Crawler/1.0")
	v.SetDefault("render.provider", RenderNone)
	v.SetDefault("render.base_url", "https://api.firecrawl.dev")
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.nav_timeout_seconds", 25)
	v.SetDefault("render.batch_timeout_seconds", 180)
	v.SetDefault("llm.provider", LLMAnthropic)
	v.SetDefault("llm.fast_model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.deep_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("pipeline.concurrency", 2)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.base_url", "http://localhost:8000")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.refresh_interval_hours", 168)
	v.SetDefault("scheduler.sweep_interval", 6*time.Hour)
	v.SetDefault("scheduler.initial_delay", 2*time.Minute)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "registries")
	v.SetDefault("pubsub.topic_name", "registry-updated")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.MaxContentBytes <= 0 {
		return fmt.Errorf("crawl.max_content_bytes must be > 0")
	}
	switch c.Render.Provider {
	case "", RenderNone:
	case RenderFirecrawl:
		if c.Render.APIKey == "" {
			return fmt.Errorf("render.api_key must be set for the firecrawl provider")
		}
	case RenderHeadless:
		if c.Render.MaxParallel <= 0 {
			return fmt.Errorf("render.max_parallel must be > 0 for the headless provider")
		}
	default:
		return fmt.Errorf("render.provider %q is not supported", c.Render.Provider)
	}
	switch c.LLM.Provider {
	case LLMAnthropic, LLMOpenAI, LLMOllama, LLMGemini:
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.LLM.FastModel == "" || c.LLM.DeepModel == "" {
		return fmt.Errorf("llm.fast_model and llm.deep_model must be set")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.QueueDepth <= 0 {
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.RefreshIntervalHours <= 0 {
			return fmt.Errorf("scheduler.refresh_interval_hours must be > 0")
		}
		if c.Scheduler.SweepInterval <= 0 {
			return fmt.Errorf("scheduler.sweep_interval must be > 0")
		}
	}
	switch c.Storage.Driver {
	case "", "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Archive.Driver {
	case "", "none", "memory":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local driver")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	return nil
}

// CrawlTimeout converts the per-request timeout into a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}

// RenderTimeout bounds one whole rendered crawl: one request timeout per page.
func (c Config) RenderTimeout() time.Duration {
	return c.CrawlTimeout() * time.Duration(c.Crawl.MaxPages)
}

// RefreshInterval is the age after which the scheduler re-ingests a registry.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Scheduler.RefreshIntervalHours) * time.Hour
}
