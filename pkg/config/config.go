package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the immutable runtime configuration for the signflow core.
// It is loaded once and passed into constructors; nothing reads viper
// after Load returns, so tests can build Config values directly.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Session  SessionConfig  `mapstructure:"session"`
	Canary   CanaryConfig   `mapstructure:"canary"`
	Provider ProviderConfig `mapstructure:"provider"`
	Export   ExportConfig   `mapstructure:"export"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig selects and configures the relational store
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // "sqlite" or "postgres"
	DSN  string `mapstructure:"dsn"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// QueueConfig configures the durable job queue
type QueueConfig struct {
	Backend  string `mapstructure:"backend"` // "redis" or "memory"
	RedisURL string `mapstructure:"redis_url"`
	Name     string `mapstructure:"name"`
}

// WorkerConfig tunes the worker loop cadence
type WorkerConfig struct {
	PopTimeout    time.Duration `mapstructure:"pop_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	IdleSleep     time.Duration `mapstructure:"idle_sleep"`
}

// SessionConfig controls editing-session lifetimes
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// CanaryConfig configures deterministic canary traffic splitting
type CanaryConfig struct {
	ModelID        string `mapstructure:"model_id"`
	TrafficPercent int    `mapstructure:"traffic_percent"` // clamped to [0,100]
}

// ProviderConfig selects and configures the transcription backend
type ProviderConfig struct {
	Kind       string        `mapstructure:"kind"` // "local" or "hub"
	Offline    bool          `mapstructure:"offline"`
	CacheDir   string        `mapstructure:"cache_dir"`
	HubBaseURL string        `mapstructure:"hub_base_url"`
	HubToken   string        `mapstructure:"hub_token"`
	HubRPS     float64       `mapstructure:"hub_rps"` // download rate cap, requests per second
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ExportConfig configures where rendered exports are written
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig configures the worker's ops endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig configures OpenTelemetry
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Environment  string `mapstructure:"environment"`
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Floors enforced at load time. The sweep interval floor keeps a
// misconfigured worker from hammering the store; the pop timeout floor
// matches the queue backend's blocking-receive resolution.
const (
	minSweepInterval = 5 * time.Second
	minPopTimeout    = 1 * time.Second
	minIdleSleep     = 100 * time.Millisecond
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "signflow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.redis_url", "redis://localhost:6379/0")
	v.SetDefault("queue.name", "signflow:inference_jobs")

	v.SetDefault("worker.pop_timeout", 5*time.Second)
	v.SetDefault("worker.sweep_interval", 60*time.Second)
	v.SetDefault("worker.idle_sleep", 500*time.Millisecond)

	v.SetDefault("session.ttl", 30*time.Minute)

	v.SetDefault("canary.model_id", "")
	v.SetDefault("canary.traffic_percent", 0)

	v.SetDefault("provider.kind", "local")
	v.SetDefault("provider.offline", false)
	v.SetDefault("provider.cache_dir", "./model-cache")
	v.SetDefault("provider.hub_base_url", "https://huggingface.co")
	v.SetDefault("provider.hub_rps", 4.0)
	v.SetDefault("provider.timeout", 10*time.Minute)

	v.SetDefault("export.dir", "./exports")

	v.SetDefault("metrics.addr", ":9109")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
}

// Load reads configuration from an optional YAML file plus SIGNFLOW_*
// environment variables, applies defaults and floors, and returns the
// resulting immutable Config.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SIGNFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("signflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/signflow")
		// Missing config file is fine, defaults and env apply
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return Normalize(cfg), nil
}

// Normalize applies floors and clamps so that invalid values never
// reach the router or the worker loop. Exported so tests building
// Config literals get the same guarantees.
func Normalize(cfg Config) Config {
	if cfg.Worker.SweepInterval < minSweepInterval {
		cfg.Worker.SweepInterval = minSweepInterval
	}
	if cfg.Worker.PopTimeout < minPopTimeout {
		cfg.Worker.PopTimeout = minPopTimeout
	}
	if cfg.Worker.IdleSleep < minIdleSleep {
		cfg.Worker.IdleSleep = minIdleSleep
	}
	if cfg.Canary.TrafficPercent < 0 {
		cfg.Canary.TrafficPercent = 0
	}
	if cfg.Canary.TrafficPercent > 100 {
		cfg.Canary.TrafficPercent = 100
	}
	if cfg.Session.TTL <= 0 {
		cfg.Session.TTL = 30 * time.Minute
	}
	return cfg
}
