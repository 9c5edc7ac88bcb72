// Package config loads and validates runtime configuration from a YAML
// file, environment variables, or both. Environment variables use the
// BEACON_ prefix with underscores for nesting, e.g. BEACON_PROVIDER_API_KEY.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Validation errors.
var (
	ErrMissingProviderURL = errors.New("config: provider base url is required")
	ErrMissingModel       = errors.New("config: provider model is required")
	ErrInvalidThreshold   = errors.New("config: retrieval threshold must be within [0, 1)")
	ErrInvalidTopK        = errors.New("config: retrieval top_k must be positive")
	ErrInvalidRetention   = errors.New("config: retention days must be positive when enabled")
	ErrMissingDatabaseURL = errors.New("config: database url is required when storage is postgres")
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Retention RetentionConfig `mapstructure:"retention"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

type ProviderConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	EmbedModel string        `mapstructure:"embed_model"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects the persistence backend. Backend is "memory" or
// "postgres".
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	DatabaseURL string `mapstructure:"database_url"`
	MaxConns    int    `mapstructure:"max_conns"`
}

type RetrievalConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	TopK      int           `mapstructure:"top_k"`
	Threshold float64       `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
}

type ChatConfig struct {
	SystemPrompt    string        `mapstructure:"system_prompt"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float32       `mapstructure:"temperature"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	PromptBudget    int           `mapstructure:"prompt_budget"`
	ProviderRPS     float64       `mapstructure:"provider_rps"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Days     int           `mapstructure:"days"`
	Interval time.Duration `mapstructure:"interval"`
}

// TracingConfig controls span export. Endpoint is the OTLP HTTP
// collector; spans are dropped silently when it is unreachable.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Load reads configuration from path (optional) and the environment, then
// validates it. An empty path falls back to beacon.yaml in the working
// directory when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("beacon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit_rps", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("provider.base_url", "http://localhost:11434/v1")
	v.SetDefault("provider.model", "gemma3:4b")
	v.SetDefault("provider.embed_model", "nomic-embed-text")
	v.SetDefault("provider.timeout", 60*time.Second)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.max_conns", 10)

	v.SetDefault("retrieval.enabled", true)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.threshold", 0.5)
	v.SetDefault("retrieval.timeout", 5*time.Second)
	v.SetDefault("retrieval.cache_size", 256)

	v.SetDefault("chat.max_tokens", 1024)
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("chat.prompt_budget", 4096)
	v.SetDefault("chat.provider_rps", 0.0) // 0 disables provider throttling
	v.SetDefault("chat.retry_attempts", 3)
	v.SetDefault("chat.breaker_failures", 5)
	v.SetDefault("chat.breaker_cooldown", 30*time.Second)

	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.interval", time.Hour)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "beacon")
	v.SetDefault("tracing.environment", "dev")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

func (c *Config) validate() error {
	if c.Provider.BaseURL == "" {
		return ErrMissingProviderURL
	}
	if c.Provider.Model == "" {
		return ErrMissingModel
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold >= 1 {
		return ErrInvalidThreshold
	}
	if c.Retrieval.TopK <= 0 {
		return ErrInvalidTopK
	}
	if c.Retention.Enabled && c.Retention.Days <= 0 {
		return ErrInvalidRetention
	}
	if c.Storage.Backend == "postgres" && c.Storage.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	return nil
}

// Redacted renders the configuration for logs with secrets masked.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"server.addr":         c.Server.Addr,
		"provider.base_url":   c.Provider.BaseURL,
		"provider.api_key":    mask(c.Provider.APIKey),
		"provider.model":      c.Provider.Model,
		"storage.backend":     c.Storage.Backend,
		"storage.url":         maskDSN(c.Storage.DatabaseURL),
		"retrieval.enabled":   c.Retrieval.Enabled,
		"retrieval.top_k":     c.Retrieval.TopK,
		"retrieval.threshold": c.Retrieval.Threshold,
		"retention.enabled":   c.Retention.Enabled,
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDSN hides the password portion of a connection string.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":****" + dsn[at:]
	}
	return dsn
}
