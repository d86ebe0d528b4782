package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avastusrada/permsync/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Entu          EntuConfig          `yaml:"entu"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Sync          SyncConfig          `yaml:"sync"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// EntuConfig holds the CMS gateway configuration
type EntuConfig struct {
	BaseURL string        `yaml:"base_url"`
	Account string        `yaml:"account"`
	Timeout time.Duration `yaml:"timeout"`
}

// WebhookConfig holds webhook validation and rate limit configuration.
//
// Validation fails closed: with no secret configured and InsecureDev unset,
// every webhook is rejected.
type WebhookConfig struct {
	// Secret is the shared secret expected on inbound webhooks, either as a
	// plain header or as the HMAC-SHA256 signing key.
	Secret string `yaml:"secret"`
	// SecretFile, when set, is watched and re-read on change so the secret
	// can rotate without a restart. It takes precedence over Secret.
	SecretFile string `yaml:"secret_file"`
	// InsecureDev disables webhook authentication entirely. Development only.
	InsecureDev bool `yaml:"insecure_dev"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int `yaml:"rate_limit_burst"`
}

// SyncConfig holds synchronization pipeline tuning
type SyncConfig struct {
	ReprocessSettleDelay time.Duration `yaml:"reprocess_settle_delay"`
	GrantConcurrency     int           `yaml:"grant_concurrency"`
	MaxGrantPairs        int           `yaml:"max_grant_pairs"`
	PassLogSize          int           `yaml:"pass_log_size"`
	PassLogRetention     time.Duration `yaml:"pass_log_retention"`
}

// RedisConfig holds optional Redis settings. An empty URL disables the
// distributed rate limiter and the Redis health probe.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// LoadConfig builds the configuration: defaults, then the optional YAML file
// named by PERMSYNC_CONFIG_FILE, then PERMSYNC_* environment overrides.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := getEnv("PERMSYNC_CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Entu: EntuConfig{
			BaseURL: "https://entu.app/api",
			Timeout: 15 * time.Second,
		},
		Webhook: WebhookConfig{
			RateLimitPerMinute: 120,
			RateLimitBurst:     30,
		},
		Sync: SyncConfig{
			ReprocessSettleDelay: 2 * time.Second,
			GrantConcurrency:     4,
			MaxGrantPairs:        5000,
			PassLogSize:          1000,
			PassLogRetention:     24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "permsync",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Host = getEnv("PERMSYNC_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("PERMSYNC_PORT", cfg.Server.Port)
	cfg.Server.HealthPort = getEnv("PERMSYNC_HEALTH_PORT", cfg.Server.HealthPort)
	cfg.Server.ReadTimeout = getEnvDuration("PERMSYNC_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("PERMSYNC_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("PERMSYNC_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("PERMSYNC_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Entu.BaseURL = getEnv("PERMSYNC_ENTU_URL", cfg.Entu.BaseURL)
	cfg.Entu.Account = getEnv("PERMSYNC_ENTU_ACCOUNT", cfg.Entu.Account)
	cfg.Entu.Timeout = getEnvDuration("PERMSYNC_ENTU_TIMEOUT", cfg.Entu.Timeout)

	cfg.Webhook.Secret = getEnv("PERMSYNC_WEBHOOK_SECRET", cfg.Webhook.Secret)
	cfg.Webhook.SecretFile = getEnv("PERMSYNC_WEBHOOK_SECRET_FILE", cfg.Webhook.SecretFile)
	cfg.Webhook.InsecureDev = getEnvBool("PERMSYNC_WEBHOOK_INSECURE_DEV", cfg.Webhook.InsecureDev)
	cfg.Webhook.RateLimitPerMinute = getEnvInt("PERMSYNC_WEBHOOK_RATE_LIMIT", cfg.Webhook.RateLimitPerMinute)
	cfg.Webhook.RateLimitBurst = getEnvInt("PERMSYNC_WEBHOOK_RATE_BURST", cfg.Webhook.RateLimitBurst)

	cfg.Sync.ReprocessSettleDelay = getEnvDuration("PERMSYNC_REPROCESS_SETTLE_DELAY", cfg.Sync.ReprocessSettleDelay)
	cfg.Sync.GrantConcurrency = getEnvInt("PERMSYNC_GRANT_CONCURRENCY", cfg.Sync.GrantConcurrency)
	cfg.Sync.MaxGrantPairs = getEnvInt("PERMSYNC_MAX_GRANT_PAIRS", cfg.Sync.MaxGrantPairs)
	cfg.Sync.PassLogSize = getEnvInt("PERMSYNC_PASS_LOG_SIZE", cfg.Sync.PassLogSize)
	cfg.Sync.PassLogRetention = getEnvDuration("PERMSYNC_PASS_LOG_RETENTION", cfg.Sync.PassLogRetention)

	cfg.Redis.URL = getEnv("PERMSYNC_REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Password = getEnv("PERMSYNC_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("PERMSYNC_REDIS_DB", cfg.Redis.DB)

	cfg.Observability.LogLevel = getEnv("PERMSYNC_LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.MetricsEnabled = getEnvBool("PERMSYNC_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("PERMSYNC_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("PERMSYNC_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("PERMSYNC_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelServiceVersion = getEnv("PERMSYNC_OTEL_SERVICE_VERSION", cfg.Observability.OTelServiceVersion)
	cfg.Observability.OTelInsecure = getEnvBool("PERMSYNC_OTEL_INSECURE", cfg.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Entu.BaseURL == "" {
		return fmt.Errorf("entu base URL is required")
	}
	if c.Entu.Account == "" {
		return fmt.Errorf("entu account is required")
	}

	if c.Webhook.InsecureDev && (c.Webhook.Secret != "" || c.Webhook.SecretFile != "") {
		return fmt.Errorf("webhook insecure dev mode and a secret are mutually exclusive")
	}

	if c.Sync.GrantConcurrency <= 0 {
		return fmt.Errorf("grant concurrency must be positive")
	}
	if c.Sync.MaxGrantPairs <= 0 {
		return fmt.Errorf("max grant pairs must be positive")
	}
	if c.Sync.ReprocessSettleDelay < 0 {
		return fmt.Errorf("reprocess settle delay must not be negative")
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}
	return nil
}

// WebhookAuthDisabled reports whether webhook authentication is off. True only
// in explicit insecure dev mode; a missing secret otherwise means fail closed.
func (c *Config) WebhookAuthDisabled() bool {
	return c.Webhook.InsecureDev
}

// LogLevel converts the configured level string
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(strings.ToLower(c.Observability.LogLevel))
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
