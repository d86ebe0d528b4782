package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PERMSYNC_ENTU_ACCOUNT", "museum")
}

func TestLoadConfigDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("ports = %s/%s", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if cfg.Sync.ReprocessSettleDelay != 2*time.Second {
		t.Errorf("settle delay = %v, want 2s", cfg.Sync.ReprocessSettleDelay)
	}
	if cfg.Sync.MaxGrantPairs != 5000 {
		t.Errorf("max grant pairs = %d, want 5000", cfg.Sync.MaxGrantPairs)
	}
	if cfg.WebhookAuthDisabled() {
		t.Error("auth must not be disabled by default")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("PERMSYNC_PORT", "3000")
	t.Setenv("PERMSYNC_WEBHOOK_SECRET", "hunter2")
	t.Setenv("PERMSYNC_REPROCESS_SETTLE_DELAY", "500ms")
	t.Setenv("PERMSYNC_GRANT_CONCURRENCY", "8")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "3000" {
		t.Errorf("port = %s", cfg.Server.Port)
	}
	if cfg.Webhook.Secret != "hunter2" {
		t.Errorf("secret = %q", cfg.Webhook.Secret)
	}
	if cfg.Sync.ReprocessSettleDelay != 500*time.Millisecond {
		t.Errorf("settle delay = %v", cfg.Sync.ReprocessSettleDelay)
	}
	if cfg.Sync.GrantConcurrency != 8 {
		t.Errorf("concurrency = %d", cfg.Sync.GrantConcurrency)
	}
}

func TestLoadConfigYAMLFile(t *testing.T) {
	validEnv(t)

	path := filepath.Join(t.TempDir(), "permsync.yaml")
	content := `
server:
  port: "4000"
entu:
  account: yamlaccount
sync:
  max_grant_pairs: 100
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PERMSYNC_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "4000" {
		t.Errorf("port = %s, want 4000 from file", cfg.Server.Port)
	}
	// Env still wins over the file.
	if cfg.Entu.Account != "museum" {
		t.Errorf("account = %s, want env override", cfg.Entu.Account)
	}
	if cfg.Sync.MaxGrantPairs != 100 {
		t.Errorf("max grant pairs = %d, want 100 from file", cfg.Sync.MaxGrantPairs)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing account", func(c *Config) { c.Entu.Account = "" }},
		{"missing base url", func(c *Config) { c.Entu.BaseURL = "" }},
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }},
		{"insecure dev with secret", func(c *Config) {
			c.Webhook.InsecureDev = true
			c.Webhook.Secret = "x"
		}},
		{"zero concurrency", func(c *Config) { c.Sync.GrantConcurrency = 0 }},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Entu.Account = "museum"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Observability.LogLevel = "DEBUG"
	if cfg.LogLevel().String() != "DEBUG" {
		t.Errorf("level = %s", cfg.LogLevel())
	}
}
