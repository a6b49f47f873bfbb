package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseConfig_AuthSection(t *testing.T) {
	t.Setenv("CLAWDBOT_STATE_DIR", t.TempDir())
	data := []byte(`
auth:
  profiles:
    anthropic:default:
      provider: anthropic
      mode: oauth
      email: me@x.com
  order:
    anthropic: [anthropic:default, anthropic:work]
  cooldowns:
    billing_backoff_hours: 2
    billing_backoff_hours_by_provider:
      openai: 1
logging:
  format: text
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatal(err)
	}

	p, ok := cfg.Profile("anthropic:default")
	if !ok || p.Provider != "anthropic" || p.Mode != "oauth" || p.Email != "me@x.com" {
		t.Errorf("profile = %+v, %v", p, ok)
	}
	if got := cfg.Auth.Order["anthropic"]; len(got) != 2 || got[1] != "anthropic:work" {
		t.Errorf("order = %v", got)
	}
	if cfg.Auth.Cooldowns.BillingBackoffHours != 2 || cfg.Auth.Cooldowns.BillingBackoffHoursByProvider["openai"] != 1 {
		t.Errorf("cooldowns = %+v", cfg.Auth.Cooldowns)
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Level != "info" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Maintenance.Schedule != "@every 5m" || cfg.Maintenance.RefreshWindow != 10*time.Minute {
		t.Errorf("maintenance defaults lost: %+v", cfg.Maintenance)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CLAWDBOT_TEST_VALUE", "abc")
	tests := []struct {
		in, want string
	}{
		{"key: ${CLAWDBOT_TEST_VALUE}", "key: abc"},
		{"key: $CLAWDBOT_TEST_VALUE", "key: abc"},
		{"key: ${CLAWDBOT_TEST_UNSET:-fallback}", "key: fallback"},
		{"key: ${CLAWDBOT_TEST_UNSET}", "key: "},
	}
	for _, tt := range tests {
		if got := ExpandEnv(tt.in); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClone_IsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Profiles = map[string]AuthProfileConfig{"a:default": {Provider: "a", Mode: "oauth"}}
	cfg.Auth.Order = map[string][]string{"a": {"a:default"}}

	clone := cfg.Clone()
	clone.Auth.Profiles["a:new"] = AuthProfileConfig{Provider: "a"}
	clone.Auth.Order["a"][0] = "a:new"

	if _, ok := cfg.Auth.Profiles["a:new"]; ok {
		t.Error("clone shares profiles map")
	}
	if cfg.Auth.Order["a"][0] != "a:default" {
		t.Error("clone shares order slice")
	}
}

func TestSaveConfigToFile_WritesBackup(t *testing.T) {
	t.Setenv("CLAWDBOT_STATE_DIR", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Auth.Profiles = map[string]AuthProfileConfig{"openai:default": {Provider: "openai", Mode: "api_key"}}
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup missing: %v", err)
	}
	loaded, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := loaded.Profile("openai:default"); !ok || p.Mode != "api_key" {
		t.Errorf("reloaded profile = %+v, %v", p, ok)
	}
}
