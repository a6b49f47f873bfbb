// Package config defines the Clawdbot configuration document and its
// defaults. Only the sections consumed by the auth subsystem and the
// gateway maintenance loop live here.
package config

import (
	"strings"
	"time"
)

// Config is the root configuration document (config.yaml).
type Config struct {
	// StateDir overrides the state directory (default ~/.clawdbot).
	StateDir string `yaml:"state_dir,omitempty"`

	// AgentDir overrides the agent directory holding auth-profiles.json.
	AgentDir string `yaml:"agent_dir,omitempty"`

	// Auth pins profiles, orders and cooldown policy.
	Auth AuthConfig `yaml:"auth"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Maintenance configures the background credential maintenance job.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Audit configures the auth event journal.
	Audit AuditConfig `yaml:"audit"`
}

// AuthConfig is the static side of credential management.
type AuthConfig struct {
	// Profiles pins profile ids to a provider and a credential mode.
	Profiles map[string]AuthProfileConfig `yaml:"profiles,omitempty"`

	// Order is an explicit per-provider profile order. An order stored in
	// auth-profiles.json takes precedence over this one.
	Order map[string][]string `yaml:"order,omitempty"`

	// Cooldowns overrides the failure backoff policy.
	Cooldowns AuthCooldownConfig `yaml:"cooldowns,omitempty"`
}

// AuthProfileConfig pins a single profile id.
type AuthProfileConfig struct {
	Provider string `yaml:"provider"`

	// Mode is one of "api_key", "token" or "oauth".
	Mode string `yaml:"mode"`

	Email string `yaml:"email,omitempty"`
}

// AuthCooldownConfig holds the optional backoff overrides. Zero values mean
// "use the default".
type AuthCooldownConfig struct {
	BillingBackoffHours           float64            `yaml:"billing_backoff_hours,omitempty"`
	BillingBackoffHoursByProvider map[string]float64 `yaml:"billing_backoff_hours_by_provider,omitempty"`
	BillingMaxHours               float64            `yaml:"billing_max_hours,omitempty"`
	FailureWindowHours            float64            `yaml:"failure_window_hours,omitempty"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// MaintenanceConfig configures proactive refresh in gateway mode.
type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor (e.g. "@every 5m").
	Schedule string `yaml:"schedule"`

	// RefreshWindow refreshes OAuth profiles expiring within this duration.
	RefreshWindow time.Duration `yaml:"refresh_window"`
}

// AuditConfig configures the SQLite auth event journal.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite file. Empty means <state>/data/auth-audit.db.
	Path string `yaml:"path,omitempty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Maintenance: MaintenanceConfig{
			Enabled:       true,
			Schedule:      "@every 5m",
			RefreshWindow: 10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}

// Profile returns the pinned profile config, if any.
func (c *Config) Profile(profileID string) (AuthProfileConfig, bool) {
	if c == nil || c.Auth.Profiles == nil {
		return AuthProfileConfig{}, false
	}
	p, ok := c.Auth.Profiles[profileID]
	return p, ok
}

// Clone returns a deep copy of the config. Repair operations modify the copy
// and leave the caller's document untouched.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.Auth.Profiles != nil {
		out.Auth.Profiles = make(map[string]AuthProfileConfig, len(c.Auth.Profiles))
		for k, v := range c.Auth.Profiles {
			out.Auth.Profiles[k] = v
		}
	}
	if c.Auth.Order != nil {
		out.Auth.Order = make(map[string][]string, len(c.Auth.Order))
		for k, v := range c.Auth.Order {
			out.Auth.Order[k] = append([]string(nil), v...)
		}
	}
	if c.Auth.Cooldowns.BillingBackoffHoursByProvider != nil {
		m := make(map[string]float64, len(c.Auth.Cooldowns.BillingBackoffHoursByProvider))
		for k, v := range c.Auth.Cooldowns.BillingBackoffHoursByProvider {
			m[k] = v
		}
		out.Auth.Cooldowns.BillingBackoffHoursByProvider = m
	}
	return &out
}

// IsOAuthMode reports whether mode selects OAuth credentials.
func IsOAuthMode(mode string) bool {
	return strings.EqualFold(strings.TrimSpace(mode), "oauth")
}
