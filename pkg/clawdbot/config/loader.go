package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfigFromFile loads .env files, expands environment references in the
// YAML and overlays it on DefaultConfig.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := ParseConfig([]byte(ExpandEnv(string(data))))
	if err != nil {
		return nil, err
	}

	checkFilePermissions(path)
	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config, starting from defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes cfg to path, keeping the previous file as path.bak.
func SaveConfigToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Refuse to write something we could not read back.
	var check Config
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches the standard locations and returns the first hit.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"clawdbot.yaml",
		"clawdbot.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ExpandEnv replaces ${VAR}, ${VAR:-default} and $VAR with environment values.
func ExpandEnv(input string) string {
	return os.Expand(input, func(name string) string {
		key, def, hasDefault := strings.Cut(name, ":-")
		if val, ok := os.LookupEnv(key); ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

// loadEnvFiles loads .env files. godotenv.Load never overrides variables
// that are already set.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		slog.Warn("config file is readable by other users",
			"path", path,
			"mode", fmt.Sprintf("%o", info.Mode().Perm()),
			"hint", "chmod 600 "+path)
	}
}
