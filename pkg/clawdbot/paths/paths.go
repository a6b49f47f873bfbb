// Package paths resolves the on-disk locations used by Clawdbot: the state
// directory, per-agent directories and the credential files inside them.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// AuthProfileFilename is the current-format credential store.
	AuthProfileFilename = "auth-profiles.json"

	// LegacyAuthFilename is the pre-profiles single map store, migrated once.
	LegacyAuthFilename = "auth.json"

	// OAuthFilename is the standalone OAuth credentials file (one entry per provider).
	OAuthFilename = "oauth.json"

	// DefaultAgentID is the agent used when no agent directory is given.
	DefaultAgentID = "main"
)

// StateDir returns the root state directory.
// CLAWDBOT_STATE_DIR overrides the default ~/.clawdbot.
func StateDir() string {
	if dir := strings.TrimSpace(os.Getenv("CLAWDBOT_STATE_DIR")); dir != "" {
		return expandHome(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".clawdbot"
	}
	return filepath.Join(home, ".clawdbot")
}

// AgentDir returns the agent directory. An explicit agentDir wins, then
// CLAWDBOT_AGENT_DIR, then <state>/agents/main/agent.
func AgentDir(agentDir string) string {
	if dir := strings.TrimSpace(agentDir); dir != "" {
		return expandHome(dir)
	}
	if dir := strings.TrimSpace(os.Getenv("CLAWDBOT_AGENT_DIR")); dir != "" {
		return expandHome(dir)
	}
	return filepath.Join(StateDir(), "agents", DefaultAgentID, "agent")
}

// AuthStorePath returns the path of auth-profiles.json for the agent.
func AuthStorePath(agentDir string) string {
	return filepath.Join(AgentDir(agentDir), AuthProfileFilename)
}

// LegacyAuthStorePath returns the path of the legacy auth.json for the agent.
func LegacyAuthStorePath(agentDir string) string {
	return filepath.Join(AgentDir(agentDir), LegacyAuthFilename)
}

// OAuthCredentialsPath returns the standalone OAuth credentials file.
// It lives in the state directory and is shared by all agents.
func OAuthCredentialsPath() string {
	return filepath.Join(StateDir(), "credentials", OAuthFilename)
}

// AuditDBPath returns the default location of the auth audit journal.
func AuditDBPath() string {
	return filepath.Join(StateDir(), "data", "auth-audit.db")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
