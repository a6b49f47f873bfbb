package paths

import (
	"path/filepath"
	"testing"
)

func TestAgentDir_Precedence(t *testing.T) {
	state := t.TempDir()
	t.Setenv("CLAWDBOT_STATE_DIR", state)
	t.Setenv("CLAWDBOT_AGENT_DIR", "")

	want := filepath.Join(state, "agents", "main", "agent")
	if got := AgentDir(""); got != want {
		t.Errorf("AgentDir(\"\") = %q, want %q", got, want)
	}

	envDir := filepath.Join(state, "env-agent")
	t.Setenv("CLAWDBOT_AGENT_DIR", envDir)
	if got := AgentDir(""); got != envDir {
		t.Errorf("AgentDir with env = %q, want %q", got, envDir)
	}

	explicit := filepath.Join(state, "explicit")
	if got := AgentDir(explicit); got != explicit {
		t.Errorf("AgentDir(explicit) = %q, want %q", got, explicit)
	}
}

func TestStorePaths(t *testing.T) {
	state := t.TempDir()
	t.Setenv("CLAWDBOT_STATE_DIR", state)
	dir := filepath.Join(state, "a")

	if got := AuthStorePath(dir); got != filepath.Join(dir, "auth-profiles.json") {
		t.Errorf("AuthStorePath = %q", got)
	}
	if got := LegacyAuthStorePath(dir); got != filepath.Join(dir, "auth.json") {
		t.Errorf("LegacyAuthStorePath = %q", got)
	}
	if got := OAuthCredentialsPath(); got != filepath.Join(state, "credentials", "oauth.json") {
		t.Errorf("OAuthCredentialsPath = %q", got)
	}
}
