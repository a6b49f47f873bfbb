// Package authprofiles manages LLM provider credentials: a multi-profile
// store of API keys, static tokens and refreshable OAuth credentials, the
// selection order across profiles of one provider, failure cooldowns, and
// the inter-process locking that keeps concurrent gateway and CLI processes
// from clobbering each other's writes.
//
// There is no package-level store. Every operation takes the Store it works
// on plus an optional agent directory, and re-reads the file under the lock
// before mutating it.
package authprofiles

import (
	"strings"
)

// StoreVersion is the schema version written to auth-profiles.json.
const StoreVersion = 1

// Profile ids mirrored from external CLI tools.
const (
	// ClaudeCLIProfileID mirrors Claude Code. Refreshes of this profile are
	// written back to Claude Code's own store.
	ClaudeCLIProfileID = "anthropic:claude-cli"

	// CodexCLIProfileID mirrors the Codex CLI.
	CodexCLIProfileID = "openai-codex:codex-cli"
)

// CredentialType is the discriminant of Credential.
type CredentialType string

const (
	TypeAPIKey CredentialType = "api_key"
	TypeToken  CredentialType = "token"
	TypeOAuth  CredentialType = "oauth"
)

// Valid reports whether t is one of the known credential types.
func (t CredentialType) Valid() bool {
	switch t {
	case TypeAPIKey, TypeToken, TypeOAuth:
		return true
	}
	return false
}

// Credential is a tagged union over Type. Which fields are meaningful
// depends on the type:
//
//	api_key: Key
//	token:   Token, Expires (optional)
//	oauth:   Access, Refresh, Expires (required), ClientID, EnterpriseURL, ProjectID, AccountID
//
// Email and Provider apply to all three. Expires is a Unix epoch in ms.
type Credential struct {
	Type     CredentialType `json:"type"`
	Provider string         `json:"provider"`

	Key string `json:"key,omitempty"`

	Token string `json:"token,omitempty"`

	Access        string `json:"access,omitempty"`
	Refresh       string `json:"refresh,omitempty"`
	Expires       int64  `json:"expires,omitempty"`
	ClientID      string `json:"clientId,omitempty"`
	EnterpriseURL string `json:"enterpriseUrl,omitempty"`
	ProjectID     string `json:"projectId,omitempty"`
	AccountID     string `json:"accountId,omitempty"`

	Email string `json:"email,omitempty"`
}

// FailureReason classifies a failed provider call.
type FailureReason string

const (
	FailureAuth      FailureReason = "auth"
	FailureFormat    FailureReason = "format"
	FailureRateLimit FailureReason = "rate_limit"
	FailureBilling   FailureReason = "billing"
	FailureTimeout   FailureReason = "timeout"
	FailureUnknown   FailureReason = "unknown"
)

// UsageStats is the rolling per-profile state. Timestamps are Unix ms; zero
// means unset.
type UsageStats struct {
	LastUsed       int64                 `json:"lastUsed,omitempty"`
	CooldownUntil  int64                 `json:"cooldownUntil,omitempty"`
	DisabledUntil  int64                 `json:"disabledUntil,omitempty"`
	DisabledReason FailureReason         `json:"disabledReason,omitempty"`
	ErrorCount     int                   `json:"errorCount,omitempty"`
	FailureCounts  map[FailureReason]int `json:"failureCounts,omitempty"`
	LastFailureAt  int64                 `json:"lastFailureAt,omitempty"`
}

// unusableUntil is the later of CooldownUntil and DisabledUntil, ignoring
// unset values. Zero means the profile is not held back.
func (u UsageStats) unusableUntil() int64 {
	until := int64(0)
	if u.CooldownUntil > until {
		until = u.CooldownUntil
	}
	if u.DisabledUntil > until {
		until = u.DisabledUntil
	}
	return until
}

// Store is the persisted root document.
type Store struct {
	Version    int                   `json:"version"`
	Profiles   map[string]Credential `json:"profiles"`
	Order      map[string][]string   `json:"order,omitempty"`
	LastGood   map[string]string     `json:"lastGood,omitempty"`
	UsageStats map[string]UsageStats `json:"usageStats,omitempty"`
}

// NewStore returns an empty store at the current schema version.
func NewStore() *Store {
	return &Store{
		Version:  StoreVersion,
		Profiles: make(map[string]Credential),
	}
}

// adopt copies every persisted field of other onto s, so a caller holding s
// sees what a locked update wrote.
func (s *Store) adopt(other *Store) {
	s.Version = other.Version
	s.Profiles = other.Profiles
	s.Order = other.Order
	s.LastGood = other.LastGood
	s.UsageStats = other.UsageStats
}

func (s *Store) stats(profileID string) UsageStats {
	if s.UsageStats == nil {
		return UsageStats{}
	}
	return s.UsageStats[profileID]
}

func (s *Store) setStats(profileID string, u UsageStats) {
	if s.UsageStats == nil {
		s.UsageStats = make(map[string]UsageStats)
	}
	s.UsageStats[profileID] = u
}

// NormalizeProviderID lower-cases a provider id and folds known aliases.
func NormalizeProviderID(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	switch p {
	case "z.ai", "z-ai":
		return "zai"
	case "opencode-zen":
		return "opencode"
	}
	return p
}

// profileSuffix returns the part of a profile id after the first colon.
func profileSuffix(profileID string) string {
	_, suffix, _ := strings.Cut(profileID, ":")
	return suffix
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
