package authprofiles

import (
	"time"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/clicreds"
)

// externalNearExpiry is how close to expiry a mirrored credential may get
// before the external CLI store is consulted again.
const externalNearExpiry = 10 * time.Minute

// SyncExternalCLICredentials mirrors the Claude Code and Codex CLI
// credentials into the store under ClaudeCLIProfileID and CodexCLIProfileID.
// It reports whether the store changed. An oauth profile is never replaced
// by a token credential.
func (m *Manager) SyncExternalCLICredentials(store *Store, allowKeychainPrompt bool) bool {
	if m.external == nil {
		return false
	}
	now := m.nowMs()
	readOpts := clicreds.ReadOptions{AllowKeychainPrompt: allowKeychainPrompt}

	changed := m.syncExternalProfile(store, ClaudeCLIProfileID, "anthropic", now, func() *clicreds.Credential {
		return m.external.ReadClaude(readOpts)
	})
	if m.syncExternalProfile(store, CodexCLIProfileID, "openai-codex", now, m.external.ReadCodex) {
		changed = true
	}
	return changed
}

func (m *Manager) syncExternalProfile(store *Store, profileID, provider string, now int64, read func() *clicreds.Credential) bool {
	existing, has := store.Profiles[profileID]
	if has && externalProfileFresh(existing, provider, now) {
		return false
	}

	ext := read()
	if ext == nil {
		return false
	}
	next := fromExternal(*ext, provider)
	if !shouldReplaceExternal(existing, has, next, provider, now) {
		return false
	}
	if has && sameCredential(existing, next) {
		return false
	}

	store.Profiles[profileID] = next
	m.logger.Info("synced external cli credentials",
		"profile_id", profileID, "type", string(next.Type), "expires", next.Expires)
	return true
}

// externalProfileFresh reports whether an existing mirror can be used
// without re-reading the external store.
func externalProfileFresh(c Credential, provider string, now int64) bool {
	if c.Provider != provider {
		return false
	}
	switch c.Type {
	case TypeToken:
		if c.Expires <= 0 {
			return true
		}
		return c.Expires > now+externalNearExpiry.Milliseconds()
	case TypeOAuth:
		return c.Expires > now+externalNearExpiry.Milliseconds()
	}
	return false
}

func shouldReplaceExternal(existing Credential, has bool, next Credential, provider string, now int64) bool {
	if !has {
		return true
	}
	if existing.Type == TypeOAuth && next.Type == TypeToken {
		return false
	}
	if existing.Provider != provider {
		return true
	}
	if existing.Type == TypeToken && next.Type == TypeOAuth {
		return true
	}
	if existing.Expires <= now {
		return true
	}
	return next.Expires > now && next.Expires > existing.Expires
}

func fromExternal(ext clicreds.Credential, provider string) Credential {
	if ext.Provider != "" {
		provider = ext.Provider
	}
	if ext.Type == clicreds.TypeToken {
		return Credential{
			Type:     TypeToken,
			Provider: provider,
			Token:    ext.Token,
			Expires:  ext.Expires,
			Email:    ext.Email,
		}
	}
	return Credential{
		Type:      TypeOAuth,
		Provider:  provider,
		Access:    ext.Access,
		Refresh:   ext.Refresh,
		Expires:   ext.Expires,
		AccountID: ext.AccountID,
		Email:     ext.Email,
	}
}

// sameCredential compares the fields an external sync can change.
func sameCredential(a, b Credential) bool {
	if a.Type != b.Type || a.Provider != b.Provider || a.Email != b.Email || a.Expires != b.Expires {
		return false
	}
	switch a.Type {
	case TypeToken:
		return a.Token == b.Token
	case TypeOAuth:
		return a.Access == b.Access && a.Refresh == b.Refresh &&
			a.ClientID == b.ClientID && a.EnterpriseURL == b.EnterpriseURL &&
			a.ProjectID == b.ProjectID && a.AccountID == b.AccountID
	case TypeAPIKey:
		return a.Key == b.Key
	}
	return false
}
