package authprofiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/clicreds"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/config"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/oauth"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/paths"
)

// ResolvedKey is a usable credential for a provider call.
type ResolvedKey struct {
	APIKey   string
	Provider string
	Email    string
}

// RefreshError is returned when an expired OAuth credential could not be
// refreshed and no fallback profile was usable.
type RefreshError struct {
	Provider  string
	ProfileID string
	Hint      string
	Err       error
}

func (e *RefreshError) Error() string {
	msg := fmt.Sprintf("OAuth token refresh failed for %s: %v. Please try again or re-authenticate.", e.Provider, e.Err)
	if e.Hint != "" {
		msg += "\n\n" + e.Hint
	}
	return msg
}

func (e *RefreshError) Unwrap() error { return e.Err }

// googleKeyProviders receive a JSON envelope carrying the project id.
var googleKeyProviders = map[string]bool{
	"google-gemini-cli":  true,
	"google-antigravity": true,
}

// ResolveAPIKeyForProfile returns a usable API key for profileID, refreshing
// an expired OAuth credential when needed. A nil result without error means
// the profile is missing, mismatches its config pin, or is unusable.
func (m *Manager) ResolveAPIKeyForProfile(ctx context.Context, cfg *config.Config, store *Store, profileID, agentDir string) (*ResolvedKey, error) {
	cred, ok := store.Profiles[profileID]
	if !ok {
		return nil, nil
	}
	if !matchesPin(cfg, profileID, cred) {
		return nil, nil
	}

	switch cred.Type {
	case TypeAPIKey:
		return &ResolvedKey{APIKey: cred.Key, Provider: cred.Provider, Email: cred.Email}, nil
	case TypeToken:
		if strings.TrimSpace(cred.Token) == "" {
			return nil, nil
		}
		if cred.Expires > 0 && m.nowMs() >= cred.Expires {
			return nil, nil
		}
		return &ResolvedKey{APIKey: cred.Token, Provider: cred.Provider, Email: cred.Email}, nil
	case TypeOAuth:
		return m.resolveOAuth(ctx, cfg, store, profileID, cred, agentDir)
	}
	return nil, nil
}

func matchesPin(cfg *config.Config, profileID string, cred Credential) bool {
	if cfg == nil {
		return true
	}
	pc, ok := cfg.Profile(profileID)
	if !ok {
		return true
	}
	if NormalizeProviderID(pc.Provider) != NormalizeProviderID(cred.Provider) {
		return false
	}
	return pc.Mode == "" || modeCompatible(pc.Mode, cred.Type)
}

func (m *Manager) resolveOAuth(ctx context.Context, cfg *config.Config, store *Store, profileID string, cred Credential, agentDir string) (*ResolvedKey, error) {
	if m.nowMs() < cred.Expires {
		return oauthKey(cred)
	}

	refreshed, _, err := m.refreshWithLock(ctx, profileID, agentDir, 0)
	if err == nil {
		if refreshed == nil {
			return nil, nil
		}
		store.Profiles[profileID] = *refreshed
		return oauthKey(*refreshed)
	}

	m.logger.Warn("oauth refresh failed", "profile_id", profileID, "provider", cred.Provider, "error", err)
	m.record(eventRefreshFailed, profileID, cred.Provider, err.Error())

	// Another process may have refreshed in the meantime.
	fresh := m.EnsureStore(agentDir)
	if c, ok := fresh.Profiles[profileID]; ok && c.Type == TypeOAuth && m.nowMs() < c.Expires {
		store.adopt(fresh)
		return oauthKey(c)
	}

	if fallback := SuggestOAuthProfileIDForLegacyDefault(cfg, fresh, cred.Provider, profileID); fallback != "" && fallback != profileID {
		if key := m.tryResolveFallback(ctx, cfg, fresh, fallback, agentDir); key != nil {
			store.adopt(fresh)
			return key, nil
		}
	}

	return nil, &RefreshError{
		Provider:  cred.Provider,
		ProfileID: profileID,
		Hint:      FormatAuthDoctorHint(cfg, fresh, cred.Provider, profileID),
		Err:       err,
	}
}

// tryResolveFallback resolves an alternate oauth profile, swallowing errors.
func (m *Manager) tryResolveFallback(ctx context.Context, cfg *config.Config, store *Store, profileID, agentDir string) *ResolvedKey {
	cred, ok := store.Profiles[profileID]
	if !ok || cred.Type != TypeOAuth || !matchesPin(cfg, profileID, cred) {
		return nil
	}
	if m.nowMs() < cred.Expires {
		key, _ := oauthKey(cred)
		return key
	}
	refreshed, _, err := m.refreshWithLock(ctx, profileID, agentDir, 0)
	if err != nil || refreshed == nil {
		return nil
	}
	key, _ := oauthKey(*refreshed)
	return key
}

func oauthKey(cred Credential) (*ResolvedKey, error) {
	apiKey := cred.Access
	if googleKeyProviders[cred.Provider] {
		envelope := struct {
			Token     string `json:"token"`
			ProjectID string `json:"projectId,omitempty"`
		}{Token: cred.Access, ProjectID: cred.ProjectID}
		data, err := json.Marshal(envelope)
		if err != nil {
			return nil, err
		}
		apiKey = string(data)
	}
	return &ResolvedKey{APIKey: apiKey, Provider: cred.Provider, Email: cred.Email}, nil
}

// RefreshIfExpiring refreshes an oauth profile that expires within the given
// window. It reports whether a refresh call was made and succeeded.
func (m *Manager) RefreshIfExpiring(ctx context.Context, profileID, agentDir string, within time.Duration) (bool, error) {
	_, refreshed, err := m.refreshWithLock(ctx, profileID, agentDir, within)
	if err != nil {
		m.record(eventRefreshFailed, profileID, m.LoadStore(agentDir).Profiles[profileID].Provider, err.Error())
		return false, err
	}
	return refreshed, nil
}

// refreshWithLock refreshes profileID while holding the store lock. It
// returns nil without error when the profile is gone or not oauth, and the
// stored credential unchanged when it stays valid for longer than within.
// The bool reports whether the refresher was called and its result saved.
func (m *Manager) refreshWithLock(ctx context.Context, profileID, agentDir string, within time.Duration) (*Credential, bool, error) {
	storePath := paths.AuthStorePath(agentDir)
	if err := m.ensureStoreFile(storePath, agentDir); err != nil {
		return nil, false, err
	}
	lock, err := m.acquire(ctx, storePath)
	if err != nil {
		return nil, false, fmt.Errorf("lock auth profile store: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.logger.Debug("failed to release auth profile store lock", "error", err)
		}
	}()

	store := m.EnsureStore(agentDir)
	cred, ok := store.Profiles[profileID]
	if !ok || cred.Type != TypeOAuth {
		return nil, false, nil
	}
	if m.nowMs()+within.Milliseconds() < cred.Expires {
		return &cred, false, nil
	}

	in := oauth.Credentials{
		Access:        cred.Access,
		Refresh:       cred.Refresh,
		Expires:       cred.Expires,
		ClientID:      cred.ClientID,
		Email:         cred.Email,
		EnterpriseURL: cred.EnterpriseURL,
		ProjectID:     cred.ProjectID,
		AccountID:     cred.AccountID,
	}
	var out *oauth.Credentials
	if cred.Provider == "chutes" {
		out, err = m.refresher.RefreshChutes(ctx, in)
	} else {
		out, err = m.refresher.Refresh(ctx, cred.Provider, in)
	}
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}

	merged := mergeRefreshed(cred, *out)
	store.Profiles[profileID] = merged
	if err := m.SaveStore(store, agentDir); err != nil {
		return nil, false, fmt.Errorf("save refreshed credentials: %w", err)
	}
	m.logger.Info("refreshed oauth credentials", "profile_id", profileID, "provider", merged.Provider, "expires", merged.Expires)
	m.record(eventRefresh, profileID, merged.Provider, "")

	if profileID == ClaudeCLIProfileID && merged.Provider == "anthropic" {
		m.writeBackClaude(merged)
	}
	return &merged, true, nil
}

// mergeRefreshed overlays the non-empty fields of a refresh result onto the
// stored credential, keeping its type and provider.
func mergeRefreshed(cred Credential, out oauth.Credentials) Credential {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cred.Access, out.Access)
	set(&cred.Refresh, out.Refresh)
	set(&cred.ClientID, out.ClientID)
	set(&cred.Email, out.Email)
	set(&cred.EnterpriseURL, out.EnterpriseURL)
	set(&cred.ProjectID, out.ProjectID)
	set(&cred.AccountID, out.AccountID)
	if out.Expires > 0 {
		cred.Expires = out.Expires
	}
	cred.Type = TypeOAuth
	return cred
}

// writeBackClaude pushes refreshed tokens to Claude Code. Failures are
// logged and dropped.
func (m *Manager) writeBackClaude(cred Credential) {
	if m.external == nil {
		return
	}
	update := clicreds.ClaudeUpdate{Access: cred.Access, Refresh: cred.Refresh, Expires: cred.Expires}
	written, err := m.external.WriteClaude(update, clicreds.ReadOptions{AllowKeychainPrompt: m.allowKeychain})
	switch {
	case err != nil:
		m.logger.Warn("failed to write refreshed credentials back to claude code", "error", err)
	case !written:
		m.logger.Debug("no claude code credential store to update")
	}
}

// IsRefreshError reports whether err is a RefreshError.
func IsRefreshError(err error) bool {
	var re *RefreshError
	return errors.As(err, &re)
}
