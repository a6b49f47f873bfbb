package authprofiles

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/jsonfile"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/paths"
)

// EnsureOptions tunes EnsureStore.
type EnsureOptions struct {
	// AllowKeychainPrompt overrides the manager default for this load.
	AllowKeychainPrompt *bool
}

// EnsureStore loads the store for agentDir, migrating older formats and
// syncing external CLI credentials. It never fails: unreadable files yield
// an empty store. The legacy auth.json and the shared oauth.json are only
// read when no current-format store exists. When anything changed the result
// is saved before return, and a migrated legacy auth.json is deleted only
// after that save succeeds.
func (m *Manager) EnsureStore(agentDir string) *Store {
	return m.EnsureStoreWithOptions(agentDir, EnsureOptions{})
}

// EnsureStoreWithOptions is EnsureStore with per-call options.
func (m *Manager) EnsureStoreWithOptions(agentDir string, opts EnsureOptions) *Store {
	allowKeychain := m.allowKeychain
	if opts.AllowKeychainPrompt != nil {
		allowKeychain = *opts.AllowKeychainPrompt
	}

	storePath := paths.AuthStorePath(agentDir)
	legacyPath := paths.LegacyAuthStorePath(agentDir)

	if store := decodeStore(jsonfile.Load(storePath)); store != nil {
		if m.SyncExternalCLICredentials(store, allowKeychain) {
			m.saveQuiet(store, agentDir)
		}
		return store
	}

	// No usable store: build one from the legacy file and oauth.json.
	var legacy map[string]Credential
	if raw := jsonfile.Load(legacyPath); raw != nil {
		legacy = decodeLegacy(raw)
	}
	migrated := legacy != nil
	store := NewStore()
	for id, cred := range legacy {
		store.Profiles[id] = cred
	}

	changed := m.mergeOAuthFile(store)
	if m.SyncExternalCLICredentials(store, allowKeychain) {
		changed = true
	}
	if !migrated && !changed {
		return store
	}

	if err := m.SaveStore(store, agentDir); err != nil {
		m.logger.Warn("failed to save auth profile store", "path", storePath, "error", err)
		return store
	}
	if migrated {
		if err := os.Remove(legacyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("failed to delete legacy auth file after migration",
				"path", legacyPath, "error", err)
		} else {
			m.logger.Info("migrated legacy auth store", "profiles", len(legacy))
		}
	}
	return store
}

// LoadStore reads the store without migration or external sync. Missing or
// malformed files yield an empty store.
func (m *Manager) LoadStore(agentDir string) *Store {
	if store := decodeStore(jsonfile.Load(paths.AuthStorePath(agentDir))); store != nil {
		return store
	}
	return NewStore()
}

// SaveStore writes the store as formatted JSON with owner-only permissions.
func (m *Manager) SaveStore(store *Store, agentDir string) error {
	out := &Store{
		Version:    StoreVersion,
		Profiles:   store.Profiles,
		Order:      store.Order,
		LastGood:   store.LastGood,
		UsageStats: store.UsageStats,
	}
	if out.Profiles == nil {
		out.Profiles = make(map[string]Credential)
	}
	return jsonfile.Save(paths.AuthStorePath(agentDir), out)
}

func (m *Manager) saveQuiet(store *Store, agentDir string) {
	if err := m.SaveStore(store, agentDir); err != nil {
		m.logger.Warn("failed to save auth profile store",
			"path", paths.AuthStorePath(agentDir), "error", err)
	}
}

// oauthFileEntry is one provider entry of the standalone oauth.json.
type oauthFileEntry struct {
	Access        string `json:"access"`
	Refresh       string `json:"refresh"`
	Expires       int64  `json:"expires"`
	ClientID      string `json:"clientId"`
	Email         string `json:"email"`
	EnterpriseURL string `json:"enterpriseUrl"`
	ProjectID     string `json:"projectId"`
	AccountID     string `json:"accountId"`
}

// mergeOAuthFile adds entries of oauth.json as "<provider>:default" oauth
// profiles. Existing profile ids are never overwritten.
func (m *Manager) mergeOAuthFile(store *Store) bool {
	raw := jsonfile.Load(paths.OAuthCredentialsPath())
	if raw == nil {
		return false
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return false
	}

	changed := false
	for provider, rawEntry := range entries {
		provider = strings.TrimSpace(provider)
		if provider == "" {
			continue
		}
		var e oauthFileEntry
		if err := json.Unmarshal(rawEntry, &e); err != nil {
			continue
		}
		if e.Access == "" && e.Refresh == "" {
			continue
		}
		id := provider + ":default"
		if _, exists := store.Profiles[id]; exists {
			continue
		}
		store.Profiles[id] = Credential{
			Type:          TypeOAuth,
			Provider:      provider,
			Access:        e.Access,
			Refresh:       e.Refresh,
			Expires:       e.Expires,
			ClientID:      e.ClientID,
			Email:         e.Email,
			EnterpriseURL: e.EnterpriseURL,
			ProjectID:     e.ProjectID,
			AccountID:     e.AccountID,
		}
		changed = true
	}
	return changed
}

// decodeStore parses a current-format document. It returns nil unless raw is
// an object with an object-valued "profiles" field. Profiles with an unknown
// type or without a provider are dropped, as are malformed side tables.
func decodeStore(raw json.RawMessage) *Store {
	if raw == nil {
		return nil
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}
	rawProfiles, ok := top["profiles"]
	if !ok {
		return nil
	}
	var profiles map[string]json.RawMessage
	if err := json.Unmarshal(rawProfiles, &profiles); err != nil || profiles == nil {
		return nil
	}

	store := NewStore()
	if v, ok := top["version"]; ok {
		var version int
		if err := json.Unmarshal(v, &version); err == nil && version > 0 {
			store.Version = version
		}
	}
	for id, rawCred := range profiles {
		if cred, ok := decodeCredential(rawCred, ""); ok {
			store.Profiles[id] = cred
		}
	}

	if v, ok := top["order"]; ok {
		var entries map[string]json.RawMessage
		if json.Unmarshal(v, &entries) == nil {
			for provider, rawList := range entries {
				var ids []string
				if json.Unmarshal(rawList, &ids) != nil {
					continue
				}
				if store.Order == nil {
					store.Order = make(map[string][]string)
				}
				store.Order[provider] = ids
			}
		}
	}
	if v, ok := top["lastGood"]; ok {
		var entries map[string]json.RawMessage
		if json.Unmarshal(v, &entries) == nil {
			for provider, rawID := range entries {
				var id string
				if json.Unmarshal(rawID, &id) != nil || id == "" {
					continue
				}
				if store.LastGood == nil {
					store.LastGood = make(map[string]string)
				}
				store.LastGood[provider] = id
			}
		}
	}
	if v, ok := top["usageStats"]; ok {
		var entries map[string]json.RawMessage
		if json.Unmarshal(v, &entries) == nil {
			for id, rawStats := range entries {
				var stats UsageStats
				if json.Unmarshal(rawStats, &stats) != nil {
					continue
				}
				store.setStats(id, stats)
			}
		}
	}
	return store
}

// decodeLegacy parses the legacy {provider: credential} map into profiles
// keyed "<provider>:default". A missing provider field is filled from the key.
func decodeLegacy(raw json.RawMessage) map[string]Credential {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}
	if _, isStore := top["profiles"]; isStore {
		return nil
	}
	out := make(map[string]Credential)
	for provider, rawCred := range top {
		cred, ok := decodeCredential(rawCred, provider)
		if !ok {
			continue
		}
		out[provider+":default"] = cred
	}
	return out
}

func decodeCredential(raw json.RawMessage, fallbackProvider string) (Credential, bool) {
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return Credential{}, false
	}
	if !cred.Type.Valid() {
		return Credential{}, false
	}
	if strings.TrimSpace(cred.Provider) == "" {
		if fallbackProvider == "" {
			return Credential{}, false
		}
		cred.Provider = fallbackProvider
	}
	return cred, true
}
