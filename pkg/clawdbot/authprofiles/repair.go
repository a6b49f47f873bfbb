package authprofiles

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/config"
)

// SuggestOAuthProfileIDForLegacyDefault returns the oauth profile that most
// likely supersedes legacyProfileID ("<provider>:default"), or "" when the
// choice is ambiguous or does not apply.
func SuggestOAuthProfileIDForLegacyDefault(cfg *config.Config, store *Store, provider, legacyProfileID string) string {
	if profileSuffix(legacyProfileID) != "default" {
		return ""
	}
	providerKey := NormalizeProviderID(provider)

	legacyCfg, pinned := cfg.Profile(legacyProfileID)
	if pinned && NormalizeProviderID(legacyCfg.Provider) == providerKey && !config.IsOAuthMode(legacyCfg.Mode) {
		return ""
	}

	var candidates []string
	for _, id := range ListProfilesForProvider(store, providerKey) {
		if store.Profiles[id].Type == TypeOAuth {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	if email := strings.TrimSpace(legacyCfg.Email); pinned && email != "" {
		for _, id := range candidates {
			if strings.TrimSpace(store.Profiles[id].Email) == email || id == providerKey+":"+email {
				return id
			}
		}
	}

	lastGood := store.LastGood[providerKey]
	if lastGood == "" {
		lastGood = store.LastGood[provider]
	}
	if lastGood != "" && slices.Contains(candidates, lastGood) {
		return lastGood
	}

	var others []string
	for _, id := range candidates {
		if id != legacyProfileID {
			others = append(others, id)
		}
	}
	if len(others) == 1 {
		return others[0]
	}

	var emailLike []string
	for _, id := range others {
		suffix := profileSuffix(id)
		if strings.Contains(suffix, "@") && strings.Contains(suffix, ".") {
			emailLike = append(emailLike, id)
		}
	}
	if len(emailLike) == 1 {
		return emailLike[0]
	}
	return ""
}

// RepairResult describes what RepairOAuthProfileIDMismatch did.
type RepairResult struct {
	Config        *config.Config
	Changes       []string
	Migrated      bool
	FromProfileID string
	ToProfileID   string
}

// RepairOAuthProfileIDMismatch renames a stale oauth profile pin in cfg to
// the suggested replacement and rewrites the provider's configured order.
// cfg itself is not modified; the result carries a repaired copy, or cfg
// unchanged when nothing applies. legacyProfileID defaults to
// "<provider>:default".
func RepairOAuthProfileIDMismatch(cfg *config.Config, store *Store, provider, legacyProfileID string) RepairResult {
	providerKey := NormalizeProviderID(provider)
	if legacyProfileID == "" {
		legacyProfileID = providerKey + ":default"
	}
	unchanged := RepairResult{Config: cfg}

	legacyCfg, ok := cfg.Profile(legacyProfileID)
	if !ok || !config.IsOAuthMode(legacyCfg.Mode) || NormalizeProviderID(legacyCfg.Provider) != providerKey {
		return unchanged
	}
	toProfileID := SuggestOAuthProfileIDForLegacyDefault(cfg, store, provider, legacyProfileID)
	if toProfileID == "" || toProfileID == legacyProfileID {
		return unchanged
	}

	next := cfg.Clone()
	moved := legacyCfg
	if to, ok := store.Profiles[toProfileID]; ok && to.Type == TypeOAuth {
		if email := strings.TrimSpace(to.Email); email != "" {
			moved.Email = email
		}
	}
	delete(next.Auth.Profiles, legacyProfileID)
	next.Auth.Profiles[toProfileID] = moved

	for key, ids := range next.Auth.Order {
		if NormalizeProviderID(key) != providerKey {
			continue
		}
		var replaced []string
		for _, id := range ids {
			if id == legacyProfileID {
				id = toProfileID
			}
			if strings.TrimSpace(id) != "" {
				replaced = append(replaced, id)
			}
		}
		next.Auth.Order[key] = dedupe(replaced)
		break
	}

	return RepairResult{
		Config:        next,
		Changes:       []string{fmt.Sprintf("Auth: migrate %s → %s (OAuth profile id)", legacyProfileID, toProfileID)},
		Migrated:      true,
		FromProfileID: legacyProfileID,
		ToProfileID:   toProfileID,
	}
}

// FormatAuthDoctorHint builds the diagnostic block appended to refresh
// errors. It is empty unless the provider is anthropic and a replacement
// profile can be suggested. profileID defaults to "anthropic:default".
func FormatAuthDoctorHint(cfg *config.Config, store *Store, provider, profileID string) string {
	providerKey := NormalizeProviderID(provider)
	if providerKey != "anthropic" {
		return ""
	}
	if profileID == "" {
		profileID = "anthropic:default"
	}
	suggested := SuggestOAuthProfileIDForLegacyDefault(cfg, store, providerKey, profileID)
	if suggested == "" || suggested == profileID {
		return ""
	}

	var oauthIDs []string
	for _, id := range ListProfilesForProvider(store, providerKey) {
		if store.Profiles[id].Type == TypeOAuth {
			oauthIDs = append(oauthIDs, id)
		}
	}
	known := strings.Join(oauthIDs, ", ")
	if known == "" {
		known = "(none)"
	}

	cfgLine := profileID
	if pc, ok := cfg.Profile(profileID); ok && (pc.Provider != "" || pc.Mode != "") {
		cfgLine += fmt.Sprintf(" (provider=%s, mode=%s)", orUnknown(pc.Provider), orUnknown(pc.Mode))
	}

	return strings.Join([]string{
		"Doctor hint (for GitHub issue):",
		"- provider: " + providerKey,
		"- config: " + cfgLine,
		"- auth store oauth profiles: " + known,
		"- suggested profile: " + suggested,
		`Fix: run "clawdbot doctor --yes"`,
	}, "\n")
}

func orUnknown(v string) string {
	if v == "" {
		return "?"
	}
	return v
}
