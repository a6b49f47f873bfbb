package authprofiles

import (
	"sort"
	"strings"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/config"
)

// ResolveAuthProfileOrder returns the candidate profile ids for provider in
// the order they should be tried. An explicit order (store first, then
// config) is respected as given; otherwise profiles rotate round robin by
// credential type and least recent use. Profiles in cooldown or disabled go
// last, soonest expiry first. preferredProfile, when eligible, is moved to
// the front.
func (m *Manager) ResolveAuthProfileOrder(cfg *config.Config, store *Store, provider, preferredProfile string) []string {
	providerKey := NormalizeProviderID(provider)
	now := m.nowMs()

	explicit := lookupOrder(store.Order, providerKey)
	if explicit == nil && cfg != nil {
		explicit = lookupOrder(cfg.Auth.Order, providerKey)
	}

	var base []string
	switch {
	case explicit != nil:
		base = explicit
	case cfg != nil:
		base = configuredProfilesFor(cfg, providerKey)
	}
	if len(base) == 0 && explicit == nil {
		base = ListProfilesForProvider(store, provider)
	}

	var candidates []string
	for _, id := range base {
		if eligible(cfg, store, id, providerKey, now) {
			candidates = append(candidates, id)
		}
	}
	candidates = dedupe(candidates)

	var ordered []string
	if explicit != nil {
		ordered = orderExplicit(store, candidates, now)
	} else {
		ordered = orderRoundRobin(store, candidates, now)
	}

	if preferredProfile != "" {
		for i, id := range ordered {
			if id == preferredProfile {
				out := make([]string, 0, len(ordered))
				out = append(out, id)
				out = append(out, ordered[:i]...)
				out = append(out, ordered[i+1:]...)
				return out
			}
		}
	}
	return ordered
}

func lookupOrder(orders map[string][]string, providerKey string) []string {
	for key, ids := range orders {
		if NormalizeProviderID(key) == providerKey {
			if ids == nil {
				return []string{}
			}
			return ids
		}
	}
	return nil
}

func configuredProfilesFor(cfg *config.Config, providerKey string) []string {
	var ids []string
	for id, pc := range cfg.Auth.Profiles {
		if NormalizeProviderID(pc.Provider) == providerKey {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// modeCompatible reports whether a configured mode accepts a stored type.
// An oauth pin also accepts a token credential.
func modeCompatible(mode string, t CredentialType) bool {
	if CredentialType(mode) == t {
		return true
	}
	return config.IsOAuthMode(mode) && t == TypeToken
}

func eligible(cfg *config.Config, store *Store, profileID, providerKey string, now int64) bool {
	cred, ok := store.Profiles[profileID]
	if !ok {
		return false
	}
	if NormalizeProviderID(cred.Provider) != providerKey {
		return false
	}
	if cfg != nil {
		if pc, pinned := cfg.Profile(profileID); pinned {
			if NormalizeProviderID(pc.Provider) != providerKey {
				return false
			}
			if pc.Mode != "" && !modeCompatible(pc.Mode, cred.Type) {
				return false
			}
		}
	}
	switch cred.Type {
	case TypeAPIKey:
		return strings.TrimSpace(cred.Key) != ""
	case TypeToken:
		if strings.TrimSpace(cred.Token) == "" {
			return false
		}
		return cred.Expires <= 0 || now < cred.Expires
	case TypeOAuth:
		return strings.TrimSpace(cred.Access) != "" || strings.TrimSpace(cred.Refresh) != ""
	}
	return false
}

type cooling struct {
	id    string
	until int64
}

// partition splits ids into available ones and ones held back until a
// future time, the latter sorted by soonest expiry.
func partition(store *Store, ids []string, now int64) (available []string, held []string) {
	var waiting []cooling
	for _, id := range ids {
		until := store.stats(id).unusableUntil()
		if until > now {
			waiting = append(waiting, cooling{id: id, until: until})
			continue
		}
		available = append(available, id)
	}
	sort.SliceStable(waiting, func(i, j int) bool { return waiting[i].until < waiting[j].until })
	for _, w := range waiting {
		held = append(held, w.id)
	}
	return available, held
}

func orderExplicit(store *Store, ids []string, now int64) []string {
	available, held := partition(store, ids, now)
	return append(available, held...)
}

func typeScore(t CredentialType) int {
	switch t {
	case TypeOAuth:
		return 0
	case TypeToken:
		return 1
	case TypeAPIKey:
		return 2
	}
	return 3
}

func orderRoundRobin(store *Store, ids []string, now int64) []string {
	available, held := partition(store, ids, now)
	sort.SliceStable(available, func(i, j int) bool {
		a, b := available[i], available[j]
		sa, sb := typeScore(store.Profiles[a].Type), typeScore(store.Profiles[b].Type)
		if sa != sb {
			return sa < sb
		}
		return store.stats(a).LastUsed < store.stats(b).LastUsed
	})
	return append(available, held...)
}
