package authprofiles

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/config"
)

// UpsertAuthProfile adds or replaces a profile. The write goes through the
// store lock; without the lock the file is loaded, updated and saved directly.
func (m *Manager) UpsertAuthProfile(ctx context.Context, profileID string, cred Credential, agentDir string) error {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return fmt.Errorf("profile id is required")
	}
	if !cred.Type.Valid() {
		return fmt.Errorf("unknown credential type %q", cred.Type)
	}
	if strings.TrimSpace(cred.Provider) == "" {
		return fmt.Errorf("profile %s: provider is required", profileID)
	}
	return m.mutate(ctx, nil, agentDir, func(s *Store) bool {
		s.Profiles[profileID] = cred
		return true
	})
}

// ListProfilesForProvider returns the ids of all stored profiles whose
// provider normalizes to provider, sorted.
func ListProfilesForProvider(store *Store, provider string) []string {
	key := NormalizeProviderID(provider)
	var ids []string
	for id, cred := range store.Profiles {
		if NormalizeProviderID(cred.Provider) == key {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SetAuthProfileOrder stores an explicit order for provider. An empty list
// removes the override. It returns the updated store.
func (m *Manager) SetAuthProfileOrder(ctx context.Context, provider string, order []string, agentDir string) (*Store, error) {
	key := NormalizeProviderID(provider)
	if key == "" {
		return nil, fmt.Errorf("provider is required")
	}
	var ids []string
	for _, id := range order {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	ids = dedupe(ids)

	store := m.EnsureStore(agentDir)
	err := m.mutate(ctx, store, agentDir, func(s *Store) bool {
		if len(ids) == 0 {
			if _, ok := s.Order[key]; !ok {
				return false
			}
			delete(s.Order, key)
			if len(s.Order) == 0 {
				s.Order = nil
			}
			return true
		}
		if s.Order == nil {
			s.Order = make(map[string][]string)
		}
		s.Order[key] = ids
		return true
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// ResolveAuthProfileDisplayLabel renders profileID with its email when one
// is known from config or the stored credential.
func ResolveAuthProfileDisplayLabel(cfg *config.Config, store *Store, profileID string) string {
	email := ""
	if cfg != nil {
		if pc, ok := cfg.Profile(profileID); ok {
			email = strings.TrimSpace(pc.Email)
		}
	}
	if email == "" && store != nil {
		email = strings.TrimSpace(store.Profiles[profileID].Email)
	}
	if email == "" {
		return profileID
	}
	return fmt.Sprintf("%s (%s)", profileID, email)
}
