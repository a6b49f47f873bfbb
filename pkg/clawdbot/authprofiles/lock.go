package authprofiles

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/paths"
)

// UpdateStoreWithLock runs updater against a freshly loaded store while
// holding the inter-process lock on auth-profiles.json. The store is saved
// only when updater returns true. It returns the fresh store, or nil when the
// lock could not be taken or the save failed; callers then fall back to a
// direct mutation.
func (m *Manager) UpdateStoreWithLock(ctx context.Context, agentDir string, updater func(*Store) bool) *Store {
	storePath := paths.AuthStorePath(agentDir)
	if err := m.ensureStoreFile(storePath, agentDir); err != nil {
		m.logger.Warn("failed to create auth profile store", "path", storePath, "error", err)
		return nil
	}

	lock, err := m.acquire(ctx, storePath)
	if err != nil {
		m.logger.Debug("auth profile store lock unavailable", "path", storePath, "error", err)
		return nil
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.logger.Debug("failed to release auth profile store lock", "error", err)
		}
	}()

	store := m.EnsureStore(agentDir)
	if !updater(store) {
		return store
	}
	if err := m.SaveStore(store, agentDir); err != nil {
		m.logger.Warn("failed to save auth profile store", "path", storePath, "error", err)
		return nil
	}
	return store
}

// mutate applies fn under the lock and copies the result onto store. When
// the lock is unavailable fn is applied to store directly and saved.
func (m *Manager) mutate(ctx context.Context, store *Store, agentDir string, fn func(*Store) bool) error {
	if updated := m.UpdateStoreWithLock(ctx, agentDir, fn); updated != nil {
		if store != nil {
			store.adopt(updated)
		}
		return nil
	}
	if store == nil {
		store = m.EnsureStore(agentDir)
	}
	if !fn(store) {
		return nil
	}
	return m.SaveStore(store, agentDir)
}

// ensureStoreFile makes sure there is a file to lock. A first load runs the
// legacy migration; if nothing was written an empty store is created.
func (m *Manager) ensureStoreFile(storePath, agentDir string) error {
	exists := func() (bool, error) {
		_, err := os.Stat(storePath)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if ok, err := exists(); ok || err != nil {
		return err
	}
	m.EnsureStore(agentDir)
	if ok, err := exists(); ok || err != nil {
		return err
	}
	return m.SaveStore(NewStore(), agentDir)
}
