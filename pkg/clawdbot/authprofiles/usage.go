package authprofiles

import (
	"context"
	"math"
	"time"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/config"
)

const (
	cooldownBase = 5 * time.Minute
	cooldownMax  = time.Hour

	defaultBillingBackoff = 5 * time.Hour
	defaultBillingMax     = 24 * time.Hour
	defaultFailureWindow  = 24 * time.Hour

	minBillingBackoff = time.Minute
)

// CalculateCooldownMs returns the transient-failure cooldown after
// errorCount consecutive errors: 5m, 25m, then capped at one hour.
func CalculateCooldownMs(errorCount int) int64 {
	n := errorCount
	if n < 1 {
		n = 1
	}
	exp := n - 1
	if exp > 3 {
		exp = 3
	}
	ms := float64(cooldownBase.Milliseconds()) * math.Pow(5, float64(exp))
	return int64(math.Min(float64(cooldownMax.Milliseconds()), ms))
}

// CalculateBillingDisableMs returns the billing disable duration for the
// errorCount-th billing failure in the current window.
func CalculateBillingDisableMs(errorCount int, baseMs, maxMs int64) int64 {
	if baseMs < minBillingBackoff.Milliseconds() {
		baseMs = minBillingBackoff.Milliseconds()
	}
	if maxMs < baseMs {
		maxMs = baseMs
	}
	n := errorCount
	if n < 1 {
		n = 1
	}
	exp := n - 1
	if exp > 10 {
		exp = 10
	}
	ms := float64(baseMs) * math.Pow(2, float64(exp))
	return int64(math.Min(float64(maxMs), ms))
}

// CooldownPolicy is the resolved backoff policy for one provider.
type CooldownPolicy struct {
	BillingBackoffMs int64
	BillingMaxMs     int64
	FailureWindowMs  int64
}

// ResolveCooldownPolicy applies config overrides to the defaults. A
// per-provider billing backoff wins over the global one; non-positive
// values are ignored.
func ResolveCooldownPolicy(cfg *config.Config, provider string) CooldownPolicy {
	policy := CooldownPolicy{
		BillingBackoffMs: defaultBillingBackoff.Milliseconds(),
		BillingMaxMs:     defaultBillingMax.Milliseconds(),
		FailureWindowMs:  defaultFailureWindow.Milliseconds(),
	}
	if cfg == nil {
		return policy
	}
	c := cfg.Auth.Cooldowns
	hours := func(h float64) int64 { return int64(h * float64(time.Hour.Milliseconds())) }

	if c.BillingBackoffHours > 0 {
		policy.BillingBackoffMs = hours(c.BillingBackoffHours)
	}
	key := NormalizeProviderID(provider)
	for name, h := range c.BillingBackoffHoursByProvider {
		if NormalizeProviderID(name) == key && h > 0 {
			policy.BillingBackoffMs = hours(h)
			break
		}
	}
	if c.BillingMaxHours > 0 {
		policy.BillingMaxMs = hours(c.BillingMaxHours)
	}
	if c.FailureWindowHours > 0 {
		policy.FailureWindowMs = hours(c.FailureWindowHours)
	}
	return policy
}

// nextUsageOnFailure folds one failure into existing. Counters restart when
// the previous failure is outside the failure window.
func nextUsageOnFailure(existing UsageStats, now int64, reason FailureReason, policy CooldownPolicy) UsageStats {
	next := existing
	windowExpired := existing.LastFailureAt > 0 && existing.LastFailureAt < now-policy.FailureWindowMs
	errorCount := existing.ErrorCount
	counts := make(map[FailureReason]int, len(existing.FailureCounts)+1)
	if windowExpired {
		errorCount = 0
	} else {
		for k, v := range existing.FailureCounts {
			counts[k] = v
		}
	}
	errorCount++
	counts[reason]++

	next.ErrorCount = errorCount
	next.FailureCounts = counts
	next.LastFailureAt = now

	if reason == FailureBilling {
		next.DisabledUntil = now + CalculateBillingDisableMs(counts[reason], policy.BillingBackoffMs, policy.BillingMaxMs)
		next.DisabledReason = FailureBilling
	} else {
		next.CooldownUntil = now + CalculateCooldownMs(errorCount)
	}
	return next
}

// IsProfileInCooldown reports whether profileID is in a cooldown or a
// disabled period.
func (m *Manager) IsProfileInCooldown(store *Store, profileID string) bool {
	return store.stats(profileID).unusableUntil() > m.nowMs()
}

// MarkProfileUsed records a successful call: lastUsed moves to now and all
// error state is cleared. Unknown profiles are ignored.
func (m *Manager) MarkProfileUsed(ctx context.Context, store *Store, profileID, agentDir string) error {
	now := m.nowMs()
	return m.mutate(ctx, store, agentDir, func(s *Store) bool {
		if _, ok := s.Profiles[profileID]; !ok {
			return false
		}
		s.setStats(profileID, UsageStats{LastUsed: now})
		return true
	})
}

// MarkProfileFailure records a failed call with reason and applies the
// matching cooldown or billing disable. Unknown profiles are ignored.
func (m *Manager) MarkProfileFailure(ctx context.Context, cfg *config.Config, store *Store, profileID string, reason FailureReason, agentDir string) error {
	if reason == "" {
		reason = FailureUnknown
	}
	now := m.nowMs()
	var provider string
	err := m.mutate(ctx, store, agentDir, func(s *Store) bool {
		cred, ok := s.Profiles[profileID]
		if !ok {
			return false
		}
		provider = cred.Provider
		policy := ResolveCooldownPolicy(cfg, cred.Provider)
		s.setStats(profileID, nextUsageOnFailure(s.stats(profileID), now, reason, policy))
		return true
	})
	if provider != "" {
		m.record(eventFailure, profileID, provider, string(reason))
	}
	return err
}

// MarkProfileCooldown records a failure of unknown reason.
func (m *Manager) MarkProfileCooldown(ctx context.Context, cfg *config.Config, store *Store, profileID, agentDir string) error {
	return m.MarkProfileFailure(ctx, cfg, store, profileID, FailureUnknown, agentDir)
}

// ClearProfileCooldown resets the error count and lifts the cooldown.
// A billing disable is left in place. Unknown stats are ignored.
func (m *Manager) ClearProfileCooldown(ctx context.Context, store *Store, profileID, agentDir string) error {
	return m.mutate(ctx, store, agentDir, func(s *Store) bool {
		stats, ok := s.UsageStats[profileID]
		if !ok {
			return false
		}
		stats.ErrorCount = 0
		stats.CooldownUntil = 0
		s.setStats(profileID, stats)
		return true
	})
}

// MarkProfileGood remembers profileID as the last working profile for
// provider. Nothing happens when the profile belongs to another provider.
func (m *Manager) MarkProfileGood(ctx context.Context, store *Store, provider, profileID, agentDir string) error {
	key := NormalizeProviderID(provider)
	return m.mutate(ctx, store, agentDir, func(s *Store) bool {
		cred, ok := s.Profiles[profileID]
		if !ok || key == "" || NormalizeProviderID(cred.Provider) != key {
			return false
		}
		if s.LastGood == nil {
			s.LastGood = make(map[string]string)
		}
		s.LastGood[key] = profileID
		return true
	})
}
