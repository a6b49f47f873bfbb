package authprofiles

import (
	"context"
	"testing"
	"time"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/config"
)

func TestCalculateCooldownMs(t *testing.T) {
	tests := []struct {
		errors int
		want   int64
	}{
		{0, 300_000},
		{1, 300_000},
		{2, 1_500_000},
		{3, 3_600_000},
		{4, 3_600_000},
		{10, 3_600_000},
	}
	for _, tt := range tests {
		if got := CalculateCooldownMs(tt.errors); got != tt.want {
			t.Errorf("CalculateCooldownMs(%d) = %d, want %d", tt.errors, got, tt.want)
		}
	}
	for n := 1; n < 50; n++ {
		if CalculateCooldownMs(n) > CalculateCooldownMs(n+1) {
			t.Fatalf("cooldown not monotonic at %d", n)
		}
		if CalculateCooldownMs(n) > 3_600_000 {
			t.Fatalf("cooldown above cap at %d", n)
		}
	}
}

func TestCalculateBillingDisableMs(t *testing.T) {
	hour := int64(time.Hour / time.Millisecond)
	tests := []struct {
		name      string
		count     int
		base, max int64
		want      int64
	}{
		{"first", 1, 5 * hour, 24 * hour, 5 * hour},
		{"second", 2, 5 * hour, 24 * hour, 10 * hour},
		{"capped", 4, 5 * hour, 24 * hour, 24 * hour},
		{"base floor", 1, 10, 24 * hour, 60_000},
		{"exponent cap", 40, 60_000, 1 << 40, 60_000 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateBillingDisableMs(tt.count, tt.base, tt.max); got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolveCooldownPolicy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.Cooldowns = config.AuthCooldownConfig{
		BillingBackoffHours:           2,
		BillingBackoffHoursByProvider: map[string]float64{"Z.AI": 1},
		BillingMaxHours:               12,
		FailureWindowHours:            -1,
	}
	hour := int64(time.Hour / time.Millisecond)

	got := ResolveCooldownPolicy(cfg, "zai")
	want := CooldownPolicy{BillingBackoffMs: hour, BillingMaxMs: 12 * hour, FailureWindowMs: 24 * hour}
	if got != want {
		t.Errorf("zai policy = %+v, want %+v", got, want)
	}
	if got := ResolveCooldownPolicy(cfg, "openai").BillingBackoffMs; got != 2*hour {
		t.Errorf("openai backoff = %d, want %d", got, 2*hour)
	}
	if got := ResolveCooldownPolicy(nil, "openai").BillingBackoffMs; got != 5*hour {
		t.Errorf("default backoff = %d", got)
	}
}

func TestMarkFailure_BillingDisables(t *testing.T) {
	env := newTestEnv(t)
	store := storeWith(map[string]Credential{"openai:a": {Type: TypeAPIKey, Provider: "openai", Key: "k"}})
	env.save(t, store)

	if err := env.m.MarkProfileFailure(context.Background(), nil, store, "openai:a", FailureBilling, env.dir); err != nil {
		t.Fatal(err)
	}
	stats := store.UsageStats["openai:a"]
	if want := testNow + int64(5*time.Hour/time.Millisecond); stats.DisabledUntil != want {
		t.Errorf("disabledUntil = %d, want %d", stats.DisabledUntil, want)
	}
	if stats.DisabledReason != FailureBilling {
		t.Errorf("disabledReason = %q", stats.DisabledReason)
	}
	if stats.CooldownUntil != 0 {
		t.Errorf("cooldownUntil = %d, want unset", stats.CooldownUntil)
	}
	if stats.ErrorCount != 1 || stats.FailureCounts[FailureBilling] != 1 {
		t.Errorf("counters = %d %v", stats.ErrorCount, stats.FailureCounts)
	}
	if !env.m.IsProfileInCooldown(store, "openai:a") {
		t.Error("disabled profile should count as in cooldown")
	}
	if got := env.reload().UsageStats["openai:a"]; got.DisabledUntil != stats.DisabledUntil {
		t.Error("failure not persisted")
	}
	if len(env.rec.kinds) != 1 || env.rec.kinds[0] != "failure" {
		t.Errorf("recorded = %v", env.rec.kinds)
	}
}

func TestMarkFailure_EscalatesAndWindowResets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := storeWith(map[string]Credential{"openai:a": {Type: TypeAPIKey, Provider: "openai", Key: "k"}})
	env.save(t, store)

	for i := 0; i < 2; i++ {
		if err := env.m.MarkProfileFailure(ctx, nil, store, "openai:a", FailureRateLimit, env.dir); err != nil {
			t.Fatal(err)
		}
	}
	stats := store.UsageStats["openai:a"]
	if stats.ErrorCount != 2 || stats.CooldownUntil != testNow+1_500_000 {
		t.Fatalf("after two failures: %+v", stats)
	}

	env.clock.advance(25 * time.Hour)
	if err := env.m.MarkProfileCooldown(ctx, nil, store, "openai:a", env.dir); err != nil {
		t.Fatal(err)
	}
	stats = store.UsageStats["openai:a"]
	if stats.ErrorCount != 1 {
		t.Errorf("errorCount = %d, want reset to 1", stats.ErrorCount)
	}
	if stats.FailureCounts[FailureRateLimit] != 0 || stats.FailureCounts[FailureUnknown] != 1 {
		t.Errorf("failureCounts = %v", stats.FailureCounts)
	}
}

func TestMarkUsed_ClearsErrorState(t *testing.T) {
	env := newTestEnv(t)
	store := storeWith(map[string]Credential{"openai:a": {Type: TypeAPIKey, Provider: "openai", Key: "k"}})
	store.UsageStats = map[string]UsageStats{"openai:a": {
		CooldownUntil: testNow + 1000, DisabledUntil: testNow + 2000, DisabledReason: FailureBilling,
		ErrorCount: 3, FailureCounts: map[FailureReason]int{FailureAuth: 3}, LastFailureAt: testNow - 1,
	}}
	env.save(t, store)

	if err := env.m.MarkProfileUsed(context.Background(), store, "openai:a", env.dir); err != nil {
		t.Fatal(err)
	}
	want := UsageStats{LastUsed: testNow}
	got := store.UsageStats["openai:a"]
	if got.LastUsed != want.LastUsed || got.ErrorCount != 0 || got.CooldownUntil != 0 || got.DisabledUntil != 0 || got.FailureCounts != nil {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
	if env.reload().UsageStats["openai:a"].LastUsed != testNow {
		t.Error("mark used not persisted")
	}
}

func TestMarkUsed_LockContentionFallback(t *testing.T) {
	env := newTestEnv(t)
	env.failLocks()
	store := storeWith(map[string]Credential{"openai:a": {Type: TypeAPIKey, Provider: "openai", Key: "k"}})

	if err := env.m.MarkProfileUsed(context.Background(), store, "openai:a", env.dir); err != nil {
		t.Fatal(err)
	}
	if store.UsageStats["openai:a"].LastUsed != testNow {
		t.Fatalf("in-memory store not updated: %+v", store.UsageStats)
	}
	persisted := env.reload()
	if persisted.UsageStats["openai:a"].LastUsed != testNow {
		t.Fatalf("fallback did not persist: %+v", persisted.UsageStats)
	}
	if _, ok := persisted.Profiles["openai:a"]; !ok {
		t.Fatal("fallback lost profiles")
	}
}

func TestMarkUsed_UnknownProfileIgnored(t *testing.T) {
	env := newTestEnv(t)
	store := NewStore()
	if err := env.m.MarkProfileUsed(context.Background(), store, "nope:x", env.dir); err != nil {
		t.Fatal(err)
	}
	if len(store.UsageStats) != 0 {
		t.Fatalf("stats created for unknown profile: %v", store.UsageStats)
	}
}

func TestClearCooldown(t *testing.T) {
	env := newTestEnv(t)
	store := storeWith(map[string]Credential{"openai:a": {Type: TypeAPIKey, Provider: "openai", Key: "k"}})
	store.UsageStats = map[string]UsageStats{"openai:a": {CooldownUntil: testNow + 1000, ErrorCount: 2, DisabledUntil: testNow + 5000}}
	env.save(t, store)

	if err := env.m.ClearProfileCooldown(context.Background(), store, "openai:a", env.dir); err != nil {
		t.Fatal(err)
	}
	got := store.UsageStats["openai:a"]
	if got.CooldownUntil != 0 || got.ErrorCount != 0 {
		t.Fatalf("cooldown not cleared: %+v", got)
	}
	if got.DisabledUntil != testNow+5000 {
		t.Fatalf("billing disable should survive clear: %+v", got)
	}
}

func TestMarkGood(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := storeWith(map[string]Credential{"anthropic:a": {Type: TypeAPIKey, Provider: "anthropic", Key: "k"}})
	env.save(t, store)

	if err := env.m.MarkProfileGood(ctx, store, "openai", "anthropic:a", env.dir); err != nil {
		t.Fatal(err)
	}
	if len(store.LastGood) != 0 {
		t.Fatalf("lastGood set for mismatched provider: %v", store.LastGood)
	}
	if err := env.m.MarkProfileGood(ctx, store, "anthropic", "anthropic:a", env.dir); err != nil {
		t.Fatal(err)
	}
	if store.LastGood["anthropic"] != "anthropic:a" {
		t.Fatalf("lastGood = %v", store.LastGood)
	}
}

func TestMarkGood_NormalizesProvider(t *testing.T) {
	env := newTestEnv(t)
	store := storeWith(map[string]Credential{
		"zai:work": {Type: TypeAPIKey, Provider: "Z.AI", Key: "k"},
	})
	env.save(t, store)

	if err := env.m.MarkProfileGood(context.Background(), store, "z-ai", "zai:work", env.dir); err != nil {
		t.Fatal(err)
	}
	if got := store.LastGood; len(got) != 1 || got["zai"] != "zai:work" {
		t.Fatalf("lastGood = %v, want keyed by normalized provider", got)
	}
	if got := env.reload().LastGood["zai"]; got != "zai:work" {
		t.Errorf("persisted lastGood = %q", got)
	}
}
