package authprofiles

import (
	"context"
	"reflect"
	"testing"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/config"
)

func TestUpsertAuthProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cred := Credential{Type: TypeAPIKey, Provider: "openai", Key: "sk"}
	if err := env.m.UpsertAuthProfile(ctx, "openai:work", cred, env.dir); err != nil {
		t.Fatal(err)
	}
	if got := env.reload().Profiles["openai:work"]; got != cred {
		t.Fatalf("stored = %+v", got)
	}

	bad := []struct {
		id   string
		cred Credential
	}{
		{"", cred},
		{"x:y", Credential{Type: "password", Provider: "x"}},
		{"x:y", Credential{Type: TypeAPIKey}},
	}
	for _, b := range bad {
		if err := env.m.UpsertAuthProfile(ctx, b.id, b.cred, env.dir); err == nil {
			t.Errorf("UpsertAuthProfile(%q, %+v) succeeded", b.id, b.cred)
		}
	}
}

func TestUpsertAuthProfile_LockFallback(t *testing.T) {
	env := newTestEnv(t)
	env.failLocks()
	cred := Credential{Type: TypeToken, Provider: "anthropic", Token: "t"}
	if err := env.m.UpsertAuthProfile(context.Background(), "anthropic:tok", cred, env.dir); err != nil {
		t.Fatal(err)
	}
	if got := env.reload().Profiles["anthropic:tok"]; got != cred {
		t.Fatalf("stored = %+v", got)
	}
}

func TestSetAuthProfileOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	store, err := env.m.SetAuthProfileOrder(ctx, "Z.AI", []string{" zai:a ", "zai:b", "", "zai:a"}, env.dir)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{"zai": {"zai:a", "zai:b"}}
	if !reflect.DeepEqual(store.Order, want) {
		t.Fatalf("order = %v, want %v", store.Order, want)
	}
	if !reflect.DeepEqual(env.reload().Order, want) {
		t.Fatal("order not persisted")
	}

	store, err = env.m.SetAuthProfileOrder(ctx, "zai", nil, env.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(store.Order) != 0 || len(env.reload().Order) != 0 {
		t.Fatalf("order not cleared: %v", store.Order)
	}

	if _, err := env.m.SetAuthProfileOrder(ctx, " ", []string{"x"}, env.dir); err == nil {
		t.Fatal("blank provider accepted")
	}
}

func TestListProfilesForProvider(t *testing.T) {
	store := storeWith(map[string]Credential{
		"b:2":      {Type: TypeAPIKey, Provider: "OpenCode-Zen", Key: "k"},
		"a:1":      {Type: TypeAPIKey, Provider: "opencode", Key: "k"},
		"openai:x": {Type: TypeAPIKey, Provider: "openai", Key: "k"},
	})
	if got, want := ListProfilesForProvider(store, "opencode"), []string{"a:1", "b:2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestResolveAuthProfileDisplayLabel(t *testing.T) {
	store := storeWith(map[string]Credential{
		"anthropic:a": {Type: TypeOAuth, Provider: "anthropic", Email: "stored@x.com"},
		"anthropic:b": {Type: TypeAPIKey, Provider: "anthropic", Key: "k"},
	})
	cfg := config.DefaultConfig()
	cfg.Auth.Profiles = map[string]config.AuthProfileConfig{"anthropic:c": {Provider: "anthropic", Email: "cfg@x.com"}}

	tests := map[string]string{
		"anthropic:a": "anthropic:a (stored@x.com)",
		"anthropic:b": "anthropic:b",
		"anthropic:c": "anthropic:c (cfg@x.com)",
	}
	for id, want := range tests {
		if got := ResolveAuthProfileDisplayLabel(cfg, store, id); got != want {
			t.Errorf("label(%s) = %q, want %q", id, got, want)
		}
	}
}
