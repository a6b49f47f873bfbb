package authprofiles

import (
	"testing"
	"time"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/clicreds"
)

func TestSync_NeverDowngradesOAuthToToken(t *testing.T) {
	env := newTestEnv(t)
	existing := Credential{Type: TypeOAuth, Provider: "anthropic", Access: "a", Refresh: "r", Expires: testNow - 1}
	store := storeWith(map[string]Credential{ClaudeCLIProfileID: existing})
	env.ext.claude = &clicreds.Credential{Type: clicreds.TypeToken, Provider: "anthropic", Token: "tok", Expires: testNow + int64(time.Hour/time.Millisecond)}

	if env.m.SyncExternalCLICredentials(store, false) {
		t.Fatal("sync reported a change")
	}
	if store.Profiles[ClaudeCLIProfileID] != existing {
		t.Fatalf("profile changed: %+v", store.Profiles[ClaudeCLIProfileID])
	}
}

func TestSync_Precedence(t *testing.T) {
	hour := int64(time.Hour / time.Millisecond)
	oauthCred := func(access string, expires int64) *clicreds.Credential {
		return &clicreds.Credential{Type: clicreds.TypeOAuth, Provider: "anthropic", Access: access, Refresh: "r", Expires: expires}
	}

	tests := []struct {
		name     string
		existing *Credential
		read     *clicreds.Credential
		want     bool
	}{
		{
			name: "missing profile",
			read: oauthCred("new", testNow+hour),
			want: true,
		},
		{
			name:     "provider mismatch",
			existing: &Credential{Type: TypeOAuth, Provider: "openai", Access: "x", Expires: testNow + 2*hour},
			read:     oauthCred("new", testNow+hour),
			want:     true,
		},
		{
			name:     "token upgraded to oauth",
			existing: &Credential{Type: TypeToken, Provider: "anthropic", Token: "t", Expires: testNow + 5*60*1000},
			read:     oauthCred("new", testNow+hour),
			want:     true,
		},
		{
			name:     "expired existing",
			existing: &Credential{Type: TypeOAuth, Provider: "anthropic", Access: "old", Expires: testNow - 1},
			read:     oauthCred("new", testNow-500),
			want:     true,
		},
		{
			name:     "newer unexpired",
			existing: &Credential{Type: TypeOAuth, Provider: "anthropic", Access: "old", Expires: testNow + 60*1000},
			read:     oauthCred("new", testNow+hour),
			want:     true,
		},
		{
			name:     "older read ignored",
			existing: &Credential{Type: TypeOAuth, Provider: "anthropic", Access: "old", Expires: testNow + 5*60*1000},
			read:     oauthCred("new", testNow+4*60*1000),
			want:     false,
		},
		{
			name:     "identical read ignored",
			existing: &Credential{Type: TypeOAuth, Provider: "anthropic", Access: "same", Refresh: "r", Expires: testNow - 1},
			read:     oauthCred("same", testNow-1),
			want:     false,
		},
		{
			name: "nothing to read",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			store := NewStore()
			if tt.existing != nil {
				store.Profiles[ClaudeCLIProfileID] = *tt.existing
			}
			env.ext.claude = tt.read

			got := env.m.SyncExternalCLICredentials(store, false)
			if got != tt.want {
				t.Fatalf("changed = %v, want %v", got, tt.want)
			}
			if tt.want && store.Profiles[ClaudeCLIProfileID].Access != "new" {
				t.Fatalf("profile not updated: %+v", store.Profiles[ClaudeCLIProfileID])
			}
		})
	}
}

func TestSync_FreshProfileSkipsRead(t *testing.T) {
	env := newTestEnv(t)
	store := storeWith(map[string]Credential{
		ClaudeCLIProfileID: {Type: TypeOAuth, Provider: "anthropic", Access: "a", Expires: testNow + int64(time.Hour/time.Millisecond)},
		CodexCLIProfileID:  {Type: TypeToken, Provider: "openai-codex", Token: "t"},
	})

	env.m.SyncExternalCLICredentials(store, false)
	if env.ext.claudeReads != 0 || env.ext.codexReads != 0 {
		t.Fatalf("reads = %d/%d, want none for fresh profiles", env.ext.claudeReads, env.ext.codexReads)
	}

	// Inside the near-expiry window the external store is consulted again.
	env.clock.advance(55 * time.Minute)
	env.m.SyncExternalCLICredentials(store, false)
	if env.ext.claudeReads != 1 {
		t.Fatalf("claude reads = %d, want 1 near expiry", env.ext.claudeReads)
	}
	if env.ext.codexReads != 0 {
		t.Fatalf("token without expiry should stay fresh, got %d reads", env.ext.codexReads)
	}
}

func TestSync_CodexProfile(t *testing.T) {
	env := newTestEnv(t)
	store := NewStore()
	env.ext.codex = &clicreds.Credential{
		Type: clicreds.TypeOAuth, Provider: "openai-codex",
		Access: "ca", Refresh: "cr", Expires: testNow + 1000, AccountID: "acct",
	}

	if !env.m.SyncExternalCLICredentials(store, false) {
		t.Fatal("expected change")
	}
	got := store.Profiles[CodexCLIProfileID]
	want := Credential{Type: TypeOAuth, Provider: "openai-codex", Access: "ca", Refresh: "cr", Expires: testNow + 1000, AccountID: "acct"}
	if got != want {
		t.Fatalf("codex profile = %+v, want %+v", got, want)
	}
}

func TestEnsureStore_PersistsSyncedCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.ext.claude = &clicreds.Credential{Type: clicreds.TypeOAuth, Provider: "anthropic", Access: "a", Refresh: "r", Expires: testNow + 1}

	env.m.EnsureStore(env.dir)
	if _, ok := env.reload().Profiles[ClaudeCLIProfileID]; !ok {
		t.Fatal("synced profile not saved")
	}
}
