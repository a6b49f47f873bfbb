package authprofiles

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/clicreds"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/filelock"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/oauth"
)

const testNow = int64(1_700_000_000_000)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeExternal struct {
	claude      *clicreds.Credential
	codex       *clicreds.Credential
	claudeReads int
	codexReads  int
	written     []clicreds.ClaudeUpdate
}

func (f *fakeExternal) ReadClaude(clicreds.ReadOptions) *clicreds.Credential {
	f.claudeReads++
	return f.claude
}

func (f *fakeExternal) ReadCodex() *clicreds.Credential {
	f.codexReads++
	return f.codex
}

func (f *fakeExternal) WriteClaude(u clicreds.ClaudeUpdate, _ clicreds.ReadOptions) (bool, error) {
	f.written = append(f.written, u)
	return true, nil
}

type fakeRefresher struct {
	calls  []string
	result *oauth.Credentials
	err    error
}

func (f *fakeRefresher) Refresh(_ context.Context, provider string, c oauth.Credentials) (*oauth.Credentials, error) {
	f.calls = append(f.calls, provider)
	return f.respond(c)
}

func (f *fakeRefresher) RefreshChutes(_ context.Context, c oauth.Credentials) (*oauth.Credentials, error) {
	f.calls = append(f.calls, "chutes:dedicated")
	return f.respond(c)
}

func (f *fakeRefresher) respond(in oauth.Credentials) (*oauth.Credentials, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return nil, nil
	}
	out := in
	out.Access = f.result.Access
	out.Refresh = f.result.Refresh
	out.Expires = f.result.Expires
	return &out, nil
}

type fakeRecorder struct{ kinds []string }

func (r *fakeRecorder) Record(kind, _, _, _ string) { r.kinds = append(r.kinds, kind) }

type testEnv struct {
	m     *Manager
	dir   string
	clock *fakeClock
	ext   *fakeExternal
	ref   *fakeRefresher
	rec   *fakeRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("CLAWDBOT_STATE_DIR", t.TempDir())
	t.Setenv("CLAWDBOT_AGENT_DIR", "")

	env := &testEnv{
		dir:   t.TempDir(),
		clock: &fakeClock{t: time.UnixMilli(testNow)},
		ext:   &fakeExternal{},
		ref:   &fakeRefresher{},
		rec:   &fakeRecorder{},
	}
	env.m = NewManager(Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		External:  env.ext,
		Refresher: env.ref,
		Recorder:  env.rec,
		Now:       env.clock.Now,
		Lock: filelock.Options{
			Retries: 1,
			Factor:  2,
			MinWait: time.Millisecond,
			MaxWait: 2 * time.Millisecond,
			Stale:   30 * time.Second,
		},
	})
	return env
}

func (e *testEnv) save(t *testing.T, s *Store) {
	t.Helper()
	if err := e.m.SaveStore(s, e.dir); err != nil {
		t.Fatalf("SaveStore: %v", err)
	}
}

func (e *testEnv) reload() *Store {
	return e.m.LoadStore(e.dir)
}

// failLocks makes every lock acquisition fail as if another process held it.
func (e *testEnv) failLocks() {
	e.m.acquire = func(context.Context, string) (unlocker, error) {
		return nil, filelock.ErrLockHeld
	}
}

func writeFile(t *testing.T, path string, v any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	var data []byte
	switch val := v.(type) {
	case string:
		data = []byte(val)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func storeWith(profiles map[string]Credential) *Store {
	s := NewStore()
	for id, c := range profiles {
		s.Profiles[id] = c
	}
	return s
}
