package authprofiles

import (
	"context"
	"log/slog"
	"time"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/clicreds"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/filelock"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/oauth"
)

// ExternalCLI reads and writes the credential stores of sibling CLI tools.
type ExternalCLI interface {
	ReadClaude(opts clicreds.ReadOptions) *clicreds.Credential
	ReadCodex() *clicreds.Credential
	WriteClaude(update clicreds.ClaudeUpdate, opts clicreds.ReadOptions) (bool, error)
}

// Refresher refreshes OAuth credentials. RefreshChutes is the dedicated
// path for the Chutes provider; Refresh handles all others.
type Refresher interface {
	Refresh(ctx context.Context, provider string, creds oauth.Credentials) (*oauth.Credentials, error)
	RefreshChutes(ctx context.Context, creds oauth.Credentials) (*oauth.Credentials, error)
}

// Event kinds passed to EventRecorder.
const (
	eventRefresh       = "refresh"
	eventRefreshFailed = "refresh_failed"
	eventFailure       = "failure"
)

// EventRecorder receives auth events for the audit journal.
type EventRecorder interface {
	Record(kind, profileID, provider, detail string)
}

// Options configures a Manager. Zero values select production defaults.
type Options struct {
	Logger    *slog.Logger
	External  ExternalCLI
	Refresher Refresher
	Recorder  EventRecorder

	// Lock controls lock retries; the zero value means filelock.DefaultOptions.
	Lock filelock.Options

	// AllowKeychainPrompt lets external sync read the OS keychain.
	AllowKeychainPrompt bool

	Now func() time.Time
}

// unlocker releases a held lock.
type unlocker interface {
	Release() error
}

// Manager carries the collaborators of the auth subsystem. It holds no
// store state; callers pass the store and agent directory to each call.
type Manager struct {
	logger        *slog.Logger
	external      ExternalCLI
	refresher     Refresher
	recorder      EventRecorder
	lockOpts      filelock.Options
	allowKeychain bool
	now           func() time.Time

	// acquire takes the store lock; replaced in tests.
	acquire func(ctx context.Context, path string) (unlocker, error)
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth-profiles")

	external := opts.External
	if external == nil {
		external = clicreds.NewReader(clicreds.ReaderConfig{Logger: logger})
	}
	refresher := opts.Refresher
	if refresher == nil {
		refresher = oauth.NewClient(oauth.ClientConfig{Logger: logger})
	}
	lockOpts := opts.Lock
	if lockOpts.Retries == 0 && lockOpts.MinWait == 0 {
		lockOpts = filelock.DefaultOptions
	}
	lockOpts.Logger = logger
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		logger:        logger,
		external:      external,
		refresher:     refresher,
		recorder:      opts.Recorder,
		lockOpts:      lockOpts,
		allowKeychain: opts.AllowKeychainPrompt,
		now:           now,
	}
	m.acquire = func(ctx context.Context, path string) (unlocker, error) {
		return filelock.Acquire(ctx, path, m.lockOpts)
	}
	return m
}

func (m *Manager) nowMs() int64 {
	return m.now().UnixMilli()
}

func (m *Manager) record(kind, profileID, provider, detail string) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(kind, profileID, provider, detail)
}
