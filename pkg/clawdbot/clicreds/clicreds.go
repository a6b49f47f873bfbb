// Package clicreds reads credentials that sibling command-line tools (Claude
// Code and the Codex CLI) keep in their own stores, and writes refreshed
// Claude Code credentials back so the tool keeps working after the gateway
// rotates its tokens.
//
// Reads are cached for a TTL because they may hit the OS keychain, which can
// be slow or prompt the user.
package clicreds

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	// DefaultTTL bounds how often an external store is re-read.
	DefaultTTL = 15 * time.Minute

	// TypeOAuth marks a refreshable credential.
	TypeOAuth = "oauth"

	// TypeToken marks an access token without a refresh token.
	TypeToken = "token"
)

// Credential is what an external tool hands us. Type is TypeOAuth or TypeToken.
type Credential struct {
	Type     string
	Provider string

	// Access and Refresh are set for TypeOAuth.
	Access  string
	Refresh string

	// Token is set for TypeToken.
	Token string

	// Expires is a Unix epoch in milliseconds. Zero means unknown.
	Expires int64

	AccountID string
	Email     string
}

// ReadOptions tunes a single read.
type ReadOptions struct {
	// AllowKeychainPrompt permits reading the OS keychain, which may show an
	// interactive prompt on macOS. When false only credential files are read.
	AllowKeychainPrompt bool
}

type cacheEntry struct {
	cred     *Credential
	readAt   time.Time
	keychain bool
	valid    bool
}

// Reader reads and caches external CLI credentials.
type Reader struct {
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
	home   func() (string, error)

	mu     sync.Mutex
	claude cacheEntry
	codex  cacheEntry
}

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	Logger *slog.Logger

	// TTL defaults to DefaultTTL.
	TTL time.Duration

	// Now and HomeDir are overridable for tests.
	Now     func() time.Time
	HomeDir func() (string, error)
}

// NewReader creates a Reader.
func NewReader(cfg ReaderConfig) *Reader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	home := cfg.HomeDir
	if home == nil {
		home = os.UserHomeDir
	}
	return &Reader{
		logger: logger.With("component", "clicreds"),
		ttl:    ttl,
		now:    now,
		home:   home,
	}
}

// ReadClaude returns the Claude Code credential, or nil when none is found.
func (r *Reader) ReadClaude(opts ReadOptions) *Credential {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.claude.valid && r.claude.keychain == opts.AllowKeychainPrompt && now.Sub(r.claude.readAt) < r.ttl {
		return cloneCredential(r.claude.cred)
	}
	cred := r.readClaude(opts)
	r.claude = cacheEntry{cred: cred, readAt: now, keychain: opts.AllowKeychainPrompt, valid: true}
	return cloneCredential(cred)
}

// ReadCodex returns the Codex CLI credential, or nil when none is found.
func (r *Reader) ReadCodex() *Credential {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.codex.valid && now.Sub(r.codex.readAt) < r.ttl {
		return cloneCredential(r.codex.cred)
	}
	cred := r.readCodex()
	r.codex = cacheEntry{cred: cred, readAt: now, valid: true}
	return cloneCredential(cred)
}

// Invalidate drops cached reads so the next call hits the stores again.
func (r *Reader) Invalidate() {
	r.mu.Lock()
	r.claude = cacheEntry{}
	r.codex = cacheEntry{}
	r.mu.Unlock()
}

func cloneCredential(c *Credential) *Credential {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}
