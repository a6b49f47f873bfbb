package clicreds

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/jsonfile"
)

const (
	// claudeKeychainService is the keychain item Claude Code stores its
	// credentials under.
	claudeKeychainService = "Claude Code-credentials"

	claudeProvider = "anthropic"
)

// claudeCredentialsFile mirrors ~/.claude/.credentials.json.
type claudeCredentialsFile struct {
	ClaudeAiOauth *struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresAt    int64  `json:"expiresAt"`
	} `json:"claudeAiOauth"`
}

func (r *Reader) claudeCredentialsPath() string {
	home, err := r.home()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".claude", ".credentials.json")
}

func keychainAccount() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func (r *Reader) readClaude(opts ReadOptions) *Credential {
	if opts.AllowKeychainPrompt {
		if account := keychainAccount(); account != "" {
			if raw, err := keyring.Get(claudeKeychainService, account); err == nil {
				if cred := parseClaudeCredentials([]byte(raw)); cred != nil {
					r.logger.Debug("read claude cli credentials from keychain")
					return cred
				}
			}
		}
	}

	path := r.claudeCredentialsPath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	cred := parseClaudeCredentials(data)
	if cred != nil {
		r.logger.Debug("read claude cli credentials from file", "path", path)
	}
	return cred
}

// parseClaudeCredentials turns the Claude Code JSON into a Credential. A
// refresh token makes it an oauth credential; otherwise it is a token.
func parseClaudeCredentials(data []byte) *Credential {
	var file claudeCredentialsFile
	if err := json.Unmarshal(data, &file); err != nil || file.ClaudeAiOauth == nil {
		return nil
	}
	o := file.ClaudeAiOauth
	access := strings.TrimSpace(o.AccessToken)
	if access == "" {
		return nil
	}
	refresh := strings.TrimSpace(o.RefreshToken)
	if refresh != "" {
		return &Credential{
			Type:     TypeOAuth,
			Provider: claudeProvider,
			Access:   access,
			Refresh:  refresh,
			Expires:  o.ExpiresAt,
		}
	}
	return &Credential{
		Type:     TypeToken,
		Provider: claudeProvider,
		Token:    access,
		Expires:  o.ExpiresAt,
	}
}

// ClaudeUpdate carries refreshed tokens for WriteClaude.
type ClaudeUpdate struct {
	Access  string
	Refresh string
	Expires int64
}

// WriteClaude pushes refreshed tokens into Claude Code's own store. The
// keychain item is updated when it exists (and keychain access is allowed),
// otherwise the credentials file. Unknown fields are preserved. It returns
// false without error when Claude Code has no store we can update.
func (r *Reader) WriteClaude(update ClaudeUpdate, opts ReadOptions) (bool, error) {
	if update.Access == "" {
		return false, fmt.Errorf("refusing to write empty access token")
	}
	defer r.Invalidate()

	if opts.AllowKeychainPrompt {
		if account := keychainAccount(); account != "" {
			if raw, err := keyring.Get(claudeKeychainService, account); err == nil {
				next, err := mergeClaudeUpdate([]byte(raw), update)
				if err != nil {
					return false, err
				}
				if err := keyring.Set(claudeKeychainService, account, string(next)); err != nil {
					return false, fmt.Errorf("updating claude keychain item: %w", err)
				}
				return true, nil
			}
		}
	}

	path := r.claudeCredentialsPath()
	if path == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyClaudeUpdate(raw, update)
	if err := jsonfile.Save(path, raw); err != nil {
		return false, err
	}
	return true, nil
}

func mergeClaudeUpdate(data []byte, update ClaudeUpdate) ([]byte, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing claude keychain item: %w", err)
	}
	applyClaudeUpdate(raw, update)
	return json.Marshal(raw)
}

func applyClaudeUpdate(raw map[string]any, update ClaudeUpdate) {
	section, ok := raw["claudeAiOauth"].(map[string]any)
	if !ok {
		section = make(map[string]any)
		raw["claudeAiOauth"] = section
	}
	section["accessToken"] = update.Access
	if update.Refresh != "" {
		section["refreshToken"] = update.Refresh
	}
	section["expiresAt"] = update.Expires
}
