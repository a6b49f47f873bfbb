package clicreds

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const codexProvider = "openai-codex"

// codexAuthFile mirrors $CODEX_HOME/auth.json.
type codexAuthFile struct {
	Tokens *struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		AccountID    string `json:"account_id"`
	} `json:"tokens"`
}

func (r *Reader) codexAuthPath() string {
	if codexHome := strings.TrimSpace(os.Getenv("CODEX_HOME")); codexHome != "" {
		return filepath.Join(codexHome, "auth.json")
	}
	home, err := r.home()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".codex", "auth.json")
}

func (r *Reader) readCodex() *Credential {
	path := r.codexAuthPath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var auth codexAuthFile
	if err := json.Unmarshal(data, &auth); err != nil || auth.Tokens == nil {
		r.logger.Debug("codex auth file unusable", "path", path, "error", err)
		return nil
	}
	access := strings.TrimSpace(auth.Tokens.AccessToken)
	refresh := strings.TrimSpace(auth.Tokens.RefreshToken)
	if access == "" || refresh == "" {
		return nil
	}

	expires := jwtExpiryMillis(access)
	if expires == 0 {
		// No exp claim: assume the CLI refreshed when it last wrote the file.
		if info, err := os.Stat(path); err == nil {
			expires = info.ModTime().Add(time.Hour).UnixMilli()
		}
	}

	return &Credential{
		Type:      TypeOAuth,
		Provider:  codexProvider,
		Access:    access,
		Refresh:   refresh,
		Expires:   expires,
		AccountID: strings.TrimSpace(auth.Tokens.AccountID),
	}
}

// jwtExpiryMillis extracts the exp claim of a JWT without verifying it.
func jwtExpiryMillis(token string) int64 {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return 0
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.Unix() <= 0 {
		return 0
	}
	return claims.ExpiresAt.UnixMilli()
}
