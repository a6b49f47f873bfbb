// Package oauth refreshes OAuth credentials for LLM providers.
//
// Most providers speak the standard refresh_token grant and go through
// golang.org/x/oauth2. Anthropic takes a JSON body instead of a form, and
// Chutes has its own client-id rules, so both get dedicated code paths.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrRefreshFailed wraps every token endpoint rejection.
	ErrRefreshFailed = errors.New("oauth: token refresh failed")

	// ErrUnsupportedProvider is returned for providers without a refresh flow.
	ErrUnsupportedProvider = errors.New("oauth: unsupported provider")
)

// expirySafetyMargin is subtracted from every expiry so a token is refreshed
// before the provider starts rejecting it.
const expirySafetyMargin = 5 * time.Minute

// Credentials are the fields a refresh may read or produce. Expires is a Unix
// epoch in milliseconds.
type Credentials struct {
	Access        string
	Refresh       string
	Expires       int64
	ClientID      string
	Email         string
	EnterpriseURL string
	ProjectID     string
	AccountID     string
}

// tokenEndpoint describes a standard refresh_token provider.
type tokenEndpoint struct {
	tokenURL        string
	defaultClientID string
	clientIDEnv     string
	clientSecretEnv string
}

var standardProviders = map[string]tokenEndpoint{
	"openai-codex": {
		tokenURL:        "https://auth.openai.com/oauth/token",
		defaultClientID: "app_EMoamEEZ73f0CkXaXp7hrann",
		clientIDEnv:     "OPENAI_CODEX_OAUTH_CLIENT_ID",
	},
	"google-gemini-cli": {
		tokenURL:        "https://oauth2.googleapis.com/token",
		clientIDEnv:     "GEMINI_CLI_OAUTH_CLIENT_ID",
		clientSecretEnv: "GEMINI_CLI_OAUTH_CLIENT_SECRET",
	},
	"google-antigravity": {
		tokenURL:        "https://oauth2.googleapis.com/token",
		clientIDEnv:     "ANTIGRAVITY_OAUTH_CLIENT_ID",
		clientSecretEnv: "ANTIGRAVITY_OAUTH_CLIENT_SECRET",
	},
	"qwen-portal": {
		tokenURL:        "https://chat.qwen.ai/api/v1/oauth2/token",
		defaultClientID: "f0304373b74a44d2b584a3fb70ca9e56",
		clientIDEnv:     "QWEN_OAUTH_CLIENT_ID",
	},
}

// Client performs refreshes.
type Client struct {
	http      *http.Client
	logger    *slog.Logger
	now       func() time.Time
	tokenURLs map[string]string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Logger     *slog.Logger
	HTTPClient *http.Client

	// TokenURLs overrides token endpoints per provider ("anthropic",
	// "chutes", or any standard provider id).
	TokenURLs map[string]string

	Now func() time.Time
}

// NewClient creates a refresh client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		http:      httpClient,
		logger:    logger.With("component", "oauth-refresh"),
		now:       now,
		tokenURLs: cfg.TokenURLs,
	}
}

// Refresh exchanges the refresh token of creds for a new access token.
// Fields the endpoint does not return are carried over from creds.
func (c *Client) Refresh(ctx context.Context, provider string, creds Credentials) (*Credentials, error) {
	if strings.TrimSpace(creds.Refresh) == "" {
		return nil, fmt.Errorf("%w: %s has no refresh token", ErrRefreshFailed, provider)
	}
	if provider == "anthropic" {
		return c.refreshAnthropic(ctx, creds)
	}
	ep, ok := standardProviders[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	clientID := firstNonEmpty(creds.ClientID, os.Getenv(ep.clientIDEnv), ep.defaultClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: no client id for %s (set %s)", ErrRefreshFailed, provider, ep.clientIDEnv)
	}
	clientSecret := ""
	if ep.clientSecretEnv != "" {
		clientSecret = os.Getenv(ep.clientSecretEnv)
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL(provider, ep.tokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return c.refreshStandard(ctx, provider, cfg, creds)
}

// refreshStandard runs the refresh_token grant through x/oauth2.
func (c *Client) refreshStandard(ctx context.Context, provider string, cfg *oauth2.Config, creds Credentials) (*Credentials, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.Refresh})

	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			detail := re.ErrorCode
			if re.ErrorDescription != "" {
				detail += " - " + re.ErrorDescription
			}
			if detail == "" && re.Response != nil {
				detail = fmt.Sprintf("HTTP %d", re.Response.StatusCode)
			}
			return nil, fmt.Errorf("%w: %s: %s", ErrRefreshFailed, provider, detail)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrRefreshFailed, provider, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s: empty access token in response", ErrRefreshFailed, provider)
	}

	next := creds
	next.Access = tok.AccessToken
	if tok.RefreshToken != "" {
		next.Refresh = tok.RefreshToken
	}
	next.Expires = c.expiryMillis(tok.Expiry)

	c.logger.Debug("refreshed oauth token", "provider", provider, "expires", next.Expires)
	return &next, nil
}

func (c *Client) expiryMillis(expiry time.Time) int64 {
	if expiry.IsZero() {
		expiry = c.now().Add(time.Hour)
	}
	return expiry.Add(-expirySafetyMargin).UnixMilli()
}

func (c *Client) tokenURL(provider, fallback string) string {
	if u, ok := c.tokenURLs[provider]; ok && u != "" {
		return u
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
