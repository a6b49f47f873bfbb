package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	anthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	anthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"
)

type anthropicRefreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// refreshAnthropic posts a JSON refresh request; the Anthropic console
// endpoint rejects form-encoded bodies.
func (c *Client) refreshAnthropic(ctx context.Context, creds Credentials) (*Credentials, error) {
	body, err := json.Marshal(anthropicRefreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: creds.Refresh,
		ClientID:     firstNonEmpty(creds.ClientID, anthropicClientID),
	})
	if err != nil {
		return nil, fmt.Errorf("oauth: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL("anthropic", anthropicTokenURL), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("oauth: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("oauth: network error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("oauth: read response: %w", err)
	}

	var tr tokenResponse
	_ = json.Unmarshal(data, &tr)
	if resp.StatusCode != http.StatusOK {
		if tr.Error != "" {
			return nil, fmt.Errorf("%w: anthropic: %s - %s", ErrRefreshFailed, tr.Error, tr.ErrorDescription)
		}
		return nil, fmt.Errorf("%w: anthropic: HTTP %d", ErrRefreshFailed, resp.StatusCode)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: anthropic: empty access token in response", ErrRefreshFailed)
	}

	next := creds
	next.Access = tr.AccessToken
	if tr.RefreshToken != "" {
		next.Refresh = tr.RefreshToken
	}
	var expiry time.Time
	if tr.ExpiresIn > 0 {
		expiry = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	next.Expires = c.expiryMillis(expiry)
	return &next, nil
}
