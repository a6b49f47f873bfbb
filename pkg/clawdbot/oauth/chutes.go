package oauth

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

const chutesTokenURL = "https://api.chutes.ai/idp/token"

// RefreshChutes refreshes a Chutes credential. Chutes apps are registered
// per user, so the client id normally travels with the credential; the
// CHUTES_CLIENT_ID/CHUTES_CLIENT_SECRET variables cover older records.
func (c *Client) RefreshChutes(ctx context.Context, creds Credentials) (*Credentials, error) {
	if creds.Refresh == "" {
		return nil, fmt.Errorf("%w: chutes has no refresh token", ErrRefreshFailed)
	}
	clientID := firstNonEmpty(creds.ClientID, os.Getenv("CHUTES_CLIENT_ID"))
	if clientID == "" {
		return nil, fmt.Errorf("%w: chutes credential has no client id (set CHUTES_CLIENT_ID)", ErrRefreshFailed)
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: os.Getenv("CHUTES_CLIENT_SECRET"),
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL("chutes", chutesTokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	next, err := c.refreshStandard(ctx, "chutes", cfg, creds)
	if err != nil {
		return nil, err
	}
	next.ClientID = clientID
	return next, nil
}
