package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/mail-dispatch/internal/mailerr"
)

const graphScope = "https://graph.microsoft.com/.default"

// newTokenSource returns a cached client-credentials token source that
// fetches tokens through client. Tokens are refreshed shortly before expiry.
func newTokenSource(tokenURL, clientID, clientSecret string, client *http.Client) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
	return cc.TokenSource(ctx)
}

// token fetches an access token. Any failure to obtain one means the relay
// credentials cannot be used.
func (t *Transport) token() (string, error) {
	tok, err := t.tokens.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return "", mailerr.Auth(fmt.Errorf("token endpoint refused credentials: %w", err))
		}
		return "", mailerr.Auth(fmt.Errorf("failed to get access token: %w", err))
	}
	return tok.AccessToken, nil
}
