package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/token"
)

// OidcConfig is a discovered OpenID Connect provider bound to the extension's client.
type OidcConfig struct {
	OidcProvider *oidc.Provider
	OAuth2Config *oauth2.Config
	OidcVerifier *oidc.IDTokenVerifier
}

// Discover fetches the issuer's discovery document and builds the client configuration.
// The extension is a public client, so there is no client secret.
func Discover(ctx context.Context, issuer, clientID, redirectURL string) (OidcConfig, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return OidcConfig{}, fmt.Errorf("[Discover] failed to create OIDC provider: %w", err)
	}

	return OidcConfig{
		OidcProvider: provider,
		OAuth2Config: &oauth2.Config{
			ClientID:    clientID,
			Endpoint:    provider.Endpoint(),
			RedirectURL: redirectURL,
			Scopes:      []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess},
		},
		OidcVerifier: provider.Verifier(&oidc.Config{
			ClientID: clientID,
		}),
	}, nil
}

// OAuth2Exchanger implements refresh.Exchanger for any RFC 6749 token endpoint.
type OAuth2Exchanger struct {
	config *oauth2.Config
	client *http.Client
}

func NewOAuth2Exchanger(config *oauth2.Config, client *http.Client) *OAuth2Exchanger {
	return &OAuth2Exchanger{config: config, client: client}
}

func (e *OAuth2Exchanger) Exchange(ctx context.Context, refreshToken string) (token.Pair, error) {
	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}

	// An expired token forces the source to hit the token endpoint.
	src := e.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return token.Pair{}, fmt.Errorf("[OAuth2Exchanger Exchange] %w: %w", ErrInvalidGrant, err)
		}
		return token.Pair{}, fmt.Errorf("[OAuth2Exchanger Exchange] %w: %w", apperrors.ErrNetwork, err)
	}

	return token.Pair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}, nil
}
