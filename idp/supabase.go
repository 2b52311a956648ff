package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/token"
)

// ErrInvalidGrant is returned when the provider rejects the presented credentials.
var ErrInvalidGrant = apperrors.New("invalid grant")

const defaultHTTPTimeout = 15 * time.Second

// SupabaseClient talks to the GoTrue endpoints of a Supabase project.
type SupabaseClient struct {
	baseURL string
	anonKey string
	client  *http.Client
}

type SupabaseOption func(*SupabaseClient)

func WithHTTPClient(client *http.Client) SupabaseOption {
	return func(c *SupabaseClient) {
		c.client = client
	}
}

func NewSupabaseClient(baseURL, anonKey string, options ...SupabaseOption) *SupabaseClient {
	c := &SupabaseClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		anonKey: anonKey,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Exchange implements refresh.Exchanger against POST /auth/v1/token?grant_type=refresh_token.
func (c *SupabaseClient) Exchange(ctx context.Context, refreshToken string) (token.Pair, error) {
	resp, err := c.tokenRequest(ctx, RefreshTokenGrant, map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return token.Pair{}, fmt.Errorf("[SupabaseClient Exchange] %w", err)
	}
	return resp.Pair(), nil
}

// SignInWithPassword performs an email and password sign-in.
func (c *SupabaseClient) SignInWithPassword(ctx context.Context, email, password string) (token.Pair, error) {
	resp, err := c.tokenRequest(ctx, PasswordGrant, map[string]string{"email": email, "password": password})
	if err != nil {
		return token.Pair{}, fmt.Errorf("[SupabaseClient SignInWithPassword] %w", err)
	}
	return resp.Pair(), nil
}

// SignOut revokes the session behind accessToken. A 401 means it is already gone.
func (c *SupabaseClient) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("[SupabaseClient SignOut] %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("[SupabaseClient SignOut] %w: %w", apperrors.ErrNetwork, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode >= 300 && res.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("[SupabaseClient SignOut] unexpected status %d", res.StatusCode)
	}
	return nil
}

// AuthorizeURL returns the implicit flow entry point for an external provider (e.g. "google").
// Tokens come back in the fragment of redirectTo.
func (c *SupabaseClient) AuthorizeURL(provider, redirectTo string) string {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("redirect_to", redirectTo)
	return c.baseURL + "/auth/v1/authorize?" + q.Encode()
}

func (c *SupabaseClient) tokenRequest(ctx context.Context, grant GrantType, body map[string]string) (*TokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/auth/v1/token?grant_type=%s", c.baseURL, url.QueryEscape(string(grant)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrNetwork, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading token response: %w", apperrors.ErrNetwork, err)
	}

	switch {
	case res.StatusCode >= 500:
		return nil, fmt.Errorf("%w: token endpoint returned %d", apperrors.ErrNetwork, res.StatusCode)
	case res.StatusCode >= 400:
		var errResp ErrorResponse
		_ = json.Unmarshal(data, &errResp)
		log.Debug().Int("status", res.StatusCode).Str("grant", string(grant)).Str("error", errResp.String()).Msg("supabase: token request rejected")
		return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, errResp.String())
	}

	var tr TokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access token", ErrInvalidGrant)
	}
	return &tr, nil
}
