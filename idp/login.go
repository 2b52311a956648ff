package idp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/idp/flowstate"
	"github.com/hippocampus/sessionsync/token"
)

// flowStateTTL bounds how long a started login may take before its state is rejected.
const flowStateTTL = 10 * time.Minute

var ErrStateMismatch = apperrors.New("state mismatch")

// IDTokenVerifier is satisfied by *oidc.IDTokenVerifier.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// Redirect is the parsed result of an implicit flow redirect.
type Redirect struct {
	TokenResponse
	State string
}

// LoginURL builds an implicit flow authorization URL with tokens returned in the fragment.
func LoginURL(cfg *oauth2.Config, state, nonce string) string {
	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_type", string(TokenResponseType)+" id_token"),
		oauth2.SetAuthURLParam("response_mode", string(FragmentResponseMode)),
		oidc.Nonce(nonce),
	)
}

// ParseRedirect extracts the token response from the fragment of a redirect URL.
func ParseRedirect(redirectedTo string) (Redirect, error) {
	u, err := url.Parse(redirectedTo)
	if err != nil {
		return Redirect{}, fmt.Errorf("[ParseRedirect] invalid redirect url: %w", err)
	}
	params, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return Redirect{}, fmt.Errorf("[ParseRedirect] invalid fragment: %w", err)
	}

	if e := params.Get("error"); e != "" {
		desc := params.Get("error_description")
		if desc == "" {
			desc = e
		}
		return Redirect{}, fmt.Errorf("[ParseRedirect] provider error: %s", desc)
	}

	r := Redirect{
		TokenResponse: TokenResponse{
			AccessToken:  params.Get("access_token"),
			RefreshToken: params.Get("refresh_token"),
			IDToken:      params.Get("id_token"),
			TokenType:    params.Get("token_type"),
		},
		State: params.Get("state"),
	}
	if v := params.Get("expires_in"); v != "" {
		r.ExpiresIn, _ = strconv.Atoi(v)
	}
	if !r.Pair().Complete() {
		return Redirect{}, fmt.Errorf("[ParseRedirect] could not retrieve tokens from the redirect")
	}
	return r, nil
}

// Start is handed to the UI, which opens AuthURL in the browser's web auth flow and
// returns the final redirect together with State.
type Start struct {
	State   string `json:"state"`
	AuthURL string `json:"authUrl"`
}

// LoginFlow runs an interactive login in two steps. Only the UI may initiate it.
type LoginFlow struct {
	states   flowstate.Repo
	authURL  func(state, nonce string) string
	verifier IDTokenVerifier
	now      func() time.Time
}

type LoginOption func(*LoginFlow)

// WithIDTokenVerifier verifies the id_token and its nonce when the provider returns one.
func WithIDTokenVerifier(v IDTokenVerifier) LoginOption {
	return func(l *LoginFlow) {
		l.verifier = v
	}
}

func WithNowTime(now func() time.Time) LoginOption {
	return func(l *LoginFlow) {
		l.now = now
	}
}

// NewLoginFlow creates a login runner. authURL builds the provider URL for a state and nonce.
func NewLoginFlow(states flowstate.Repo, authURL func(state, nonce string) string, options ...LoginOption) *LoginFlow {
	l := &LoginFlow{
		states:  states,
		authURL: authURL,
		now:     time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Begin records a new login and returns the provider URL to open.
func (l *LoginFlow) Begin(_ context.Context) (Start, error) {
	state, nonce := randomString(24), randomString(24)
	authURL := l.authURL(state, nonce)
	if err := l.states.Put(state, flowstate.FlowState{Nonce: nonce, AuthURL: authURL, ExpiresAt: l.now().Add(flowStateTTL)}); err != nil {
		return Start{}, fmt.Errorf("[LoginFlow Begin] storing flow state: %w", err)
	}
	return Start{State: state, AuthURL: authURL}, nil
}

// Complete checks the redirect the web auth flow ended on against the login started
// with state and returns the credential pair the provider issued.
func (l *LoginFlow) Complete(ctx context.Context, state, redirectedTo string) (token.Pair, error) {
	fs, err := l.states.Take(state)
	if err != nil {
		return token.Pair{}, fmt.Errorf("[LoginFlow Complete] %w: %w", ErrStateMismatch, err)
	}

	redirect, err := ParseRedirect(redirectedTo)
	if err != nil {
		return token.Pair{}, fmt.Errorf("[LoginFlow Complete] %w", err)
	}

	// Providers that do not echo state (Supabase's implicit flow) are accepted as is.
	if redirect.State != "" && redirect.State != state {
		return token.Pair{}, fmt.Errorf("[LoginFlow Complete] %w", ErrStateMismatch)
	}

	if l.verifier != nil && redirect.IDToken != "" {
		idToken, err := l.verifier.Verify(ctx, redirect.IDToken)
		if err != nil {
			return token.Pair{}, fmt.Errorf("[LoginFlow Complete] id token: %w", err)
		}
		if idToken.Nonce != fs.Nonce {
			return token.Pair{}, fmt.Errorf("[LoginFlow Complete] id token nonce mismatch")
		}
	}

	log.Info().Str("access_fp", token.Fingerprint(redirect.AccessToken)).Msg("login: tokens received")
	return redirect.Pair(), nil
}

func randomString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
