package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hippocampus/sessionsync/internal/config"
	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/internal/utils"
	"github.com/hippocampus/sessionsync/token"
)

const (
	StatusPath = "/auth/status"
	LogoutPath = "/auth/logout"
)

// Result is the backend's verdict on the stored access token.
type Result struct {
	Authenticated   bool
	TokenValid      bool
	HasRefreshToken bool
	User            *User
}

type statusResponse struct {
	IsAuthenticated bool    `json:"is_authenticated"`
	TokenValid      bool    `json:"token_valid"`
	HasAccessToken  bool    `json:"has_access_token"`
	HasRefreshToken bool    `json:"has_refresh_token"`
	UserID          *string `json:"user_id"`
	UserEmail       *string `json:"user_email"`
	FullName        *string `json:"full_name"`
	UserName        *string `json:"user_name"`
	Picture         *string `json:"picture"`
	UserPicture     *string `json:"user_picture"`
}

// Validator asks the backend whether the stored access token is accepted. It never refreshes.
type Validator struct {
	store      *token.Store
	backendURL string
	client     *http.Client
	timeout    time.Duration
}

type ValidatorOption func(*Validator)

func WithHTTPClient(client *http.Client) ValidatorOption {
	return func(v *Validator) {
		v.client = client
	}
}

func NewValidator(store *token.Store, backendURL string, cfg config.SessionConfig, options ...ValidatorOption) *Validator {
	v := &Validator{
		store:      store,
		backendURL: backendURL,
		client:     http.DefaultClient,
		timeout:    cfg.GetStatusCheckTimeout(),
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// Validate checks the stored access token. Transport failures, timeouts and unexpected
// statuses return a zero Result with an error wrapping errors.ErrNetwork; a 401 is an
// authoritative "invalid" and returns no error.
func (v *Validator) Validate(ctx context.Context) (Result, error) {
	pair, _ := v.store.Get(ctx)
	hasRefresh := pair.RefreshToken != ""
	if pair.AccessToken == "" {
		return Result{HasRefreshToken: hasRefresh}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.backendURL+StatusPath, nil)
	if err != nil {
		return Result{}, fmt.Errorf("[Validator Validate] %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.Header.Set("Accept", "application/json")

	res, err := v.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("validator: status check failed")
		return Result{}, fmt.Errorf("[Validator Validate] %w: %w", apperrors.ErrNetwork, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, res.Body)
		return Result{HasRefreshToken: hasRefresh}, nil
	default:
		_, _ = io.Copy(io.Discard, res.Body)
		return Result{}, fmt.Errorf("[Validator Validate] %w: status check returned %d", apperrors.ErrNetwork, res.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("[Validator Validate] %w: decoding status: %w", apperrors.ErrNetwork, err)
	}

	result := Result{
		TokenValid:      body.TokenValid,
		HasRefreshToken: hasRefresh || body.HasRefreshToken,
	}
	if body.IsAuthenticated && body.TokenValid && utils.Value(body.UserID) != "" {
		result.Authenticated = true
		result.User = mergeUser(&User{
			ID:          utils.Value(body.UserID),
			Email:       utils.Value(body.UserEmail),
			DisplayName: utils.Coalesce(body.FullName, body.UserName),
			PictureURL:  utils.Coalesce(body.Picture, body.UserPicture),
		}, userFromClaims(pair.AccessToken))
	}
	log.Debug().Bool("authenticated", result.Authenticated).Bool("token_valid", result.TokenValid).Msg("validator: status checked")
	return result, nil
}

// Logout tells the backend to end the session. It is best-effort.
func (v *Validator) Logout(ctx context.Context, accessToken string) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.backendURL+LogoutPath, nil)
	if err != nil {
		return fmt.Errorf("[Validator Logout] %w", err)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	res, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("[Validator Logout] %w: %w", apperrors.ErrNetwork, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode >= 400 && res.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("[Validator Logout] backend returned %d", res.StatusCode)
	}
	return nil
}

// mergeUser fills fields the backend omitted from the token's claims.
func mergeUser(u, fromClaims *User) *User {
	if fromClaims == nil {
		return u
	}
	if u.Email == "" {
		u.Email = fromClaims.Email
	}
	u.DisplayName = utils.Coalesce(u.DisplayName, fromClaims.DisplayName)
	u.PictureURL = utils.Coalesce(u.PictureURL, fromClaims.PictureURL)
	return u
}
