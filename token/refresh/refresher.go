package refresh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/hippocampus/sessionsync/internal/config"
	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/token"
)

// refreshKey is shared by every caller: there is one credential pair per process, so
// there is at most one exchange in flight.
const refreshKey = "refresh"

// Exchanger trades a refresh token for a new pair at the identity provider.
// Transport failures should wrap errors.ErrNetwork.
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (token.Pair, error)
}

// ExchangerFunc adapts a function to an Exchanger.
type ExchangerFunc func(ctx context.Context, refreshToken string) (token.Pair, error)

func (f ExchangerFunc) Exchange(ctx context.Context, refreshToken string) (token.Pair, error) {
	return f(ctx, refreshToken)
}

// Refresher exchanges refresh tokens exactly once per logical refresh need.
type Refresher struct {
	store     *token.Store
	exchanger Exchanger
	timeout   time.Duration
	group     singleflight.Group
	exchanges atomic.Int64
}

// NewRefresher creates a Refresher writing its results to store.
func NewRefresher(store *token.Store, exchanger Exchanger, cfg config.SessionConfig) *Refresher {
	return &Refresher{
		store:     store,
		exchanger: exchanger,
		timeout:   cfg.GetRefreshTimeout(),
	}
}

// Exchanges returns how many exchanges have been sent to the identity provider.
func (r *Refresher) Exchanges() int64 {
	return r.exchanges.Load()
}

// Refresh returns a fresh pair for old. Concurrent callers share one exchange. The
// exchange is not cancelled when ctx is; ctx only bounds how long this caller waits.
//
// On failure the store is cleared and the error wraps errors.ErrRefreshFailed.
func (r *Refresher) Refresh(ctx context.Context, old token.Pair) (token.Pair, error) {
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.refresh(exCtx, old)
	})

	select {
	case <-ctx.Done():
		return token.Pair{}, fmt.Errorf("[Refresher Refresh] waiting for refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Shared {
			log.Debug().Msg("refresh: joined in-flight exchange")
		}
		if res.Err != nil {
			return token.Pair{}, res.Err
		}
		return res.Val.(token.Pair), nil
	}
}

func (r *Refresher) refresh(ctx context.Context, old token.Pair) (token.Pair, error) {
	current, ok := r.store.Get(ctx)
	if !ok {
		// Logged out while the caller was deciding to refresh.
		return token.Pair{}, fmt.Errorf("[Refresher refresh] %w: %w", apperrors.ErrRefreshFailed, apperrors.ErrNoCredentials)
	}
	if current.AccessToken != "" && current.AccessToken != old.AccessToken {
		log.Debug().Str("access_fp", token.Fingerprint(current.AccessToken)).Msg("refresh: pair already rotated")
		return current, nil
	}

	refreshToken := current.RefreshToken
	if refreshToken == "" {
		refreshToken = old.RefreshToken
	}
	if refreshToken == "" {
		r.terminate(ctx)
		return token.Pair{}, fmt.Errorf("[Refresher refresh] %w: no refresh token", apperrors.ErrRefreshFailed)
	}

	r.exchanges.Add(1)
	log.Info().Str("refresh_fp", token.Fingerprint(refreshToken)).Msg("refresh: exchanging refresh token")
	pair, err := r.exchanger.Exchange(ctx, refreshToken)
	if err == nil && pair.AccessToken == "" {
		err = apperrors.New("provider returned no access token")
	}
	if err != nil {
		log.Warn().Err(err).Msg("refresh: exchange failed, terminating session")
		r.terminate(ctx)
		return token.Pair{}, fmt.Errorf("[Refresher refresh] %w: %w", apperrors.ErrRefreshFailed, err)
	}

	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	if err := r.store.Set(ctx, pair); err != nil {
		// The previous refresh token is already spent.
		r.terminate(ctx)
		return token.Pair{}, fmt.Errorf("[Refresher refresh] %w: storing refreshed pair: %w", apperrors.ErrRefreshFailed, err)
	}
	return pair, nil
}

func (r *Refresher) terminate(ctx context.Context) {
	if err := r.store.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("refresh: failed to clear tokens")
	}
}
