package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hippocampus/sessionsync/cookies"
	"github.com/hippocampus/sessionsync/internal/config"
	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/session"
	"github.com/hippocampus/sessionsync/token"
)

var ErrMigrationRejected = errors.New("migrated tokens were rejected by the backend")

// Validator confirms that the tokens currently in the store are accepted.
type Validator interface {
	Validate(ctx context.Context) (session.Result, error)
}

// Bridge moves tokens issued to the external auth site into the token store.
type Bridge struct {
	store     *token.Store
	validator Validator
	latch     *Latch
	cookies   cookies.Store
	authURL   string
	polls     int
	baseDelay time.Duration
	ceiling   time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

type Option func(*Bridge)

// WithCookies sets the cookie store and the auth site whose cookies carry the candidate tokens.
func WithCookies(store cookies.Store, authSiteURL string) Option {
	return func(b *Bridge) {
		b.cookies = store
		b.authURL = authSiteURL
	}
}

func WithLatch(l *Latch) Option {
	return func(b *Bridge) {
		b.latch = l
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Bridge) {
		b.sleep = sleep
	}
}

func New(store *token.Store, validator Validator, cfg config.SessionConfig, options ...Option) *Bridge {
	b := &Bridge{
		store:     store,
		validator: validator,
		polls:     cfg.GetMigrationPolls(),
		baseDelay: cfg.GetMigrationBaseDelay(),
		ceiling:   cfg.GetMigrationWatchTimeout(),
		sleep:     sleepContext,
	}
	for _, opt := range options {
		opt(b)
	}
	if b.latch == nil {
		b.latch = NewLatch()
	}
	if b.polls < 1 {
		b.polls = 1
	}
	return b
}

// Migrate writes the candidate tokens and waits for the backend to accept them. It
// returns true once the store holds accepted candidate tokens, including when a previous
// migration already moved them. On any other exit the previous tokens are restored.
func (b *Bridge) Migrate(ctx context.Context, accessToken, refreshToken string) (bool, error) {
	if accessToken == "" {
		return false, fmt.Errorf("[Bridge Migrate] %w", apperrors.ErrNoCredentials)
	}
	if err := b.acquire(ctx); err != nil {
		return false, err
	}
	defer b.latch.Release()

	snapshot, _ := b.store.Get(ctx)
	if snapshot.AccessToken == accessToken {
		log.Debug().Str("access_fp", token.Fingerprint(accessToken)).Msg("bridge: tokens already migrated")
		return true, nil
	}

	id := uuid.NewString()
	logger := log.With().Str("migration", id).Str("access_fp", token.Fingerprint(accessToken)).Logger()
	logger.Info().Msg("bridge: migrating tokens")

	candidate := token.Pair{AccessToken: accessToken, RefreshToken: refreshToken}
	if err := b.store.Set(ctx, candidate); err != nil {
		return false, fmt.Errorf("[Bridge Migrate] %w", err)
	}
	accepted := false
	defer func() {
		if !accepted {
			logger.Warn().Msg("bridge: tokens not accepted, restoring previous session")
			b.restore(context.WithoutCancel(ctx), snapshot)
		}
	}()

	if err := b.poll(ctx); err != nil {
		return false, fmt.Errorf("[Bridge Migrate] %w", err)
	}
	accepted = true

	if b.cookies != nil && b.authURL != "" {
		cookies.ClearAuthCookies(ctx, b.cookies, b.authURL)
	}
	logger.Info().Msg("bridge: tokens accepted")
	return true, nil
}

// Detect migrates the tokens currently held in the auth site's cookies, if any.
func (b *Bridge) Detect(ctx context.Context) (bool, error) {
	if b.cookies == nil || b.authURL == "" {
		return false, nil
	}
	pair, err := cookies.ReadPair(ctx, b.cookies, b.authURL)
	if err != nil {
		return false, fmt.Errorf("[Bridge Detect] %w", err)
	}
	if pair.AccessToken == "" {
		return false, nil
	}
	return b.Migrate(ctx, pair.AccessToken, pair.RefreshToken)
}

// Watch waits for the auth site to set its token cookies and migrates them. It gives up
// without error once the watch ceiling passes.
func (b *Bridge) Watch(ctx context.Context) (bool, error) {
	if b.cookies == nil || b.authURL == "" {
		return false, nil
	}
	host, err := cookies.Host(b.authURL)
	if err != nil {
		return false, fmt.Errorf("[Bridge Watch] %w", err)
	}

	changed := make(chan struct{}, 1)
	unsubscribe := b.cookies.OnChanged(func(c cookies.Change) {
		if c.Removed || !cookies.IsAuthTokenChange(c, host) {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if ok, err := b.Detect(ctx); ok || err != nil {
		return ok, err
	}

	timer := time.NewTimer(b.ceiling)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("[Bridge Watch] %w", ctx.Err())
		case <-timer.C:
			log.Debug().Dur("ceiling", b.ceiling).Msg("bridge: no tokens from auth site")
			return false, nil
		case <-changed:
			ok, err := b.Detect(ctx)
			if ok {
				return true, nil
			}
			if err != nil {
				log.Warn().Err(err).Msg("bridge: migration attempt failed, still watching")
			}
		}
	}
}

// acquire blocks until this caller holds the latch.
func (b *Bridge) acquire(ctx context.Context) error {
	for {
		ok, wait := b.latch.TryAcquire()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("[Bridge Migrate] %w: %w", apperrors.ErrConcurrencyConflict, ctx.Err())
		case <-wait:
		}
	}
}

// poll validates the stored tokens with exponential backoff. It returns nil on acceptance.
func (b *Bridge) poll(ctx context.Context) error {
	var lastErr error
	delay := b.baseDelay
	for i := 0; i < b.polls; i++ {
		res, err := b.validator.Validate(ctx)
		switch {
		case err != nil:
			lastErr = err
		case res.Authenticated:
			return nil
		default:
			lastErr = ErrMigrationRejected
		}
		if i == b.polls-1 {
			break
		}
		if err := b.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return lastErr
}

func (b *Bridge) restore(ctx context.Context, snapshot token.Pair) {
	var err error
	if snapshot.AccessToken == "" {
		err = b.store.Clear(ctx)
	} else {
		err = b.store.Set(ctx, snapshot)
	}
	if err != nil {
		log.Error().Err(err).Msg("bridge: failed to restore previous tokens")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
