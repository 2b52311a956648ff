package bridge_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hippocampus/sessionsync/bridge"
	"github.com/hippocampus/sessionsync/cookies"
	"github.com/hippocampus/sessionsync/internal/config"
	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/session"
	"github.com/hippocampus/sessionsync/token"
	"github.com/hippocampus/sessionsync/token/memstore"
)

const authSite = "https://auth.hippocampus.test"

type testConfig struct {
	config.Session
	watch time.Duration
}

func (c testConfig) GetMigrationWatchTimeout() time.Duration {
	if c.watch > 0 {
		return c.watch
	}
	return c.Session.GetMigrationWatchTimeout()
}

// fakeValidator accepts the stored access token when it is in accepted.
type fakeValidator struct {
	store    *token.Store
	mu       sync.Mutex
	accepted map[string]bool
	calls    atomic.Int32
	entered  chan struct{}
	release  chan struct{}
	panics   bool
}

func (v *fakeValidator) accept(tok string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accepted[tok] = true
}

func (v *fakeValidator) Validate(ctx context.Context) (session.Result, error) {
	v.calls.Add(1)
	if v.panics {
		panic("validator exploded")
	}
	if v.entered != nil {
		v.entered <- struct{}{}
	}
	if v.release != nil {
		<-v.release
	}
	pair, _ := v.store.Get(ctx)
	v.mu.Lock()
	defer v.mu.Unlock()
	return session.Result{Authenticated: v.accepted[pair.AccessToken], TokenValid: v.accepted[pair.AccessToken]}, nil
}

type changeCounter struct {
	sets atomic.Int32
}

func (c *changeCounter) TokensChanged(_ context.Context, kind token.ChangeKind) {
	if kind == token.ChangeSet {
		c.sets.Add(1)
	}
}

type fixture struct {
	store     *token.Store
	jar       *cookies.Jar
	validator *fakeValidator
	changes   *changeCounter
	latch     *bridge.Latch
	bridge    *bridge.Bridge
	mu        sync.Mutex
	sleeps    []time.Duration
}

func newFixture(t *testing.T, cfg config.SessionConfig) *fixture {
	t.Helper()
	f := &fixture{jar: cookies.NewJar(), changes: &changeCounter{}, latch: bridge.NewLatch()}
	store, err := token.NewStore(memstore.New(), token.WithNotifier(f.changes))
	require.NoError(t, err)
	f.store = store
	f.validator = &fakeValidator{store: store, accepted: make(map[string]bool)}
	f.bridge = bridge.New(store, f.validator, cfg,
		bridge.WithCookies(f.jar, authSite),
		bridge.WithLatch(f.latch),
		bridge.WithSleep(func(_ context.Context, d time.Duration) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.sleeps = append(f.sleeps, d)
			return nil
		}),
	)
	return f
}

func (f *fixture) setAuthCookies(t *testing.T, access, refresh string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.jar.Set(ctx, authSite, cookies.Cookie{Name: token.RefreshTokenKey, Value: refresh}))
	require.NoError(t, f.jar.Set(ctx, authSite, cookies.Cookie{Name: token.AccessTokenKey, Value: access}))
	require.NoError(t, f.jar.Set(ctx, authSite, cookies.Cookie{Name: "user_id", Value: "user-1"}))
}

func requireReleased(t *testing.T, l *bridge.Latch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
}

func TestMigrate_Accepted(t *testing.T) {
	f := newFixture(t, config.Session{})
	f.validator.accept("site-access")
	f.setAuthCookies(t, "site-access", "site-refresh")

	ok, err := f.bridge.Migrate(context.Background(), "site-access", "site-refresh")
	require.NoError(t, err)
	require.True(t, ok)

	pair, found := f.store.Get(context.Background())
	require.True(t, found)
	require.Equal(t, token.Pair{AccessToken: "site-access", RefreshToken: "site-refresh"}, pair)

	for _, name := range cookies.AuthCookieNames {
		_, present, err := f.jar.Get(context.Background(), authSite, name)
		require.NoError(t, err)
		require.False(t, present, name)
	}
	requireReleased(t, f.latch)
}

func TestMigrate_Idempotent(t *testing.T) {
	f := newFixture(t, config.Session{})
	f.validator.accept("site-access")
	f.setAuthCookies(t, "site-access", "site-refresh")

	ok, err := f.bridge.Migrate(context.Background(), "site-access", "site-refresh")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(1), f.validator.calls.Load())
	require.Equal(t, int32(1), f.changes.sets.Load())

	ok, err = f.bridge.Migrate(context.Background(), "site-access", "site-refresh")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(1), f.validator.calls.Load())
	require.Equal(t, int32(1), f.changes.sets.Load())

	// The source cookies were cleared, so detection finds nothing to move.
	ok, err = f.bridge.Detect(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMigrate_AcceptedAfterRetries(t *testing.T) {
	f := newFixture(t, config.Session{})
	calls := 0
	validator := validatorFunc(func(ctx context.Context) (session.Result, error) {
		calls++
		return session.Result{Authenticated: calls >= 3}, nil
	})
	b := bridge.New(f.store, validator, config.Session{}, bridge.WithSleep(func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}))

	ok, err := b.Migrate(context.Background(), "site-access", "site-refresh")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, f.sleeps)
}

type validatorFunc func(ctx context.Context) (session.Result, error)

func (fn validatorFunc) Validate(ctx context.Context) (session.Result, error) {
	return fn(ctx)
}

func TestMigrate_RejectedRestoresPrevious(t *testing.T) {
	f := newFixture(t, config.Session{})
	previous := token.Pair{AccessToken: "old-access", RefreshToken: "old-refresh"}
	require.NoError(t, f.store.Set(context.Background(), previous))
	f.setAuthCookies(t, "bad-access", "bad-refresh")

	ok, err := f.bridge.Migrate(context.Background(), "bad-access", "bad-refresh")
	require.False(t, ok)
	require.ErrorIs(t, err, bridge.ErrMigrationRejected)
	require.Equal(t, int32(5), f.validator.calls.Load())
	require.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second,
	}, f.sleeps)

	pair, found := f.store.Get(context.Background())
	require.True(t, found)
	require.Equal(t, previous, pair)

	_, present, err := f.jar.Get(context.Background(), authSite, token.AccessTokenKey)
	require.NoError(t, err)
	require.True(t, present)
	requireReleased(t, f.latch)
}

func TestMigrate_RejectedWithoutPreviousClears(t *testing.T) {
	f := newFixture(t, config.Session{})

	ok, err := f.bridge.Migrate(context.Background(), "bad-access", "")
	require.False(t, ok)
	require.Error(t, err)

	_, found := f.store.Get(context.Background())
	require.False(t, found)
}

func TestMigrate_ReleasesLatchOnPanic(t *testing.T) {
	f := newFixture(t, config.Session{})
	f.validator.panics = true

	require.Panics(t, func() {
		_, _ = f.bridge.Migrate(context.Background(), "site-access", "site-refresh")
	})
	requireReleased(t, f.latch)
	_, found := f.store.Get(context.Background())
	require.False(t, found)

	f.validator.panics = false
	f.validator.accept("site-access")
	ok, err := f.bridge.Migrate(context.Background(), "site-access", "site-refresh")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMigrate_ReleasesLatchOnCancel(t *testing.T) {
	f := newFixture(t, config.Session{})
	ctx, cancel := context.WithCancel(context.Background())
	b := bridge.New(f.store, f.validator, config.Session{},
		bridge.WithLatch(f.latch),
		bridge.WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)

	ok, err := b.Migrate(ctx, "bad-access", "bad-refresh")
	require.False(t, ok)
	require.ErrorIs(t, err, context.Canceled)
	requireReleased(t, f.latch)
	_, found := f.store.Get(context.Background())
	require.False(t, found)
}

func TestMigrate_ConcurrentCallersMigrateOnce(t *testing.T) {
	f := newFixture(t, config.Session{})
	f.validator.accept("site-access")
	f.validator.entered = make(chan struct{}, 1)
	f.validator.release = make(chan struct{})

	results := make(chan bool, 2)
	go func() {
		ok, _ := f.bridge.Migrate(context.Background(), "site-access", "site-refresh")
		results <- ok
	}()
	<-f.validator.entered
	held, _ := f.latch.TryAcquire()
	require.False(t, held)

	go func() {
		ok, _ := f.bridge.Migrate(context.Background(), "site-access", "site-refresh")
		results <- ok
	}()
	close(f.validator.release)

	require.True(t, <-results)
	require.True(t, <-results)
	require.Equal(t, int32(1), f.validator.calls.Load())
	require.Equal(t, int32(1), f.changes.sets.Load())
	requireReleased(t, f.latch)
}

func TestMigrate_WaiterGivesUpOnCancel(t *testing.T) {
	f := newFixture(t, config.Session{})
	ok, _ := f.latch.TryAcquire()
	require.True(t, ok)
	defer f.latch.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	migrated, err := f.bridge.Migrate(ctx, "site-access", "site-refresh")
	require.False(t, migrated)
	require.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMigrate_RequiresAccessToken(t *testing.T) {
	f := newFixture(t, config.Session{})
	_, err := f.bridge.Migrate(context.Background(), "", "site-refresh")
	require.ErrorIs(t, err, apperrors.ErrNoCredentials)
}

func TestWatch_MigratesWhenCookiesArrive(t *testing.T) {
	f := newFixture(t, config.Session{})
	f.validator.accept("site-access")

	done := make(chan bool, 1)
	go func() {
		ok, err := f.bridge.Watch(context.Background())
		if err != nil {
			ok = false
		}
		done <- ok
	}()

	f.setAuthCookies(t, "site-access", "site-refresh")

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch did not return")
	}
	pair, found := f.store.Get(context.Background())
	require.True(t, found)
	require.Equal(t, "site-access", pair.AccessToken)
}

func TestWatch_MigratesForwardedDomainCookies(t *testing.T) {
	f := newFixture(t, config.Session{})
	f.validator.accept("site-access")

	done := make(chan bool, 1)
	go func() {
		ok, err := f.bridge.Watch(context.Background())
		done <- ok && err == nil
	}()

	// Browser events carry the cookie's domain attribute, not the site URL.
	f.jar.Apply(cookies.Change{Cookie: cookies.Cookie{Name: token.RefreshTokenKey, Value: "site-refresh", Domain: ".auth.hippocampus.test"}})
	f.jar.Apply(cookies.Change{Cookie: cookies.Cookie{Name: token.AccessTokenKey, Value: "site-access", Domain: ".auth.hippocampus.test"}})

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch did not return")
	}
	pair, found := f.store.Get(context.Background())
	require.True(t, found)
	require.Equal(t, token.Pair{AccessToken: "site-access", RefreshToken: "site-refresh"}, pair)
}

func TestWatch_GivesUpAtCeiling(t *testing.T) {
	f := newFixture(t, testConfig{watch: 20 * time.Millisecond})

	start := time.Now()
	ok, err := f.bridge.Watch(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Less(t, time.Since(start), time.Second)
}

func TestLatch(t *testing.T) {
	l := bridge.NewLatch()
	ok, wait := l.TryAcquire()
	require.True(t, ok)
	require.Nil(t, wait)

	ok, wait = l.TryAcquire()
	require.False(t, ok)
	select {
	case <-wait:
		t.Fatal("released early")
	default:
	}

	l.Release()
	<-wait
	requireReleased(t, l)
	l.Release()

	ok, _ = l.TryAcquire()
	require.True(t, ok)
}

func TestLatch_Wait(t *testing.T) {
	l := bridge.NewLatch()
	require.NoError(t, l.Wait(context.Background()))

	ok, _ := l.TryAcquire()
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)

	released := make(chan error, 1)
	go func() {
		released <- l.Wait(context.Background())
	}()
	l.Release()
	require.NoError(t, <-released)
}
