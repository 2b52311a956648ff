package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hippocampus/sessionsync/internal/config"
	"github.com/hippocampus/sessionsync/session"
	"github.com/hippocampus/sessionsync/token"
	"github.com/hippocampus/sessionsync/token/memstore"
	"github.com/hippocampus/sessionsync/token/refresh"
)

type testConfig struct {
	config.Session
	statusTimeout time.Duration
}

func (c testConfig) GetStatusCheckTimeout() time.Duration {
	if c.statusTimeout > 0 {
		return c.statusTimeout
	}
	return c.Session.GetStatusCheckTimeout()
}

// fakeBackend serves /auth/status for a set of accepted access tokens.
type fakeBackend struct {
	mu      sync.Mutex
	valid   map[string]string
	status  int
	release chan struct{}
	checks  atomic.Int32
	logouts atomic.Int32
	srv     *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{valid: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/status", b.handleStatus)
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		b.logouts.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) accept(accessToken, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.valid[accessToken] = userID
}

func (b *fakeBackend) failWith(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

func (b *fakeBackend) handleStatus(w http.ResponseWriter, r *http.Request) {
	b.checks.Add(1)
	b.mu.Lock()
	status, release := b.status, b.release
	userID, ok := b.valid[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	b.mu.Unlock()

	if release != nil {
		<-release
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"is_authenticated":  true,
		"token_valid":       true,
		"has_access_token":  true,
		"has_refresh_token": false,
		"user_id":           userID,
		"user_email":        userID + "@example.com",
		"user_name":         "User " + userID,
	})
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	backend   *fakeBackend
	store     *token.Store
	validator *session.Validator
	refresher *refresh.Refresher
	exchanges atomic.Int32
	exchange  func(refreshToken string) (token.Pair, error)
	clock     *clock
	manager   *session.Manager
}

func newFixture(t *testing.T, options ...session.ManagerOption) *fixture {
	t.Helper()
	f := &fixture{backend: newFakeBackend(t), clock: newClock()}

	store, err := token.NewStore(memstore.New(), token.WithMirror(memstore.New()))
	require.NoError(t, err)
	f.store = store

	cfg := testConfig{}
	f.validator = session.NewValidator(store, f.backend.srv.URL, cfg)
	f.refresher = refresh.NewRefresher(store, refresh.ExchangerFunc(func(_ context.Context, refreshToken string) (token.Pair, error) {
		f.exchanges.Add(1)
		return f.exchange(refreshToken)
	}), cfg)

	options = append([]session.ManagerOption{session.WithNowTime(f.clock.Now)}, options...)
	f.manager = session.NewManager(store, f.validator, f.refresher, cfg, options...)
	return f
}

func (f *fixture) login(t *testing.T, pair token.Pair) {
	t.Helper()
	require.NoError(t, f.store.Set(context.Background(), pair))
}
