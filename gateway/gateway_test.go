package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/hippocampus/sessionsync/gateway"
	"github.com/hippocampus/sessionsync/internal/config"
	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/token"
	"github.com/hippocampus/sessionsync/token/memstore"
	"github.com/hippocampus/sessionsync/token/refresh"
)

type failures struct {
	mu      sync.Mutex
	reasons []string
}

func (f *failures) AuthenticationFailed(_ context.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func (f *failures) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reasons)
}

type fixture struct {
	store     *token.Store
	gw        *gateway.Gateway
	requests  atomic.Int32
	exchanges atomic.Int32
	exchange  func(refreshToken string) (token.Pair, error)
	sleeps    []time.Duration
	failures  *failures
	tokens    sync.Map
}

// newFixture serves handler behind a gateway whose store holds pair.
func newFixture(t *testing.T, pair token.Pair, handler http.HandlerFunc) *fixture {
	t.Helper()
	f := &fixture{failures: &failures{}}
	f.exchange = func(string) (token.Pair, error) {
		return token.Pair{AccessToken: "fresh", RefreshToken: "r2"}, nil
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		f.tokens.Store(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "), true)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	store, err := token.NewStore(memstore.New())
	require.NoError(t, err)
	if !pair.IsZero() {
		require.NoError(t, store.Set(context.Background(), pair))
	}
	f.store = store

	refresher := refresh.NewRefresher(store, refresh.ExchangerFunc(func(_ context.Context, rt string) (token.Pair, error) {
		f.exchanges.Add(1)
		return f.exchange(rt)
	}), config.Session{})

	f.gw = gateway.New(store, refresher, srv.URL+"/", config.Session{},
		gateway.WithHTTPClient(srv.Client()),
		gateway.WithNotifier(f.failures),
		gateway.WithSleep(func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		}),
	)
	return f
}

func (f *fixture) sawToken(tok string) bool {
	_, ok := f.tokens.Load(tok)
	return ok
}

var session = token.Pair{AccessToken: "current", RefreshToken: "r1"}

func TestGateway_Success(t *testing.T) {
	var path, contentType atomic.Value
	f := newFixture(t, session, func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		contentType.Store(r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"id":"doc-1"}`))
	})

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, f.gw.JSON(context.Background(), http.MethodPost, "/links/save", map[string]string{"url": "https://go.dev"}, &out))
	require.Equal(t, "doc-1", out.ID)
	require.Equal(t, "/links/save", path.Load())
	require.Equal(t, "application/json", contentType.Load())
	require.True(t, f.sawToken("current"))
}

func TestGateway_ServerErrorRetriesThreeTimes(t *testing.T) {
	f := newFixture(t, session, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := f.gw.Do(context.Background(), gateway.Request{Method: http.MethodGet, Endpoint: "/notes/"})
	require.ErrorIs(t, err, apperrors.ErrNetwork)
	require.Equal(t, apperrors.KindNetwork, apperrors.Kind(err))
	require.Equal(t, int32(3), f.requests.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps)
	require.Equal(t, int32(0), f.exchanges.Load())
	require.Zero(t, f.failures.Count())
}

func TestGateway_RecoversAfterTransientError(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, session, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	res, err := f.gw.Do(context.Background(), gateway.Request{Method: http.MethodGet, Endpoint: "/quotes/"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, int32(2), f.requests.Load())
}

func TestGateway_RateLimitedIsNotRetried(t *testing.T) {
	f := newFixture(t, session, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"5 per 1 day"}`))
	})

	_, err := f.gw.Do(context.Background(), gateway.Request{Method: http.MethodPost, Endpoint: "/summary/generate"})
	require.ErrorIs(t, err, apperrors.ErrRateLimited)
	require.Equal(t, apperrors.KindRateLimited, apperrors.Kind(err))
	require.Contains(t, err.Error(), "5 per 1 day")
	require.Equal(t, int32(1), f.requests.Load())
	require.Empty(t, f.sleeps)
}

func TestGateway_UnauthorizedThenSuccess(t *testing.T) {
	f := newFixture(t, session, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	res, err := f.gw.Do(context.Background(), gateway.Request{Method: http.MethodGet, Endpoint: "/links/get"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, int32(1), f.exchanges.Load())
	require.Equal(t, int32(2), f.requests.Load())

	pair, ok := f.store.Get(context.Background())
	require.True(t, ok)
	require.Equal(t, token.Pair{AccessToken: "fresh", RefreshToken: "r2"}, pair)
}

func TestGateway_UnauthorizedAfterRefreshIsTerminal(t *testing.T) {
	f := newFixture(t, session, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := f.gw.Do(context.Background(), gateway.Request{Method: http.MethodGet, Endpoint: "/links/get"})
	require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
	require.Equal(t, int32(2), f.requests.Load())
	require.Equal(t, int32(1), f.exchanges.Load())
	require.Equal(t, 1, f.failures.Count())

	_, ok := f.store.Get(context.Background())
	require.False(t, ok)
}

func TestGateway_RefreshFailureIsTerminal(t *testing.T) {
	f := newFixture(t, session, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	f.exchange = func(string) (token.Pair, error) {
		return token.Pair{}, errors.New("invalid grant")
	}

	_, err := f.gw.Do(context.Background(), gateway.Request{Method: http.MethodGet, Endpoint: "/links/get"})
	require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
	require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
	require.Equal(t, int32(1), f.requests.Load())
	require.Equal(t, 1, f.failures.Count())
	_, ok := f.store.Get(context.Background())
	require.False(t, ok)
}

func TestGateway_NoCredentials(t *testing.T) {
	f := newFixture(t, session, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, f.store.Clear(context.Background()))

	_, err := f.gw.Do(context.Background(), gateway.Request{Method: http.MethodGet, Endpoint: "/links/get"})
	require.ErrorIs(t, err, apperrors.ErrNoCredentials)
	require.Equal(t, apperrors.KindNoCredentials, apperrors.Kind(err))
	require.Equal(t, int32(0), f.requests.Load())
}

func TestGateway_ClientErrors(t *testing.T) {
	f := newFixture(t, session, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/search") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"No documents found matching query"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Invalid URL","error_type":"invalid_url"}`))
	})

	_, err := f.gw.Do(context.Background(), gateway.Request{Method: http.MethodPost, Endpoint: "/links/search"})
	var httpErr *apperrors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	require.Equal(t, apperrors.KindNoResults, httpErr.Type)
	require.Equal(t, apperrors.KindNoResults, apperrors.Kind(err))

	_, err = f.gw.Do(context.Background(), gateway.Request{Method: http.MethodPost, Endpoint: "/links/save"})
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, "Invalid URL", httpErr.Detail)
	require.Equal(t, "invalid_url", httpErr.Type)
	require.Equal(t, apperrors.KindRequestFailed, apperrors.Kind(err))
	require.Equal(t, int32(2), f.requests.Load())
}

func TestGateway_ExpiredTokenRefreshedBeforeSending(t *testing.T) {
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	f := newFixture(t, token.Pair{AccessToken: expired, RefreshToken: "r1"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err = f.gw.Do(context.Background(), gateway.Request{Method: http.MethodGet, Endpoint: "/notes/"})
	require.NoError(t, err)
	require.Equal(t, int32(1), f.requests.Load())
	require.False(t, f.sawToken(expired))
	require.True(t, f.sawToken("fresh"))
}

func TestGateway_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	f := newFixture(t, session, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.gw.Do(context.Background(), gateway.Request{Method: http.MethodGet, Endpoint: "/links/get"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.exchanges.Load())
	require.Zero(t, f.failures.Count())
}

func TestGateway_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	store, err := token.NewStore(memstore.New())
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), session))

	gw := gateway.New(store, nil, srv.URL, config.Session{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = gw.Do(ctx, gateway.Request{Method: http.MethodGet, Endpoint: "/notes/"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}
