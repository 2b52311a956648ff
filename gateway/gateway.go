package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hippocampus/sessionsync/internal/config"
	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/token"
)

const maxBodyBytes = 10 << 20

// Refresher is the shared single-flight refresh path. Every refresh need of every
// request goes through it.
type Refresher interface {
	Refresh(ctx context.Context, old token.Pair) (token.Pair, error)
}

// FailureNotifier is told about terminal authentication failures.
type FailureNotifier interface {
	AuthenticationFailed(ctx context.Context, reason string)
}

type Request struct {
	Method   string
	Endpoint string
	Body     []byte
	Header   http.Header
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("[Response Decode] %w", err)
	}
	return nil
}

// errorBody is the backend's error payload.
type errorBody struct {
	Detail    any    `json:"detail"`
	ErrorType string `json:"error_type"`
}

// Gateway attaches the current access token to backend requests and recovers from a
// single expired-token failure.
type Gateway struct {
	store       *token.Store
	refresher   Refresher
	notifier    FailureNotifier
	baseURL     string
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

type Option func(*Gateway)

func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

func WithNotifier(n FailureNotifier) Option {
	return func(g *Gateway) {
		g.notifier = n
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) {
		g.sleep = sleep
	}
}

func WithNowTime(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

func New(store *token.Store, refresher Refresher, baseURL string, cfg config.SessionConfig, options ...Option) *Gateway {
	g := &Gateway{
		store:       store,
		refresher:   refresher,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		client:      http.DefaultClient,
		maxAttempts: cfg.GetMaxRequestAttempts(),
		backoff:     cfg.GetRetryBackoff(),
		sleep:       sleepContext,
		now:         time.Now,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Do sends req with the stored access token.
//
//   - no credentials: errors.ErrNoCredentials, nothing is sent
//   - 401: one refresh and one retry; a second 401 or a failed refresh is terminal
//   - 429: errors.ErrRateLimited, never retried
//   - transport errors and 5xx: retried with attempt × backoff, then errors.ErrNetwork
//   - other 4xx: *errors.HTTPError
func (g *Gateway) Do(ctx context.Context, req Request) (*Response, error) {
	pair, ok := g.store.Get(ctx)
	if !ok {
		return nil, fmt.Errorf("[Gateway Do] %s: %w", req.Endpoint, apperrors.ErrNoCredentials)
	}

	refreshed := false
	if pair.AccessToken == "" || token.Expired(pair.AccessToken, g.now()) {
		log.Debug().Str("endpoint", req.Endpoint).Msg("gateway: access token expired, refreshing first")
		var err error
		if pair, err = g.refresh(ctx, pair, req.Endpoint); err != nil {
			return nil, err
		}
		refreshed = true
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; {
		res, err := g.send(ctx, req, pair.AccessToken)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("[Gateway Do] %s: %w", req.Endpoint, ctx.Err())
			}
			lastErr = err
			log.Warn().Err(err).Str("endpoint", req.Endpoint).Int("attempt", attempt).Msg("gateway: request failed")
			if err := g.backoffAfter(ctx, &attempt); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case res.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return nil, g.terminate(ctx, req.Endpoint, "request rejected after refresh")
			}
			refreshed = true
			if pair, err = g.refresh(ctx, pair, req.Endpoint); err != nil {
				return nil, err
			}
		case res.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("[Gateway Do] %w: %w", apperrors.ErrRateLimited, g.httpError(req.Endpoint, res))
		case res.StatusCode >= 500:
			lastErr = g.httpError(req.Endpoint, res)
			log.Warn().Int("status", res.StatusCode).Str("endpoint", req.Endpoint).Int("attempt", attempt).Msg("gateway: server error")
			if err := g.backoffAfter(ctx, &attempt); err != nil {
				return nil, err
			}
		case res.StatusCode >= 400:
			return nil, fmt.Errorf("[Gateway Do] %w", g.httpError(req.Endpoint, res))
		default:
			return res, nil
		}
	}
	return nil, fmt.Errorf("[Gateway Do] %s: %w after %d attempts: %w", req.Endpoint, apperrors.ErrNetwork, g.maxAttempts, lastErr)
}

// JSON sends in as the JSON body and decodes the response into out. Either may be nil.
func (g *Gateway) JSON(ctx context.Context, method, endpoint string, in, out any) error {
	req := Request{Method: method, Endpoint: endpoint, Header: http.Header{}}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("[Gateway JSON] %w", err)
		}
		req.Body = body
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := g.Do(ctx, req)
	if err != nil {
		return err
	}
	return res.Decode(out)
}

func (g *Gateway) send(ctx context.Context, req Request, accessToken string) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, g.baseURL+req.Endpoint, body)
	if err != nil {
		return nil, err
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	res, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

func (g *Gateway) refresh(ctx context.Context, pair token.Pair, endpoint string) (token.Pair, error) {
	fresh, err := g.refresher.Refresh(ctx, pair)
	if err == nil {
		return fresh, nil
	}
	if ctx.Err() != nil {
		return token.Pair{}, fmt.Errorf("[Gateway refresh] %s: %w", endpoint, ctx.Err())
	}
	g.notify(ctx, err.Error())
	return token.Pair{}, fmt.Errorf("[Gateway refresh] %s: %w: %w", endpoint, apperrors.ErrAuthenticationFailed, err)
}

// terminate ends a session whose freshly refreshed token is still rejected.
func (g *Gateway) terminate(ctx context.Context, endpoint, reason string) error {
	if err := g.store.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("gateway: failed to clear tokens")
	}
	g.notify(ctx, reason)
	return fmt.Errorf("[Gateway Do] %s: %w", endpoint, apperrors.ErrAuthenticationFailed)
}

func (g *Gateway) notify(ctx context.Context, reason string) {
	log.Warn().Str("reason", reason).Msg("gateway: authentication failed")
	if g.notifier != nil {
		g.notifier.AuthenticationFailed(ctx, reason)
	}
}

// backoffAfter waits attempt × backoff unless attempt was the last one, then advances attempt.
func (g *Gateway) backoffAfter(ctx context.Context, attempt *int) error {
	if *attempt < g.maxAttempts {
		if err := g.sleep(ctx, time.Duration(*attempt)*g.backoff); err != nil {
			return fmt.Errorf("[Gateway Do] %w", err)
		}
	}
	*attempt++
	return nil
}

func (g *Gateway) httpError(endpoint string, res *Response) *apperrors.HTTPError {
	httpErr := &apperrors.HTTPError{StatusCode: res.StatusCode, Endpoint: endpoint}
	var body errorBody
	if err := json.Unmarshal(res.Body, &body); err == nil {
		httpErr.Type = body.ErrorType
		switch d := body.Detail.(type) {
		case string:
			httpErr.Detail = d
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				httpErr.Detail = string(b)
			}
		}
	}
	if res.StatusCode == http.StatusNotFound && strings.Contains(endpoint, "/search") && httpErr.Type == "" {
		httpErr.Type = apperrors.KindNoResults
	}
	return httpErr
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
