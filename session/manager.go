package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hippocampus/sessionsync/cookies"
	"github.com/hippocampus/sessionsync/internal/config"
	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/notify"
	"github.com/hippocampus/sessionsync/token"
)

var _ notify.Revalidator = (*Manager)(nil)

// Refresher is the shared single-flight refresh path.
type Refresher interface {
	Refresh(ctx context.Context, old token.Pair) (token.Pair, error)
}

// MigrationGate is held while tokens from the external auth site are being migrated.
type MigrationGate interface {
	Wait(ctx context.Context) error
}

// SignOutFunc ends the session at a remote party (backend, identity provider).
type SignOutFunc func(ctx context.Context, accessToken string) error

// Manager runs the session state machine for one extension context.
//
// Tokens are only cleared on an authoritative answer: a rejected token that cannot be
// refreshed, or a failed refresh. A network failure keeps the best-known state.
type Manager struct {
	store       *token.Store
	validator   *Validator
	refresher   Refresher
	coordinator *Coordinator
	gate        MigrationGate
	cookieStore cookies.Store
	cookieURLs  []string
	signOuts    []SignOutFunc
	now         func() time.Time

	mu          sync.RWMutex
	state       State
	lastChecked string
	subscribers map[int]func(State)
	nextSubID   int
}

type ManagerOption func(*Manager)

// WithCookies clears the auth cookies of urls on logout.
func WithCookies(store cookies.Store, urls ...string) ManagerOption {
	return func(m *Manager) {
		m.cookieStore = store
		m.cookieURLs = urls
	}
}

// WithSignOut adds remote sign-out calls made on logout, after the backend's.
func WithSignOut(fns ...SignOutFunc) ManagerOption {
	return func(m *Manager) {
		m.signOuts = append(m.signOuts, fns...)
	}
}

func WithCoordinator(c *Coordinator) ManagerOption {
	return func(m *Manager) {
		m.coordinator = c
	}
}

// WithMigrationGate makes checks and signals wait while a token migration is in flight.
func WithMigrationGate(g MigrationGate) ManagerOption {
	return func(m *Manager) {
		m.gate = g
	}
}

func WithNowTime(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(store *token.Store, validator *Validator, refresher Refresher, cfg config.SessionConfig, options ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		validator:   validator,
		refresher:   refresher,
		now:         time.Now,
		state:       State{Status: StatusUnauthenticated},
		subscribers: make(map[int]func(State)),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.coordinator == nil {
		m.coordinator = NewCoordinator(cfg, WithClock(m.now))
	}
	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers fn for every state transition.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Check converges the state with the token store and the backend. force bypasses the
// cooldown (explicit user actions). An empty store resolves without any network call,
// and credentials that differ from the last validated ones are always checked.
func (m *Manager) Check(ctx context.Context, force bool) State {
	if !m.awaitMigration(ctx) {
		return m.State()
	}
	pair, ok := m.store.Get(ctx)
	if !ok {
		return m.noCredentials()
	}

	m.mu.RLock()
	changed := pair.AccessToken != m.lastChecked
	m.mu.RUnlock()

	state, ran := m.coordinator.Run(ctx, force || changed, m.check)
	if !ran {
		return m.State()
	}
	return state
}

// HandleSignal re-validates on a broadcast. The payload is never trusted as state.
func (m *Manager) HandleSignal(ctx context.Context, msg notify.Message) {
	if !m.awaitMigration(ctx) {
		return
	}
	switch msg.Action {
	case notify.ActionAuthenticationFailed:
		if _, ok := m.store.Get(ctx); !ok {
			m.expire(msg.Reason)
			return
		}
		m.Check(ctx, true)
	case notify.ActionCheckAuthStatus, notify.ActionAuthStateChanged:
		m.Check(ctx, false)
	default:
		log.Debug().Str("action", string(msg.Action)).Msg("session: ignoring unknown signal")
	}
}

// Login stores a freshly issued pair and validates it.
func (m *Manager) Login(ctx context.Context, pair token.Pair) (State, error) {
	if err := m.store.Set(ctx, pair); err != nil {
		return m.State(), fmt.Errorf("[Manager Login] %w", err)
	}
	return m.Check(ctx, true), nil
}

// Logout ends the session everywhere. Remote calls are best-effort; local credentials
// and auth cookies are always removed.
func (m *Manager) Logout(ctx context.Context) error {
	pair, _ := m.store.Get(ctx)
	if pair.AccessToken != "" {
		if err := m.validator.Logout(ctx, pair.AccessToken); err != nil {
			log.Warn().Err(err).Msg("session: backend logout failed")
		}
		for _, signOut := range m.signOuts {
			if err := signOut(ctx, pair.AccessToken); err != nil {
				log.Warn().Err(err).Msg("session: sign out failed")
			}
		}
	}

	err := m.store.Clear(ctx)
	if m.cookieStore != nil {
		cookies.ClearAuthCookies(ctx, m.cookieStore, m.cookieURLs...)
	}
	m.coordinator.Reset()
	m.setState(State{Status: StatusUnauthenticated, LastCheckedAt: m.now()}, "")
	if err != nil {
		return fmt.Errorf("[Manager Logout] %w", err)
	}
	log.Info().Msg("session: logged out")
	return nil
}

func (m *Manager) check(ctx context.Context) State {
	pair, ok := m.store.Get(ctx)
	if !ok {
		return m.noCredentials()
	}
	m.mu.RLock()
	previous, sameCredentials := m.state, m.lastChecked == pair.AccessToken
	m.mu.RUnlock()
	if !sameCredentials {
		previous = State{Status: StatusUnauthenticated}
	}
	m.transition(StatusValidating, previous.User)

	result, err := m.validator.Validate(ctx)
	switch {
	case err != nil:
		return m.keepBestKnown(previous, pair, err)
	case result.Authenticated:
		return m.authenticated(ctx, pair, result.User)
	case !result.HasRefreshToken:
		return m.terminate(ctx, "token rejected and no refresh token")
	}

	m.transition(StatusRefreshing, previous.User)
	refreshed, err := m.refresher.Refresh(ctx, pair)
	if err != nil {
		log.Info().Err(err).Msg("session: refresh failed")
		return m.expire(err.Error())
	}

	result, err = m.validator.Validate(ctx)
	switch {
	case err != nil:
		return m.keepBestKnown(State{}, refreshed, err)
	case result.Authenticated:
		return m.authenticated(ctx, refreshed, result.User)
	default:
		return m.terminate(ctx, "refreshed token rejected")
	}
}

func (m *Manager) authenticated(ctx context.Context, validated token.Pair, user *User) State {
	if _, ok := m.store.Get(ctx); !ok {
		// Logged out while the check was in flight.
		return m.noCredentials()
	}
	return m.setState(State{Status: StatusAuthenticated, User: user, LastCheckedAt: m.now()}, validated.AccessToken)
}

// keepBestKnown handles an ambiguous (network) outcome without touching the tokens.
// previous only counts when it was derived from the same credentials.
func (m *Manager) keepBestKnown(previous State, pair token.Pair, err error) State {
	log.Warn().Err(err).Msg("session: check inconclusive, keeping best-known state")
	next := State{
		Status:        StatusUnauthenticated,
		LastCheckedAt: m.now(),
		Err:           apperrors.ErrNetwork.Error(),
		ErrorKind:     apperrors.KindNetwork,
	}
	switch {
	case previous.Authenticated():
		next.Status, next.User = StatusAuthenticated, previous.User
	case !token.Expired(pair.AccessToken, m.now()):
		if u := userFromClaims(pair.AccessToken); u != nil {
			next.Status, next.User = StatusAuthenticated, u
		}
	}
	return m.setState(next, pair.AccessToken)
}

// terminate clears the credentials after an authoritative rejection.
func (m *Manager) terminate(ctx context.Context, reason string) State {
	log.Info().Str("reason", reason).Msg("session: terminating")
	if err := m.store.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("session: failed to clear tokens")
	}
	return m.expire(reason)
}

func (m *Manager) expire(reason string) State {
	log.Debug().Str("reason", reason).Msg("session: expired")
	return m.setState(State{
		Status:        StatusExpired,
		LastCheckedAt: m.now(),
		Err:           apperrors.ErrAuthenticationFailed.Error(),
		ErrorKind:     apperrors.KindAuthenticationFailed,
	}, "")
}

func (m *Manager) noCredentials() State {
	m.mu.Lock()
	current := m.state
	if current.Status == StatusExpired || (current.Status == StatusUnauthenticated && current.User == nil && current.Err == "") {
		m.mu.Unlock()
		return current
	}
	m.state = State{Status: StatusUnauthenticated, LastCheckedAt: m.now()}
	m.lastChecked = ""
	state, subs := m.state, m.snapshot()
	m.mu.Unlock()

	publish(subs, state)
	return state
}

func (m *Manager) awaitMigration(ctx context.Context) bool {
	if m.gate == nil {
		return true
	}
	if err := m.gate.Wait(ctx); err != nil {
		log.Debug().Err(err).Msg("session: gave up waiting for token migration")
		return false
	}
	return true
}

func (m *Manager) transition(status Status, user *User) {
	m.mu.Lock()
	m.state.Status = status
	m.state.User = user
	subs := m.snapshot()
	state := m.state
	m.mu.Unlock()
	publish(subs, state)
}

func (m *Manager) setState(state State, checkedAccess string) State {
	if state.Status == StatusAuthenticated && state.User == nil {
		state.Status = StatusUnauthenticated
	}
	m.mu.Lock()
	m.state = state
	m.lastChecked = checkedAccess
	subs := m.snapshot()
	m.mu.Unlock()

	publish(subs, state)
	return state
}

func (m *Manager) snapshot() []func(State) {
	subs := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func publish(subs []func(State), state State) {
	for _, fn := range subs {
		fn(state)
	}
}
