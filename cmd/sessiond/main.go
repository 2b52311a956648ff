package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hippocampus/sessionsync/bookmarks"
	"github.com/hippocampus/sessionsync/bridge"
	"github.com/hippocampus/sessionsync/cookies"
	"github.com/hippocampus/sessionsync/gateway"
	"github.com/hippocampus/sessionsync/idp"
	"github.com/hippocampus/sessionsync/idp/flowstate"
	"github.com/hippocampus/sessionsync/internal/config"
	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/internal/logging"
	"github.com/hippocampus/sessionsync/notify"
	"github.com/hippocampus/sessionsync/server"
	"github.com/hippocampus/sessionsync/session"
	"github.com/hippocampus/sessionsync/token"
	"github.com/hippocampus/sessionsync/token/memstore"
	"github.com/hippocampus/sessionsync/token/redisstore"
	"github.com/hippocampus/sessionsync/token/refresh"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("session daemon stopped")
	}
	log.Info().Msg("session daemon stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return err
	}
	logging.Setup(c.GetLogLevel(), c.GetEnv())
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, cleanup, err := build(ctx, c)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() {
		errs <- listenAndServe(srv)
	}()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

// build wires the session core for one background context.
func build(ctx context.Context, c config.Config) (http.Handler, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var primary token.Backend = memstore.New()
	var mirror token.Backend
	var bus notify.Bus = notify.NewLocalBus()
	if c.UseRedis() {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{c.GetRedisAddr()},
			Password: c.GetRedisPassword(),
		})
		closers = append(closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("[build] redis ping: %w", err)
		}
		// Redis is shared by every context; the in-process copy answers when redis is down.
		primary = redisstore.New(rdb, c.GetRedisPrefix(), c.GetDefaultRefreshTokenExpiry())
		mirror = memstore.New()
		bus = notify.NewRedisBus(rdb, c.GetRedisPrefix())
		log.Info().Str("addr", c.GetRedisAddr()).Msg("using redis for tokens and broadcasts")
	}

	storeOptions := []token.StoreOption{}
	if mirror != nil {
		storeOptions = append(storeOptions, token.WithMirror(mirror))
	}
	store, err := token.NewStore(primary, storeOptions...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	notifier, err := notify.NewNotifier(bus, c.GetBackendURL())
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	store.SetNotifier(notifier)

	jar := cookies.NewJar()
	closers = append(closers, notifier.WatchCookies(jar))

	id, err := identityProvider(ctx, c)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	refresher := refresh.NewRefresher(store, id.exchanger, c)

	// Checks wait while the bridge is migrating tokens from the auth site.
	latch := bridge.NewLatch()
	validator := session.NewValidator(store, c.GetBackendURL(), c)
	manager := session.NewManager(store, validator, refresher, c,
		session.WithCookies(jar, c.GetBackendURL(), c.GetAuthSiteURL()),
		session.WithSignOut(id.signOuts...),
		session.WithMigrationGate(latch),
	)
	sub, err := notify.Listen(ctx, bus, manager)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = sub.Close() })

	gw := gateway.New(store, refresher, c.GetBackendURL(), c, gateway.WithNotifier(notifier))
	migrator := bridge.New(store, validator, c,
		bridge.WithCookies(jar, c.GetAuthSiteURL()),
		bridge.WithLatch(latch),
	)

	deps := server.Deps{
		Sessions: manager,
		Migrator: migrator,
		Library:  bookmarks.NewClient(gw),
		Notifier: notifier,
		Cookies:  jar,
		Bus:      bus,
	}
	if id.login != nil {
		deps.Login = id.login
	}
	if id.password != nil {
		deps.Password = id.password
	}
	srv, err := server.New(c, deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	srv.StartWatch(ctx)
	go manager.Check(ctx, true)
	return srv, cleanup, nil
}

type identity struct {
	exchanger refresh.Exchanger
	signOuts  []session.SignOutFunc
	login     *idp.LoginFlow
	password  *idp.SupabaseClient
}

// identityProvider picks the refresh exchange and interactive login: Supabase when
// configured, otherwise a discovered OIDC provider.
func identityProvider(ctx context.Context, c config.Config) (identity, error) {
	states := flowstate.NewInMemoryRepo()
	switch {
	case c.GetSupabaseURL() != "":
		client := idp.NewSupabaseClient(c.GetSupabaseURL(), c.GetSupabaseAnonKey())
		authorizeURL := client.AuthorizeURL(c.GetSupabaseProvider(), c.GetOAuthRedirectURL())
		log.Info().Str("url", c.GetSupabaseURL()).Msg("refreshing tokens with supabase")
		return identity{
			exchanger: client,
			signOuts:  []session.SignOutFunc{client.SignOut},
			login:     idp.NewLoginFlow(states, func(string, string) string { return authorizeURL }),
			password:  client,
		}, nil
	case c.GetOIDCIssuer() != "":
		oidcConfig, err := idp.Discover(ctx, c.GetOIDCIssuer(), c.GetOAuthClientID(), c.GetOAuthRedirectURL())
		if err != nil {
			return identity{}, fmt.Errorf("[identityProvider] %w", err)
		}
		log.Info().Str("issuer", c.GetOIDCIssuer()).Msg("refreshing tokens with oidc provider")
		authURL := func(state, nonce string) string {
			return idp.LoginURL(oidcConfig.OAuth2Config, state, nonce)
		}
		return identity{
			exchanger: idp.NewOAuth2Exchanger(oidcConfig.OAuth2Config, http.DefaultClient),
			login:     idp.NewLoginFlow(states, authURL, idp.WithIDTokenVerifier(oidcConfig.OidcVerifier)),
		}, nil
	default:
		log.Warn().Msg("no identity provider configured, sessions end when the access token expires")
		return identity{
			exchanger: refresh.ExchangerFunc(func(context.Context, string) (token.Pair, error) {
				return token.Pair{}, fmt.Errorf("no identity provider configured: %w", apperrors.ErrRefreshFailed)
			}),
		}, nil
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
