package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/hippocampus/sessionsync/bookmarks"
	"github.com/hippocampus/sessionsync/cookies"
	"github.com/hippocampus/sessionsync/idp"
	"github.com/hippocampus/sessionsync/internal/config"
	"github.com/hippocampus/sessionsync/notify"
	"github.com/hippocampus/sessionsync/session"
	"github.com/hippocampus/sessionsync/token"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Sessions is the per-context session manager.
type Sessions interface {
	State() session.State
	Check(ctx context.Context, force bool) session.State
	Login(ctx context.Context, pair token.Pair) (session.State, error)
	Logout(ctx context.Context) error
}

// Migrator moves tokens from the external auth site into the token store.
type Migrator interface {
	Migrate(ctx context.Context, accessToken, refreshToken string) (bool, error)
	Detect(ctx context.Context) (bool, error)
	Watch(ctx context.Context) (bool, error)
}

// LoginFlow is the provider login the UI drives through the browser's web auth flow.
type LoginFlow interface {
	Begin(ctx context.Context) (idp.Start, error)
	Complete(ctx context.Context, state, redirectedTo string) (token.Pair, error)
}

type PasswordSignIn interface {
	SignInWithPassword(ctx context.Context, email, password string) (token.Pair, error)
}

// Library is the bookmarks API.
type Library interface {
	SubmitLink(ctx context.Context, link json.RawMessage) (json.RawMessage, error)
	SaveNote(ctx context.Context, note bookmarks.Note) (json.RawMessage, error)
	SearchAll(ctx context.Context) (bookmarks.Library, error)
	Search(ctx context.Context, query, memType string) (json.RawMessage, error)
	DeleteLink(ctx context.Context, docID string) (json.RawMessage, error)
	DeleteNote(ctx context.Context, id string) (json.RawMessage, error)
	Quotes(ctx context.Context) (json.RawMessage, error)
	Collections(ctx context.Context) (bookmarks.Collections, error)
	Summarize(ctx context.Context, content string) (string, error)
}

// Broadcaster publishes signals to the other extension contexts.
type Broadcaster interface {
	AuthCompleted(ctx context.Context)
}

// Deps are the components the server exposes. Cookies is the platform cookie jar that
// browser change events are applied to. Login and Password are optional; their routes are
// only registered when set.
type Deps struct {
	Sessions Sessions
	Migrator Migrator
	Library  Library
	Notifier Broadcaster
	Cookies  *cookies.Jar
	Bus      notify.Bus
	Login    LoginFlow
	Password PasswordSignIn
}

type Server struct {
	env      string
	mux      *http.ServeMux
	handler  http.Handler
	routes   []string
	config   config.Config
	deps     Deps
	watching atomic.Bool
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Sessions == nil || deps.Library == nil || deps.Bus == nil {
		return nil, fmt.Errorf("[Server New] sessions, library and bus are required")
	}
	s := &Server{
		env:    cfg.GetEnv(),
		mux:    http.NewServeMux(),
		config: cfg,
		deps:   deps,
	}

	s.initRoutes()
	s.logRoutes()

	s.handler = cors.Handler(cors.Options{
		AllowedOrigins:   cfg.GetAllowedOrigins().List(),
		AllowedMethods:   cfg.GetAllowedMethods(),
		AllowedHeaders:   cfg.GetAllowedHeaders(),
		AllowCredentials: true,
		MaxAge:           86400,
	})(s.mux)
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colourMethod(method), path)
}

func logError(method, path string, err error) {
	log.Error().Err(err).Msgf("[%-19s] %s", colourMethod(method), path)
}

func colourMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if colour, ok := methodColors[method]; ok {
		return colour + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
