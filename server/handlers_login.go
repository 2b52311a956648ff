package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/hippocampus/sessionsync/internal/errors"
	"github.com/hippocampus/sessionsync/token"
)

type loginRequest struct {
	State       string `json:"state"`
	RedirectURL string `json:"redirectUrl"`
}

type passwordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginStartHandler starts an interactive login and returns the provider URL to open.
func (s *Server) LoginStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, err := s.deps.Login.Begin(r.Context())
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeJSON(w, http.StatusInternalServerError, messageResponse{Error: err.Error(), ErrorKind: apperrors.Kind(err)})
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Success: true, Data: start})
	}
}

// LoginCompleteHandler finishes an interactive login with the URL the web auth flow was
// redirected to.
func (s *Server) LoginCompleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.State == "" || req.RedirectURL == "" {
			writeJSON(w, http.StatusBadRequest, messageResponse{Error: "state and redirectUrl are required", ErrorKind: apperrors.KindRequestFailed})
			return
		}

		pair, err := s.deps.Login.Complete(r.Context(), req.State, req.RedirectURL)
		if err != nil {
			log.Warn().Err(err).Msg("server: login rejected")
			writeJSON(w, http.StatusUnauthorized, messageResponse{Error: err.Error(), ErrorKind: apperrors.KindAuthenticationFailed})
			return
		}
		s.login(w, r, pair)
	}
}

func (s *Server) PasswordLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req passwordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
			writeJSON(w, http.StatusBadRequest, messageResponse{Error: "email and password are required", ErrorKind: apperrors.KindRequestFailed})
			return
		}

		pair, err := s.deps.Password.SignInWithPassword(r.Context(), req.Email, req.Password)
		if err != nil {
			log.Warn().Err(err).Msg("server: password sign-in failed")
			if errors.Is(err, apperrors.ErrNetwork) {
				writeJSON(w, http.StatusBadGateway, messageResponse{Error: err.Error(), ErrorKind: apperrors.KindNetwork})
				return
			}
			writeJSON(w, http.StatusUnauthorized, messageResponse{Error: err.Error(), ErrorKind: apperrors.KindAuthenticationFailed})
			return
		}
		s.login(w, r, pair)
	}
}

// WatchHandler starts watching the auth site for tokens. The UI calls it when it opens
// the auth site.
func (s *Server) WatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Migrator == nil {
			http.Error(w, "migration is not configured", http.StatusNotImplemented)
			return
		}
		started := s.StartWatch(context.WithoutCancel(r.Context()))
		writeJSON(w, http.StatusAccepted, messageResponse{Success: true, Data: map[string]bool{"started": started}})
	}
}

// StartWatch migrates the auth site's tokens in the background as soon as they appear,
// until the migrator's watch ceiling passes. It reports false when a watch is already
// running.
func (s *Server) StartWatch(ctx context.Context) bool {
	if s.deps.Migrator == nil || !s.watching.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer s.watching.Store(false)
		migrated, err := s.deps.Migrator.Watch(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("server: auth site watch failed")
			return
		}
		if migrated {
			s.deps.Sessions.Check(ctx, true)
			if s.deps.Notifier != nil {
				s.deps.Notifier.AuthCompleted(ctx)
			}
		}
	}()
	return true
}

// login stores pair, validates it and tells the other contexts.
func (s *Server) login(w http.ResponseWriter, r *http.Request, pair token.Pair) {
	state, err := s.deps.Sessions.Login(r.Context(), pair)
	if err != nil {
		logError(r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Error: err.Error(), ErrorKind: apperrors.Kind(err)})
		return
	}
	if s.deps.Notifier != nil {
		s.deps.Notifier.AuthCompleted(r.Context())
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Data: state.View()})
}
