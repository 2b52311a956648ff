package server

import (
	"encoding/json"
	"net/http"

	"github.com/hippocampus/sessionsync/cookies"
	apperrors "github.com/hippocampus/sessionsync/internal/errors"
)

type migrateRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SessionHandler returns the current session view without a network call.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.deps.Sessions.State().View())
	}
}

// SessionCheckHandler runs a deduplicated status check. ?force=true bypasses the cooldown.
func (s *Server) SessionCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") == "true"
		writeJSON(w, http.StatusOK, s.deps.Sessions.Check(r.Context(), force).View())
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Sessions.Logout(r.Context()); err != nil {
			logError(r.Method, r.URL.Path, err)
			writeJSON(w, http.StatusInternalServerError, messageResponse{Error: err.Error(), ErrorKind: apperrors.Kind(err)})
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Success: true, Data: s.deps.Sessions.State().View()})
	}
}

// MigrateHandler migrates the posted tokens, or the auth site's cookies when the body is empty.
func (s *Server) MigrateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Migrator == nil {
			http.Error(w, "migration is not configured", http.StatusNotImplemented)
			return
		}

		var req migrateRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, messageResponse{Error: "invalid body", ErrorKind: apperrors.KindRequestFailed})
				return
			}
		}

		var migrated bool
		var err error
		if req.AccessToken == "" {
			migrated, err = s.deps.Migrator.Detect(r.Context())
		} else {
			migrated, err = s.deps.Migrator.Migrate(r.Context(), req.AccessToken, req.RefreshToken)
		}
		if err != nil {
			writeJSON(w, http.StatusOK, messageResponse{Error: err.Error(), ErrorKind: apperrors.Kind(err)})
			return
		}
		if migrated {
			s.deps.Sessions.Check(r.Context(), true)
		}
		writeJSON(w, http.StatusOK, messageResponse{Success: true, Data: map[string]bool{"migrated": migrated}})
	}
}

// CookieChangeHandler applies a browser cookie change event to the jar, which fans it out
// to the notifier and any bridge watching for auth-site tokens.
func (s *Server) CookieChangeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Cookies == nil {
			http.Error(w, "cookie forwarding is not configured", http.StatusNotImplemented)
			return
		}
		var change cookies.Change
		if err := json.NewDecoder(r.Body).Decode(&change); err != nil || change.Cookie.Name == "" || change.Cookie.Domain == "" {
			http.Error(w, "invalid cookie change", http.StatusBadRequest)
			return
		}
		s.deps.Cookies.Apply(change)
		w.WriteHeader(http.StatusNoContent)
	}
}
