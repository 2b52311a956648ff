package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hippocampus/sessionsync/bookmarks"
	"github.com/hippocampus/sessionsync/cookies"
	apperrors "github.com/hippocampus/sessionsync/internal/errors"
)

// Message actions accepted on RouteMessages.
const (
	ActionSearchAll       = "searchAll"
	ActionSearch          = "search"
	ActionSubmit          = "submit"
	ActionSaveNotes       = "saveNotes"
	ActionGetQuotes       = "getQuotes"
	ActionGetCollections  = "getCollections"
	ActionDelete          = "delete"
	ActionDeleteNote      = "deleteNote"
	ActionSummarize       = "summarize"
	ActionAuthCompleted   = "authCompleted"
	ActionClearAllCookies = "clearAllCookies"
	ActionCheckAuthStatus = "checkAuthStatus"
)

type messageRequest struct {
	Action string          `json:"action"`
	Query  string          `json:"query,omitempty"`
	Type   string          `json:"type,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type messageResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	*bookmarks.Library
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// MessageHandler answers the runtime messages UI contexts send to the background context.
// Failures are reported in the body with success=false; the HTTP status is 200 unless
// the message itself is malformed.
func (s *Server) MessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg messageRequest
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			writeJSON(w, http.StatusBadRequest, messageResponse{Error: "invalid message", ErrorKind: apperrors.KindRequestFailed})
			return
		}

		res, err := s.dispatch(r.Context(), msg)
		if err != nil {
			log.Warn().Err(err).Str("action", msg.Action).Msg("server: message failed")
			writeJSON(w, http.StatusOK, messageResponse{Error: err.Error(), ErrorKind: apperrors.Kind(err)})
			return
		}
		res.Success = true
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) dispatch(ctx context.Context, msg messageRequest) (messageResponse, error) {
	lib := s.deps.Library
	switch msg.Action {
	case ActionSearchAll:
		all, err := lib.SearchAll(ctx)
		if err != nil {
			return messageResponse{}, err
		}
		return messageResponse{Library: &all}, nil
	case ActionSearch:
		return wrap(lib.Search(ctx, msg.Query, msg.Type))
	case ActionSubmit:
		return wrap(lib.SubmitLink(ctx, msg.Data))
	case ActionSaveNotes:
		var note bookmarks.Note
		if err := json.Unmarshal(msg.Data, &note); err != nil {
			return messageResponse{}, fmt.Errorf("[saveNotes] %w: %w", apperrors.ErrInvalidRequest, err)
		}
		return wrap(lib.SaveNote(ctx, note))
	case ActionGetQuotes:
		return wrap(lib.Quotes(ctx))
	case ActionGetCollections:
		return wrap(lib.Collections(ctx))
	case ActionDelete:
		return wrap(lib.DeleteLink(ctx, msg.Query))
	case ActionDeleteNote:
		return wrap(lib.DeleteNote(ctx, msg.Query))
	case ActionSummarize:
		content := msg.Query
		if len(msg.Data) > 0 {
			var data struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(msg.Data, &data); err == nil && data.Content != "" {
				content = data.Content
			}
		}
		summary, err := lib.Summarize(ctx, content)
		return wrap(map[string]string{"summary": summary}, err)
	case ActionAuthCompleted:
		if s.deps.Notifier != nil {
			s.deps.Notifier.AuthCompleted(ctx)
		}
		return messageResponse{Data: s.deps.Sessions.Check(ctx, true).View()}, nil
	case ActionClearAllCookies:
		if s.deps.Cookies != nil {
			cookies.ClearAuthCookies(ctx, s.deps.Cookies, s.config.GetBackendURL(), s.config.GetAuthSiteURL())
		}
		return messageResponse{}, nil
	case ActionCheckAuthStatus:
		return messageResponse{Data: s.deps.Sessions.Check(ctx, false).View()}, nil
	default:
		return messageResponse{}, fmt.Errorf("[dispatch] unknown action %q: %w", msg.Action, apperrors.ErrInvalidRequest)
	}
}

func wrap(data any, err error) (messageResponse, error) {
	if err != nil {
		return messageResponse{}, err
	}
	return messageResponse{Data: data}, nil
}
