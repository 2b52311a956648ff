package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hippocampus/sessionsync/notify"
)

const sseHeartbeatInterval = 25 * time.Second

// EventsHandler streams every broadcast message as server-sent events. Receivers
// re-validate on each event; the payload is informational.
func (s *Server) EventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		ctx := r.Context()

		events := make(chan notify.Message, 16)
		sub, err := s.deps.Bus.Subscribe(ctx, func(_ context.Context, msg notify.Message) {
			select {
			case events <- msg:
			default:
			}
		})
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			http.Error(w, "subscribe failed", http.StatusServiceUnavailable)
			return
		}
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		ticker := time.NewTicker(sseHeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case msg := <-events:
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.ID, msg.Action, data)
				flusher.Flush()
			}
		}
	}
}
