package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rowanlabs/rowan/internal/events"
	"github.com/rowanlabs/rowan/internal/model"
)

// handleRunEvents streams one run's events as SSE. Only events published
// after the connection opens are delivered: there is no backfill, so
// clients should subscribe before submitting or use GET /runs/{id} to catch
// up on recorded turns.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	sub := s.Bus.Subscribe(runID)
	defer sub.Close()
	s.streamSSE(w, r, sub)
}

// handleLiveEvents streams every run's events on one connection, used by
// debug consoles watching the whole instance.
func (s *Server) handleLiveEvents(w http.ResponseWriter, r *http.Request) {
	sub := s.Bus.SubscribeGlobal()
	defer sub.Close()
	s.streamSSE(w, r, sub)
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, sub *events.Subscription) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's write timeout for this long-lived connection.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			if _, err := w.Write(formatSSE(ev)); err != nil {
				log.Debug().Err(err).Msg("sse write failed, dropping subscriber")
				return
			}
			flusher.Flush()
		}
	}
}

// formatSSE renders one event frame: "event: <type>\ndata: <json>\n\n".
func formatSSE(ev model.DebugEvent) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		data = []byte(`{}`)
	}
	return []byte("event: " + ev.Type + "\ndata: " + string(data) + "\n\n")
}
