package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/gtrunner/internal/engine"
	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/store"
)

func (s *Server) handleCampaignEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify campaign exists.
	c, err := s.store.GetCampaign(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		s.logger.Error("get campaign for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// If already in a terminal state, return an empty stream immediately.
	if model.TerminalStatus(c.Status) {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.streamEvents(w, r, id)
}

// handleGlobalEvents streams events that are not tied to one campaign,
// such as executable rebuilds picked up by the file watcher. The stream
// ends only when the client disconnects.
func (s *Server) handleGlobalEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.streamEvents(w, r, engine.GlobalTopic)
}

// streamEvents forwards broker events for one topic to the client until
// the topic closes or the client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, topic string) {
	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe before writing the header. This is safe even if the
	// campaign finished between the status check and this call —
	// Subscribe on a closed topic returns a closed channel, causing the
	// loop below to exit immediately.
	ch, unsub := s.engine.Broker().Subscribe(topic)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return // Campaign finished; the done event was the last one.
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEEvent writes one broker event as a named SSE event with a JSON
// payload (event: <type>\ndata: <json>\n\n). json.Marshal never emits
// newlines, so a single data line satisfies the SSE framing rules.
func writeSSEEvent(w http.ResponseWriter, ev engine.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
