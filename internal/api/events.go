package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/buildrunner/internal/events"
	"git.home.luguber.info/inful/buildrunner/internal/logfields"
)

const sseBuffer = 64

// handleBuildEvents streams one build's events as Server-Sent Events until
// the build finishes or the client goes away.
func (s *Server) handleBuildEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if s.opts.Bus == nil {
		s.Error(w, r, http.StatusServiceUnavailable, "event streaming is not enabled")
		return
	}

	// Subscribe before reading the status so a finish in between is not missed.
	eventCh, unsubscribe := s.opts.Bus.Subscribe(sseBuffer, events.ForBuild(id))
	defer unsubscribe()

	b, err := s.opts.Store.GetBuild(r.Context(), id)
	if err != nil {
		s.Fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if b.Status.IsTerminal() {
		s.sendSSEEvent(w, events.Finished(id, string(b.Status), nil))
		return
	}
	s.sendSSEEvent(w, events.StatusUpdate(id, string(b.Status)))

	slog.Debug("Build event stream opened", logfields.BuildID(id))

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("Build event stream closed (client disconnect)", logfields.BuildID(id))
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flush(w)
		case evt, ok := <-eventCh:
			if !ok {
				return
			}
			s.sendSSEEvent(w, evt)
			if evt.IsTerminal() {
				slog.Debug("Build event stream closed (terminal event)", logfields.BuildID(id))
				return
			}
		}
	}
}

// sendSSEEvent writes one event in SSE format and flushes it.
func (s *Server) sendSSEEvent(w http.ResponseWriter, evt events.Event) {
	data, err := json.Marshal(evt.Data())
	if err != nil {
		slog.Error("Failed to marshal SSE event", logfields.Event(string(evt.Type)), logfields.Error(err))
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
