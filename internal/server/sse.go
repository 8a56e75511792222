package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/jonathan/storefront-agent/internal/types"
)

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent("error", map[string]string{"error": message}) //nolint:errcheck
}

// WriteComplete sends a completion event
func (s *SSEWriter) WriteComplete(runID string, status types.RunStatus) {
	s.WriteEvent("complete", map[string]string{ //nolint:errcheck
		"run_id": runID,
		"status": string(status),
	})
}

// handleRunEvents streams a run's metadata as it changes until the run is terminal
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	run, err := s.deps.Store.GetRun(r.Context(), id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	var last map[string]any
	for {
		if last == nil || !reflect.DeepEqual(last, run.Metadata) {
			if err := sse.WriteEvent("run", run); err != nil {
				return
			}
			last = run.Metadata
			if last == nil {
				last = map[string]any{}
			}
		}
		if run.IsTerminal() {
			sse.WriteComplete(run.ID.String(), run.Status)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		next, err := s.deps.Store.GetRun(r.Context(), id)
		if err != nil || next == nil {
			sse.WriteError("run lookup failed")
			return
		}
		if next.Status != run.Status {
			last = nil
		}
		run = next
	}
}
