package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/me/cotask/internal/scheduler"
)

// handleSSEProgress streams executor snapshots via Server-Sent Events.
// GET /api/v1/sse/progress
func (s *Server) handleSSEProgress(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.progress == nil {
		respondError(w, reqID, http.StatusNotFound, errNoExecutor)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	snap := s.progress.Snapshot()
	if err := sendSSEEvent(w, flusher, "init", snap); err != nil {
		s.logger.Debug("sse client disconnected", "error", err)
		return
	}
	if snap.Done() && snap.Tick > 0 {
		sendSSEEvent(w, flusher, "complete", snap)
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	lastTick := snap.Tick
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			snap = s.progress.Snapshot()
			if snap.Tick == lastTick {
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
				continue
			}
			lastTick = snap.Tick

			event := "update"
			if snap.Done() {
				event = "complete"
			}
			if err := sendSSEEvent(w, flusher, event, snap); err != nil {
				s.logger.Debug("sse client disconnected", "run_id", snap.RunID)
				return
			}
			if event == "complete" {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, snap scheduler.Snapshot) error {
	jsonData, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
