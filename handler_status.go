package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"lookout/events"
)

var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *APIServer) buildStatus(ctx context.Context) (StatusResponse, error) {
	s.configMu.RLock()
	mode := s.config.Mode
	capGB := s.config.StorageCapGB
	s.configMu.RUnlock()

	status := StatusResponse{
		Recorder: s.rec.Status(),
		Mode:     mode,
		Uptime:   fmt.Sprintf("%d seconds", int(time.Since(s.startTime).Seconds())),
	}

	if s.storage != nil {
		used, cap, err := s.storage.GetStorageStats(ctx)
		if err != nil {
			return status, fmt.Errorf("failed to get storage stats: %w", err)
		}
		percent := 0
		if cap > 0 {
			percent = int((used * 100) / cap)
		}
		status.Storage = StorageStats{
			UsedBytes: used,
			CapBytes:  cap,
			UsedGB:    float64(used) / BytesPerGB,
			CapGB:     capGB,
			Percent:   percent,
		}
	}

	pending, err := s.store.CountPending(ctx, events.Mode(mode))
	if err != nil {
		return status, err
	}
	status.PendingEvents = pending
	return status, nil
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.buildStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStatusWebSocket pushes the status every StatusPushInterval until the
// client goes away.
func (s *APIServer) handleStatusWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so close messages are noticed
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debugf("Status websocket read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(StatusPushInterval)
	defer ticker.Stop()

	for {
		status, err := s.buildStatus(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Debugf("Status websocket: %v", err)
		}
		conn.SetWriteDeadline(time.Now().Add(StatusPushInterval))
		if err := conn.WriteJSON(status); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}
