package main

import (
	"fmt"
	"net/http"
	"time"
)

// handleStreamToken issues a short-lived token that <img> and <video> tags
// can pass as ?st= instead of the bearer token.
func (s *APIServer) handleStreamToken(w http.ResponseWriter, r *http.Request) {
	token, expires, err := s.auth.GenerateStreamToken()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expires,
	})
}

// handleStreamFrame serves the latest JPEG frame from the live stream
func (s *APIServer) handleStreamFrame(w http.ResponseWriter, r *http.Request) {
	if !s.rec.Status().Active {
		http.Error(w, "Not recording", http.StatusServiceUnavailable)
		return
	}
	s.streamMgr.ServeJPEG(w, r)
}

// handleStreamMJPEG serves continuous MJPEG stream (multipart)
func (s *APIServer) handleStreamMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	const boundary = "frame"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Connection", "close")

	s.logger.Printf("MJPEG stream client connected")
	defer s.logger.Printf("MJPEG stream client disconnected")

	// Stream frames continuously at target FPS
	ticker := time.NewTicker(time.Duration(MJPEGStreamIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	frameCount := 0
	noFrameCount := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frameData := s.streamMgr.GetLatestFrame()
			if len(frameData) == 0 {
				noFrameCount++
				if noFrameCount > MJPEGNoFrameTimeout {
					s.logger.Printf("MJPEG stream: No frames timeout, closing connection")
					return
				}
				continue
			}
			noFrameCount = 0

			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frameData)); err != nil {
				return
			}
			if _, err := w.Write(frameData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}

			flusher.Flush()
			frameCount++

			if frameCount%StreamLogInterval == 0 {
				s.logger.Debugf("MJPEG stream: sent %d frames", frameCount)
			}
		}
	}
}
