package main

import (
	"net/http"
)

func (s *APIServer) handleRecorderStart(w http.ResponseWriter, r *http.Request) {
	s.configMu.RLock()
	cfg := s.config.RecorderConfig()
	s.configMu.RUnlock()

	if err := s.rec.Start(cfg); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.rec.Status())
}

func (s *APIServer) handleRecorderStop(w http.ResponseWriter, r *http.Request) {
	s.rec.Stop()
	if s.streamMgr != nil {
		s.streamMgr.Clear()
	}
	writeJSON(w, http.StatusOK, s.rec.Status())
}

// handleDeviceRebind re-detects the camera, e.g. after it was replugged.
// Recording carries on; the next capture uses the new device.
func (s *APIServer) handleDeviceRebind(w http.ResponseWriter, r *http.Request) {
	if s.detect == nil {
		http.Error(w, "Device detection not available", http.StatusNotImplemented)
		return
	}

	s.configMu.RLock()
	camCfg := s.config.CameraConfig()
	s.configMu.RUnlock()

	dev, err := s.detect(camCfg)
	if err != nil {
		s.logger.Printf("Camera rebind failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	s.rec.SetDevice(dev)
	s.logger.Printf("Camera rebound")
	writeJSON(w, http.StatusOK, s.rec.Status())
}
