package main

import (
	"encoding/json"
	"io"
	"net/http"

	"lookout/camera"
	"lookout/events"
)

// configView is the editable part of the configuration. Secrets are not
// echoed back.
type configView struct {
	Port           int           `json:"port"`
	StorageCapGB   int           `json:"storage_cap_gb"`
	SegmentLengthS int           `json:"segment_length_s"`
	WindowS        int           `json:"window_s"`
	MuteAudio      bool          `json:"mute_audio"`
	Mode           string        `json:"mode"`
	AutoStart      bool          `json:"auto_start"`
	AutoPublish    bool          `json:"auto_publish"`
	Camera         camera.Config `json:"camera"`
	ObjectStoreURL string        `json:"object_store_url"`
}

// configUpdate fields are applied only when present.
type configUpdate struct {
	StorageCapGB   *int           `json:"storage_cap_gb"`
	SegmentLengthS *int           `json:"segment_length_s"`
	WindowS        *int           `json:"window_s"`
	MuteAudio      *bool          `json:"mute_audio"`
	Mode           *string        `json:"mode"`
	AutoStart      *bool          `json:"auto_start"`
	AutoPublish    *bool          `json:"auto_publish"`
	Camera         *camera.Config `json:"camera"`
}

func (s *APIServer) currentConfigView() configView {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return configView{
		Port:           s.config.Port,
		StorageCapGB:   s.config.StorageCapGB,
		SegmentLengthS: s.config.SegmentLengthS,
		WindowS:        s.config.WindowS,
		MuteAudio:      s.config.MuteAudio,
		Mode:           s.config.Mode,
		AutoStart:      s.config.AutoStart,
		AutoPublish:    s.config.AutoPublish,
		Camera:         s.config.Camera,
		ObjectStoreURL: s.config.ObjectStore.URL,
	}
}

func (s *APIServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentConfigView())
}

// handleUpdateConfig persists changes. Segment, window and mute settings
// apply at the next recorder start; a camera change rebinds the device.
func (s *APIServer) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var update configUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxConfigBodyBytes)).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.configMu.Lock()
	next := *s.config
	if update.StorageCapGB != nil {
		next.StorageCapGB = *update.StorageCapGB
	}
	if update.SegmentLengthS != nil {
		next.SegmentLengthS = *update.SegmentLengthS
	}
	if update.WindowS != nil {
		next.WindowS = *update.WindowS
	}
	if update.MuteAudio != nil {
		next.MuteAudio = *update.MuteAudio
	}
	if update.Mode != nil {
		next.Mode = *update.Mode
	}
	if update.AutoStart != nil {
		next.AutoStart = *update.AutoStart
	}
	if update.AutoPublish != nil {
		next.AutoPublish = *update.AutoPublish
	}
	if update.Camera != nil {
		next.Camera = *update.Camera
	}

	if err := next.Validate(); err != nil || next.StorageCapGB <= 0 {
		s.configMu.Unlock()
		msg := "storage_cap_gb must be positive"
		if err != nil {
			msg = err.Error()
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	// Save config to disk
	if s.configPath != "" {
		if err := SaveConfig(&next, s.configPath); err != nil {
			s.configMu.Unlock()
			s.logger.Printf("Failed to save config: %v", err)
			http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
			return
		}
	}
	*s.config = next
	camCfg := next.CameraConfig()
	s.configMu.Unlock()

	s.service.SetOptions(events.Mode(next.Mode), next.AutoPublish)
	if s.storage != nil {
		s.storage.SetCap(next.StorageCapGB)
	}

	message := "Configuration updated. Recorder settings apply at the next start."
	if update.Camera != nil && s.detect != nil {
		if dev, err := s.detect(camCfg); err != nil {
			s.logger.Printf("Camera rebind after config change failed: %v", err)
			message = "Configuration saved, but the camera could not be rebound: " + err.Error()
		} else {
			s.rec.SetDevice(dev)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": message,
		"config":  s.currentConfigView(),
	})
}
