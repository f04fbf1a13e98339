package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"lookout/camera"
	"lookout/events"
	"lookout/objectstore"
	"lookout/recorder"
)

// DeviceDetector finds the camera to bind, used by rebind requests.
type DeviceDetector func(cfg camera.Config) (recorder.Device, error)

type APIServer struct {
	config     *Config
	configPath string
	configMu   sync.RWMutex

	rec       windowRecorder
	detect    DeviceDetector
	service   *EventService
	store     events.Store
	storage   *StorageManager
	streamMgr *camera.StreamManager
	metrics   *Metrics
	auth      *AuthMiddleware
	logger    *Logger
	server    *http.Server
	startTime time.Time
}

type StorageStats struct {
	UsedBytes int64   `json:"used_bytes"`
	CapBytes  int64   `json:"cap_bytes"`
	UsedGB    float64 `json:"used_gb"`
	CapGB     int     `json:"cap_gb"`
	Percent   int     `json:"percent"`
}

type StatusResponse struct {
	Recorder      recorder.Status `json:"recorder"`
	Storage       StorageStats    `json:"storage"`
	PendingEvents int             `json:"pending_events"`
	Mode          string          `json:"mode"`
	Uptime        string          `json:"uptime"`
}

// ServerDeps groups the collaborators NewAPIServer wires together.
type ServerDeps struct {
	Recorder  windowRecorder
	Detect    DeviceDetector
	Service   *EventService
	Store     events.Store
	Storage   *StorageManager
	StreamMgr *camera.StreamManager
	Metrics   *Metrics
}

func NewAPIServer(config *Config, configPath string, deps ServerDeps, logger *Logger) *APIServer {
	return &APIServer{
		config:     config,
		configPath: configPath,
		rec:        deps.Recorder,
		detect:     deps.Detect,
		service:    deps.Service,
		store:      deps.Store,
		storage:    deps.Storage,
		streamMgr:  deps.StreamMgr,
		metrics:    deps.Metrics,
		auth:       NewAuthMiddleware(config.AuthToken),
		logger:     logger,
		startTime:  time.Now(),
	}
}

// Handler builds the route table.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// No auth
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/ws/status", s.handleStatusWebSocket)

	mux.HandleFunc("POST /api/recorder/start", s.handleRecorderStart)
	mux.HandleFunc("POST /api/recorder/stop", s.handleRecorderStop)
	mux.HandleFunc("POST /api/recorder/device/rebind", s.handleDeviceRebind)

	mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	mux.HandleFunc("GET /api/events", s.handleListEvents)
	mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	mux.HandleFunc("PUT /api/events/{id}/classification", s.handleClassifyEvent)
	mux.HandleFunc("POST /api/events/{id}/publish", s.handlePublishEvent)
	mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	mux.HandleFunc("GET /api/events/{id}/clip", s.handleDownloadClip)

	mux.HandleFunc("GET /api/stream/token", s.handleStreamToken)
	mux.HandleFunc("GET /api/stream/frame", s.handleStreamFrame)
	mux.HandleFunc("GET /api/stream/mjpeg", s.handleStreamMJPEG)

	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handleUpdateConfig)

	return s.auth.Check(mux)
}

func (s *APIServer) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadTimeout:       ServerReadTimeout,
		WriteTimeout:      ServerWriteTimeout,
		IdleTimeout:       ServerIdleTimeout,
		ReadHeaderTimeout: ServerReadHeaderTimeout,
		MaxHeaderBytes:    HTTPMaxHeaderBytes,
	}

	s.logger.Printf("HTTP server starting on port %d", s.config.Port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	switch {
	case errors.Is(err, recorder.ErrNotRecording):
		status = http.StatusConflict
		message = "not recording"
	case errors.Is(err, recorder.ErrNoSegments):
		status = http.StatusConflict
		message = "no footage buffered yet"
	case errors.Is(err, ErrSaveInProgress):
		status = http.StatusConflict
	case errors.Is(err, events.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, objectstore.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	case errors.Is(err, recorder.ErrDeviceUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, recorder.ErrExtractionFailed):
		message = "could not save"
		s.logger.Printf("Extraction failed: %v", err)
	default:
		s.logger.Printf("Request failed: %v", err)
	}

	writeJSON(w, status, map[string]string{"error": message})
}
