package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"lookout/events"
	"lookout/objectstore"
)

// handleCreateEvent saves the trailing window as a new event. The body is
// optional and may carry location context.
func (s *APIServer) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxConfigBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), SaveTimeout)
	defer cancel()

	e, err := s.service.SaveEvent(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *APIServer) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := events.Filter{
		Mode:   events.Mode(q.Get("mode")),
		Status: events.Status(q.Get("status")),
	}
	if filter.Mode != "" && !filter.Mode.Valid() {
		http.Error(w, "Invalid mode", http.StatusBadRequest)
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	list, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": list,
	})
}

// eventID parses the {id} path segment, writing a 400 when it is malformed.
func eventID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid event ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *APIServer) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	e, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// classifyRequest is a classification with an optional status change.
type classifyRequest struct {
	events.Classification
	Status events.Status `json:"status,omitempty"`
}

func (s *APIServer) handleClassifyEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	var req classifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxConfigBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Rating < 0 || req.Rating > 5 {
		http.Error(w, "Rating must be between 0 and 5", http.StatusBadRequest)
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}

	if err := s.store.Classify(r.Context(), id, req.Classification, req.Status); err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *APIServer) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), PublishTimeout)
	defer cancel()

	e, err := s.service.Publish(ctx, id)
	if err != nil {
		if !errors.Is(err, events.ErrNotFound) && !errors.Is(err, objectstore.ErrNotConfigured) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *APIServer) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteEvent(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleDownloadClip(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	e, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Verify file still exists; the storage manager may have evicted it
	if _, err := os.Stat(e.LocalPath); err != nil {
		http.Error(w, "Clip not found", http.StatusNotFound)
		return
	}

	filename := filepath.Base(e.LocalPath)
	w.Header().Set("Content-Type", objectstore.ContentType(filepath.Ext(filename)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeFile(w, r, e.LocalPath)
}
