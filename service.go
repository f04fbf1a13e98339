package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lookout/camera"
	"lookout/events"
	"lookout/objectstore"
	"lookout/recorder"
)

// ErrSaveInProgress is returned when a trigger arrives while a save runs.
var ErrSaveInProgress = errors.New("a save is already in progress")

// windowRecorder is the part of the recorder the HTTP API and the event
// service drive.
type windowRecorder interface {
	Start(cfg recorder.Config) error
	Stop()
	Status() recorder.Status
	SetDevice(d recorder.Device)
	ExtractWindow(ctx context.Context) (*recorder.ExtractedClip, error)
}

// SaveRequest carries optional context reported with an event.
type SaveRequest struct {
	Source    string   `json:"source,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	SpeedKmh  *float64 `json:"speed_kmh,omitempty"`
	Locality  string   `json:"locality,omitempty"`
	Region    string   `json:"region,omitempty"`
}

// EventService turns the recorder's trailing window into stored events.
type EventService struct {
	rec      windowRecorder
	store    events.Store
	uploader *objectstore.Client
	logger   *Logger
	metrics  *Metrics
	now      func() time.Time

	mu          sync.RWMutex
	mode        events.Mode
	autoPublish bool

	saving atomic.Bool
}

func NewEventService(rec windowRecorder, store events.Store, uploader *objectstore.Client, logger *Logger, metrics *Metrics) *EventService {
	return &EventService{
		rec:      rec,
		store:    store,
		uploader: uploader,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		mode:     events.Mode(DefaultMode),
	}
}

// SetOptions updates the mode stamped on new events and whether they are
// published right after saving.
func (s *EventService) SetOptions(mode events.Mode, autoPublish bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.autoPublish = autoPublish
}

func (s *EventService) options() (events.Mode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode, s.autoPublish
}

// SaveEvent extracts the trailing window and records it as a pending event.
// Recording continues whatever the outcome.
func (s *EventService) SaveEvent(ctx context.Context, req SaveRequest) (*events.Event, error) {
	clip, err := s.rec.ExtractWindow(ctx)
	if err != nil {
		return nil, err
	}
	if clip.Degraded {
		s.logger.Printf("Saved degraded clip %s (%.0fs)", filepath.Base(clip.Path), clip.Duration.Seconds())
	}

	thumb := thumbnailPath(clip.Path)
	if err := camera.WriteThumbnail(clip.Path, thumb); err != nil {
		s.logger.Debugf("No thumbnail for %s: %v", filepath.Base(clip.Path), err)
		thumb = ""
	}

	mode, autoPublish := s.options()
	e := &events.Event{
		CreatedAt:       clip.CreatedAt,
		DurationSeconds: int(math.Round(clip.Duration.Seconds())),
		Mode:            mode,
		Degraded:        clip.Degraded,
		LocalPath:       clip.Path,
		ThumbnailPath:   thumb,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		SpeedKmh:        req.SpeedKmh,
		Locality:        req.Locality,
		Region:          req.Region,
	}
	if err := s.store.Insert(ctx, e); err != nil {
		removeFiles(s.logger, clip.Path, thumb)
		return nil, fmt.Errorf("clip %s discarded, event not recorded: %w", filepath.Base(clip.Path), err)
	}
	s.metrics.EventsSaved.Inc()
	s.logger.Printf("Event %s saved (%ds, %s, source %s)", e.ID, e.DurationSeconds, e.Mode, sourceName(req.Source))

	if autoPublish && s.uploader.Configured() {
		published, err := s.Publish(ctx, e.ID)
		if err != nil {
			s.logger.Printf("Auto-publish of event %s failed: %v", e.ID, err)
			return e, nil
		}
		return published, nil
	}
	return e, nil
}

// HandleTrigger saves an event for a wake trigger. Triggers are dropped
// while recording is off or another trigger is being saved.
func (s *EventService) HandleTrigger(ctx context.Context, source string) (*events.Event, error) {
	if !s.rec.Status().Active {
		s.metrics.TriggersDropped.Inc()
		s.logger.Debugf("Trigger from %s ignored: not recording", sourceName(source))
		return nil, recorder.ErrNotRecording
	}
	if !s.saving.CompareAndSwap(false, true) {
		s.metrics.TriggersDropped.Inc()
		s.logger.Debugf("Trigger from %s ignored: save in progress", sourceName(source))
		return nil, ErrSaveInProgress
	}
	defer s.saving.Store(false)

	return s.SaveEvent(ctx, SaveRequest{Source: source})
}

// Publish uploads an event's clip and thumbnail and marks it published.
func (s *EventService) Publish(ctx context.Context, id uuid.UUID) (*events.Event, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status == events.StatusPublished {
		return e, nil
	}
	if !s.uploader.Configured() {
		return nil, objectstore.ErrNotConfigured
	}

	// Keys are per attempt: objects are never overwritten, so a retry after
	// a partial publish needs fresh ones.
	at := s.now()
	ext := filepath.Ext(e.LocalPath)
	clipURL, err := s.uploader.Upload(ctx, objectstore.ClipKey(at, ext), objectstore.ContentType(ext), e.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to upload clip: %w", err)
	}

	var thumbURL string
	if e.ThumbnailPath != "" {
		thumbURL, err = s.uploader.Upload(ctx, objectstore.ThumbnailKey(at), "image/jpeg", e.ThumbnailPath)
		if err != nil {
			// Publish without a thumbnail
			s.logger.Printf("Thumbnail upload for event %s failed: %v", e.ID, err)
			thumbURL = ""
		}
	}

	if err := s.store.MarkPublished(ctx, id, clipURL, thumbURL); err != nil {
		return nil, err
	}
	s.metrics.EventsPublished.Inc()
	s.logger.Printf("Event %s published", id)
	return s.store.Get(ctx, id)
}

// DeleteEvent removes the event row and its local files.
func (s *EventService) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	removeFiles(s.logger, e.LocalPath, e.ThumbnailPath)
	return nil
}

func removeFiles(logger *Logger, paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Printf("Failed to remove %s: %v", p, err)
		}
	}
}

func thumbnailPath(clipPath string) string {
	return strings.TrimSuffix(clipPath, filepath.Ext(clipPath)) + ThumbnailExt
}

func sourceName(source string) string {
	if source == "" {
		return "api"
	}
	return source
}
