// Package events persists metadata for saved clips.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no event has the requested ID.
var ErrNotFound = errors.New("event not found")

// Mode is the capture context of an event.
type Mode string

const (
	ModeMobile     Mode = "mobile"
	ModeStationary Mode = "stationary"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeMobile || m == ModeStationary
}

// Status tracks whether an event's media has been uploaded.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusPublished
}

// Event is one saved clip and what is known about it.
type Event struct {
	ID              uuid.UUID `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Mode            Mode      `json:"mode"`
	Status          Status    `json:"status"`
	Degraded        bool      `json:"degraded"`

	LocalPath     string `json:"local_path"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	ClipURL       string `json:"clip_url,omitempty"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	SpeedKmh  *float64 `json:"speed_kmh,omitempty"`
	Locality  string   `json:"locality,omitempty"`
	Region    string   `json:"region,omitempty"`

	Classification
}

// Classification is the user-supplied description of an event.
type Classification struct {
	EventType string `json:"event_type,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Note      string `json:"note,omitempty"`
	Rating    int    `json:"rating,omitempty"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Mode   Mode
	Status Status
	Limit  int
}

// Store is the event metadata repository.
type Store interface {
	Insert(ctx context.Context, e *Event) error
	Get(ctx context.Context, id uuid.UUID) (*Event, error)
	List(ctx context.Context, f Filter) ([]Event, error)
	Classify(ctx context.Context, id uuid.UUID, c Classification, status Status) error
	MarkPublished(ctx context.Context, id uuid.UUID, clipURL, thumbnailURL string) error
	CountPending(ctx context.Context, mode Mode) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Close() error
}
