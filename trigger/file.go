package trigger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	DefaultPollInterval = 1 * time.Second
	DefaultSettleDelay  = 50 * time.Millisecond // lets the writer finish
)

// FileSource fires whenever the trigger file is written or created.
type FileSource struct {
	Path         string
	PollInterval time.Duration
	Settle       time.Duration
	Logger       Logger

	lastSeen time.Time
}

// NewFileSource watches path; its directory is created if missing.
func NewFileSource(path string, logger Logger) *FileSource {
	if logger == nil {
		logger = nopLogger{}
	}
	return &FileSource{
		Path:         filepath.Clean(path),
		PollInterval: DefaultPollInterval,
		Settle:       DefaultSettleDelay,
		Logger:       logger,
	}
}

func (s *FileSource) Name() string { return "file:" + s.Path }

// Run watches with fsnotify, polling the file's mtime alongside in case
// events are lost. It falls back to polling alone when fsnotify is
// unavailable.
func (s *FileSource) Run(ctx context.Context, fire func()) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create trigger directory: %w", err)
	}
	if info, err := os.Stat(s.Path); err == nil {
		s.lastSeen = info.ModTime()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.Logger.Printf("fsnotify not available, falling back to polling: %v", err)
		return s.poll(ctx, fire)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			s.Logger.Printf("Failed to close watcher: %v", err)
		}
	}()

	if err := watcher.Add(dir); err != nil {
		s.Logger.Printf("Failed to watch trigger directory, falling back to polling: %v", err)
		return s.poll(ctx, fire)
	}

	pollTicker := time.NewTicker(s.pollInterval())
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				s.Logger.Printf("fsnotify watcher closed, switching to polling")
				return s.poll(ctx, fire)
			}
			if filepath.Clean(event.Name) == s.Path && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.check(ctx, fire)
			}

		case <-pollTicker.C:
			s.check(ctx, fire)

		case err, ok := <-watcher.Errors:
			if !ok {
				s.Logger.Printf("fsnotify error channel closed, switching to polling")
				return s.poll(ctx, fire)
			}
			s.Logger.Printf("Trigger watcher error: %v", err)
		}
	}
}

func (s *FileSource) poll(ctx context.Context, fire func()) error {
	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.check(ctx, fire)
		}
	}
}

// check fires when the file's mtime moved past the last one seen, so one
// write produces one trigger however many events it raised.
func (s *FileSource) check(ctx context.Context, fire func()) {
	info, err := os.Stat(s.Path)
	if err != nil || !info.ModTime().After(s.lastSeen) {
		return
	}

	select {
	case <-time.After(s.Settle):
	case <-ctx.Done():
		return
	}
	if info, err = os.Stat(s.Path); err != nil {
		return
	}
	s.lastSeen = info.ModTime()
	s.Logger.Debugf("Trigger file %s changed", s.Path)
	fire()
}

func (s *FileSource) pollInterval() time.Duration {
	if s.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return s.PollInterval
}
