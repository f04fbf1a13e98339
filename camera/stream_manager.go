package camera

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// DefaultFrameInterval refreshes the preview at 10 Hz.
const DefaultFrameInterval = 100 * time.Millisecond

// StreamManager caches the latest preview frame for HTTP clients.
type StreamManager struct {
	logger      Logger
	mu          sync.RWMutex
	latestFrame []byte
	updatedAt   time.Time
}

func NewStreamManager(logger Logger) *StreamManager {
	return &StreamManager{logger: orNop(logger)}
}

// Run polls the newest segment in dir until ctx is done. Segments are
// readable while being written, so the preview tracks the live capture.
func (sm *StreamManager) Run(ctx context.Context, dir string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if frame := ExtractFrameFromLatestSegment(dir, sm.logger); len(frame) > 0 {
				sm.UpdateFrame(frame)
			}
		}
	}
}

// UpdateFrame stores the latest frame
func (sm *StreamManager) UpdateFrame(frameData []byte) {
	if len(frameData) == 0 {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.latestFrame = make([]byte, len(frameData))
	copy(sm.latestFrame, frameData)
	sm.updatedAt = time.Now()
}

// Clear drops the cached frame, e.g. when recording stops.
func (sm *StreamManager) Clear() {
	sm.mu.Lock()
	sm.latestFrame = nil
	sm.updatedAt = time.Time{}
	sm.mu.Unlock()
}

// GetLatestFrame returns a copy of the latest JPEG frame
func (sm *StreamManager) GetLatestFrame() []byte {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if len(sm.latestFrame) == 0 {
		return nil
	}
	frame := make([]byte, len(sm.latestFrame))
	copy(frame, sm.latestFrame)
	return frame
}

// ServeJPEG writes the latest frame, or 503 while none is available.
func (sm *StreamManager) ServeJPEG(w http.ResponseWriter, r *http.Request) {
	frame := sm.GetLatestFrame()
	if len(frame) == 0 {
		http.Error(w, "Recording is initializing - no frames available yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}
