package recorder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ExtractResult labels how a clip was produced.
type ExtractResult string

const (
	ResultExact    ExtractResult = "exact"    // concatenated and trimmed to the window
	ResultDegraded ExtractResult = "degraded" // copy of the most recent segment
	ResultFailed   ExtractResult = "failed"
)

// ExtractedClip is owned by the caller once returned.
type ExtractedClip struct {
	Path      string        `json:"path"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
	Segments  int           `json:"segments"`
	Degraded  bool          `json:"degraded"`
}

// ExtractWindow materializes approximately the last Window of footage into
// a single clip under ClipDir. The in-flight capture is finished early so
// the clip reaches up to now, and the capture loop is resumed before
// returning, whether or not the extraction succeeded.
func (r *Recorder) ExtractWindow(ctx context.Context) (*ExtractedClip, error) {
	r.extractMu.Lock()
	defer r.extractMu.Unlock()

	r.mu.Lock()
	if r.state != StateCapturing {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.holding = true
	r.notifyLocked()
	session, cfg := r.session, r.cfg
	dev, inFlight := r.device, r.issuing
	r.mu.Unlock()

	defer r.resume(ctx, session)

	if inFlight {
		cancelCapture(dev, r.logger)
	}
	err := r.waitFor(ctx, func() bool {
		return !r.issuing || r.state != StateCapturing
	})
	if err != nil {
		r.observer.WindowExtracted(ResultFailed)
		return nil, fmt.Errorf("%w: waiting for capture: %v", ErrExtractionFailed, err)
	}
	sleepContext(ctx, r.settleDelay)

	r.mu.Lock()
	segments := r.chain.snapshot()
	r.mu.Unlock()
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	now := r.clock()
	out := r.clipPath(now, filepath.Ext(segments[len(segments)-1].Path))

	covered, result, err := r.windowBuilder(ctx, session).build(ctx, segments, cfg.Window, out)
	r.observer.WindowExtracted(result)
	if err != nil {
		r.logger.Printf("Could not save clip: %v", err)
		return nil, err
	}

	r.logger.Printf("Saved %s clip %s (%s from %d segment(s))", result, filepath.Base(out), covered, len(segments))
	return &ExtractedClip{
		Path:      out,
		Duration:  covered,
		CreatedAt: now,
		Segments:  len(segments),
		Degraded:  result == ResultDegraded,
	}, nil
}

// resume releases the loop and waits until it has issued the next capture,
// unless the session ended or no device is bound.
func (r *Recorder) resume(ctx context.Context, session uint64) {
	r.mu.Lock()
	r.holding = false
	seq := r.issued
	r.notifyLocked()
	r.mu.Unlock()

	_ = r.waitFor(ctx, func() bool {
		return r.session != session || r.state != StateCapturing || r.device == nil || r.issued > seq
	})
}

// windowBuilder returns the session's cached capability decision, probing
// the transcoder on first use.
func (r *Recorder) windowBuilder(ctx context.Context, session uint64) windowBuilder {
	r.mu.Lock()
	b := r.builder
	r.mu.Unlock()
	if b != nil {
		return b
	}

	fallback := latestSegment{storage: r.storage}
	b = fallback
	if r.transcoder != nil && r.transcoder.Available(ctx) {
		b = concatTrim{
			transcoder: r.transcoder,
			storage:    r.storage,
			tmpDir:     r.tmpDir,
			logger:     r.logger,
			fallback:   fallback,
		}
	} else {
		r.logger.Printf("Transcoder unavailable, clips will hold the latest segment only")
	}

	if ctx.Err() == nil {
		r.mu.Lock()
		if r.session == session {
			r.builder = b
		}
		r.mu.Unlock()
	}
	return b
}

func (r *Recorder) clipPath(now time.Time, ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	base := fmt.Sprintf("clip_%d", now.UnixMilli())
	path := filepath.Join(r.clipDir, base+ext)
	for i := 1; ; i++ {
		info, err := r.storage.Stat(path)
		if err != nil || !info.Exists {
			return path
		}
		path = filepath.Join(r.clipDir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}

// windowBuilder turns a chain snapshot into one output file and reports the
// covered duration.
type windowBuilder interface {
	build(ctx context.Context, segments []Segment, window time.Duration, out string) (time.Duration, ExtractResult, error)
}

// latestSegment copies the most recent segment verbatim. It does not reach
// back the full window.
type latestSegment struct {
	storage Storage
}

func (b latestSegment) build(_ context.Context, segments []Segment, window time.Duration, out string) (time.Duration, ExtractResult, error) {
	last := segments[len(segments)-1]
	if err := b.storage.Copy(last.Path, out); err != nil {
		_ = b.storage.Remove(out)
		return 0, ResultFailed, fmt.Errorf("%w: copy %s: %v", ErrExtractionFailed, filepath.Base(last.Path), err)
	}
	return minDuration(last.Duration, window), ResultDegraded, nil
}

// concatTrim joins the snapshot without re-encoding and cuts the excess head
// so exactly window remains. Any transcode failure degrades to latestSegment.
type concatTrim struct {
	transcoder Transcoder
	storage    Storage
	tmpDir     string
	logger     Logger
	fallback   latestSegment
}

func (b concatTrim) build(ctx context.Context, segments []Segment, window time.Duration, out string) (time.Duration, ExtractResult, error) {
	if len(segments) < 2 {
		return b.fallback.build(ctx, segments, window, out)
	}

	total := TotalDuration(segments)
	if err := b.transcode(ctx, segments, total, window, out); err != nil {
		b.logger.Printf("Transcode failed, saving latest segment instead: %v", err)
		_ = b.storage.Remove(out)
		return b.fallback.build(ctx, segments, window, out)
	}
	return minDuration(total, window), ResultExact, nil
}

func (b concatTrim) transcode(ctx context.Context, segments []Segment, total, window time.Duration, out string) error {
	paths := make([]string, len(segments))
	for i, seg := range segments {
		paths[i] = seg.Path
	}

	ext := filepath.Ext(out)
	joined := filepath.Join(b.tmpDir, "concat_"+strings.TrimSuffix(filepath.Base(out), ext)+ext)
	defer func() {
		if err := b.storage.Remove(joined); err != nil {
			b.logger.Debugf("Failed to remove %s: %v", joined, err)
		}
	}()

	if err := b.transcoder.Concat(ctx, paths, joined); err != nil {
		return fmt.Errorf("concat %d segments: %w", len(paths), err)
	}

	excess := total - window
	if excess <= 0 {
		return b.storage.Copy(joined, out)
	}
	if err := b.transcoder.Trim(ctx, joined, excess, window, out); err != nil {
		return fmt.Errorf("trim %s: %w", excess, err)
	}
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
