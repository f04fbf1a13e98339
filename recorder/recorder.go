package recorder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

const (
	DefaultSegmentDuration = 2 * time.Second
	DefaultWindow          = 30 * time.Second
	DefaultRestartDelay    = 100 * time.Millisecond // lets the camera driver settle between segments
	DefaultSettleDelay     = 250 * time.Millisecond // lets the flushed segment reach storage
	DefaultRetryDelay      = 500 * time.Millisecond // device not bound yet

	errorLogThrottle = 5 * time.Second
)

// State is the recorder lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateCapturing
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config is fixed for the lifetime of one recording session.
type Config struct {
	SegmentDuration time.Duration `json:"segment_duration"`
	Window          time.Duration `json:"window"`
	MuteAudio       bool          `json:"mute_audio"`
}

// DefaultConfig returns a 2s segment / 30s window configuration.
func DefaultConfig() Config {
	return Config{
		SegmentDuration: DefaultSegmentDuration,
		Window:          DefaultWindow,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = DefaultSegmentDuration
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Status is a value snapshot of the recorder.
type Status struct {
	Active           bool          `json:"active"`
	State            string        `json:"state"`
	ElapsedSeconds   int           `json:"elapsed_seconds"`
	BufferedSegments int           `json:"buffered_segments"`
	BufferedDuration time.Duration `json:"buffered_duration"`
	CapturesIssued   uint64        `json:"captures_issued"`
	SegmentDuration  time.Duration `json:"segment_duration"`
	Window           time.Duration `json:"window"`
}

// Options wire the recorder's collaborators.
type Options struct {
	// Dir holds the segments/, clips/ and tmp/ subdirectories.
	Dir        string
	Device     Device
	Storage    Storage
	Transcoder Transcoder // nil means no transcode capability
	Logger     Logger
	Observer   Observer
	Clock      func() time.Time

	RestartDelay time.Duration
	SettleDelay  time.Duration
	RetryDelay   time.Duration
}

// Recorder keeps a camera recording indefinitely as a chain of bounded
// segments and materializes the trailing window on demand.
type Recorder struct {
	segmentDir string
	clipDir    string
	tmpDir     string

	storage    Storage
	transcoder Transcoder
	logger     Logger
	observer   Observer
	clock      func() time.Time

	restartDelay time.Duration
	settleDelay  time.Duration
	retryDelay   time.Duration

	opMu      sync.Mutex // serializes Start and Stop
	extractMu sync.Mutex // serializes extraction and teardown

	mu        sync.Mutex
	changed   chan struct{} // closed and replaced on every change under mu
	state     State
	cfg       Config
	device    Device
	chain     chain
	startedAt time.Time
	issuing   bool // a bounded capture is in flight
	holding   bool // an extraction holds the loop between captures
	issued    uint64
	session   uint64
	cancel    context.CancelFunc
	loopDone  chan struct{}
	builder   windowBuilder // capability decision cached per session
	lastErrAt time.Time
}

// New creates an idle recorder.
func New(opts Options) (*Recorder, error) {
	if opts.Dir == "" {
		return nil, errors.New("recorder directory must not be empty")
	}

	r := &Recorder{
		segmentDir:   filepath.Join(opts.Dir, "segments"),
		clipDir:      filepath.Join(opts.Dir, "clips"),
		tmpDir:       filepath.Join(opts.Dir, "tmp"),
		storage:      opts.Storage,
		transcoder:   opts.Transcoder,
		logger:       opts.Logger,
		observer:     opts.Observer,
		clock:        opts.Clock,
		restartDelay: opts.RestartDelay,
		settleDelay:  opts.SettleDelay,
		retryDelay:   opts.RetryDelay,
		device:       opts.Device,
		changed:      make(chan struct{}),
	}
	if r.storage == nil {
		r.storage = LocalStorage{}
	}
	if r.logger == nil {
		r.logger = nopLogger{}
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.restartDelay <= 0 {
		r.restartDelay = DefaultRestartDelay
	}
	if r.settleDelay <= 0 {
		r.settleDelay = DefaultSettleDelay
	}
	if r.retryDelay <= 0 {
		r.retryDelay = DefaultRetryDelay
	}
	return r, nil
}

// SegmentDir returns the directory segments are written to.
func (r *Recorder) SegmentDir() string { return r.segmentDir }

// ClipDir returns the directory extracted clips are written to.
func (r *Recorder) ClipDir() string { return r.clipDir }

// TempDir returns the directory used for extraction intermediates.
func (r *Recorder) TempDir() string { return r.tmpDir }

// SetDevice binds or rebinds the camera. An in-flight capture finishes on the
// old device; the next one is issued against d.
func (r *Recorder) SetDevice(d Device) {
	r.mu.Lock()
	r.device = d
	r.notifyLocked()
	r.mu.Unlock()
}

// Start begins the self-restarting capture loop. It is a no-op while a
// session is already starting or capturing.
func (r *Recorder) Start(cfg Config) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return nil
	}
	r.setStateLocked(StateStarting)
	r.mu.Unlock()
	r.observer.StateChanged(StateStarting)

	cfg = cfg.withDefaults()
	for _, dir := range []string{r.segmentDir, r.clipDir, r.tmpDir} {
		if err := r.storage.EnsureDir(dir); err != nil {
			r.mu.Lock()
			r.setStateLocked(StateIdle)
			r.mu.Unlock()
			r.observer.StateChanged(StateIdle)
			return fmt.Errorf("%w: %s: %v", ErrStorageFailed, dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	r.cfg = cfg
	r.chain = chain{}
	r.startedAt = r.clock()
	r.session++
	r.issued = 0
	r.issuing = false
	r.holding = false
	r.builder = nil
	r.cancel = cancel
	r.loopDone = done
	r.setStateLocked(StateCapturing)
	r.mu.Unlock()
	r.observer.StateChanged(StateCapturing)

	r.logger.Printf("Recording started: %s segments, %s window, mute=%t", cfg.SegmentDuration, cfg.Window, cfg.MuteAudio)
	go r.run(ctx, done)
	return nil
}

// Stop cancels the in-flight capture, deletes every buffered segment and
// returns to idle. It is a no-op when not capturing.
func (r *Recorder) Stop() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.state != StateCapturing {
		r.mu.Unlock()
		return
	}
	r.setStateLocked(StateStopping)
	cancel, done := r.cancel, r.loopDone
	dev, inFlight := r.device, r.issuing
	r.mu.Unlock()
	r.observer.StateChanged(StateStopping)

	if inFlight {
		cancelCapture(dev, r.logger)
	}
	cancel()
	<-done

	// Wait out a running extraction before its snapshot files disappear.
	r.extractMu.Lock()
	r.mu.Lock()
	segments := r.chain.drain()
	r.startedAt = time.Time{}
	r.cancel = nil
	r.loopDone = nil
	r.builder = nil
	r.setStateLocked(StateIdle)
	r.mu.Unlock()
	r.extractMu.Unlock()

	for _, seg := range segments {
		if err := r.storage.Remove(seg.Path); err != nil {
			r.logger.Debugf("Failed to remove segment %s: %v", filepath.Base(seg.Path), err)
		}
	}
	r.observer.StateChanged(StateIdle)
	r.logger.Printf("Recording stopped, discarded %d buffered segment(s)", len(segments))
}

// Status returns a point-in-time snapshot.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Active:           r.state == StateCapturing,
		State:            r.state.String(),
		BufferedSegments: r.chain.len(),
		BufferedDuration: r.chain.total,
		CapturesIssued:   r.issued,
		SegmentDuration:  r.cfg.SegmentDuration,
		Window:           r.cfg.Window,
	}
	if st.Active {
		st.ElapsedSeconds = int(r.clock().Sub(r.startedAt) / time.Second)
	}
	return st
}

// Segments returns a copy of the buffered chain, oldest first.
func (r *Recorder) Segments() []Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chain.snapshot()
}

// run is the capture loop of one session.
func (r *Recorder) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		dev, req, ok := r.beginCapture(ctx)
		if !ok {
			return
		}
		if dev == nil {
			r.logThrottled("%v: no camera bound, retrying in %s", ErrDeviceUnavailable, r.retryDelay)
			if !sleepContext(ctx, r.retryDelay) {
				return
			}
			continue
		}

		started := r.clock()
		path, err := dev.Capture(ctx, req)
		r.completeCapture(ctx, path, started, err)

		if !sleepContext(ctx, r.restartDelay) {
			return
		}
	}
}

// beginCapture waits until no extraction holds the loop, then marks a capture
// as in flight. A nil device means the caller should retry later.
func (r *Recorder) beginCapture(ctx context.Context) (Device, CaptureRequest, bool) {
	for {
		err := r.waitFor(ctx, func() bool {
			return r.state != StateCapturing || !r.holding
		})
		if err != nil {
			return nil, CaptureRequest{}, false
		}

		r.mu.Lock()
		if r.state == StateCapturing && r.holding {
			r.mu.Unlock()
			continue
		}
		if r.state != StateCapturing || r.issuing {
			r.mu.Unlock()
			return nil, CaptureRequest{}, false
		}
		if r.device == nil {
			r.notifyLocked()
			r.mu.Unlock()
			return nil, CaptureRequest{}, true
		}
		r.issuing = true
		r.issued++
		r.notifyLocked()
		dev := r.device
		req := CaptureRequest{
			Dir:         r.segmentDir,
			MaxDuration: r.cfg.SegmentDuration,
			Mute:        r.cfg.MuteAudio,
		}
		r.mu.Unlock()
		return dev, req, true
	}
}

// completeCapture is the capture-completion handler. It always releases the
// issuing guard.
func (r *Recorder) completeCapture(ctx context.Context, path string, started time.Time, captureErr error) {
	observed := r.clock().Sub(started)

	failure := captureErr
	if failure == nil && path == "" {
		failure = errEmptySegment
	}
	if failure == nil {
		info, err := r.storage.Stat(path)
		switch {
		case err != nil:
			failure = err
		case !info.Exists || info.Size == 0:
			failure = errEmptySegment
		}
	}

	var (
		evicted  []Segment
		seg      Segment
		buffered int
		appended bool
	)

	r.mu.Lock()
	r.issuing = false
	active := r.state == StateCapturing
	if failure == nil && active {
		seg = Segment{
			Path:      path,
			Duration:  clampDuration(observed, r.cfg.SegmentDuration),
			StartedAt: started,
		}
		evicted = r.chain.push(seg, r.cfg.Window)
		buffered = r.chain.len()
		appended = true
	}
	r.notifyLocked()
	r.mu.Unlock()

	if !appended && path != "" {
		if err := r.storage.Remove(path); err != nil {
			r.logger.Debugf("Failed to discard segment %s: %v", filepath.Base(path), err)
		}
	}

	switch {
	case appended:
		r.logger.Debugf("Segment buffered: %s (%s), %d in buffer", filepath.Base(seg.Path), seg.Duration, buffered)
		r.observer.SegmentCaptured(seg, buffered)
	case active && ctx.Err() == nil:
		err := fmt.Errorf("%w: %v", ErrCaptureFailed, failure)
		r.logThrottled("Recording error: %v", err)
		r.observer.CaptureFailed(err)
	}

	for _, old := range evicted {
		if err := r.storage.Remove(old.Path); err != nil {
			r.logger.Debugf("Failed to evict segment %s: %v", filepath.Base(old.Path), err)
		}
	}
	if len(evicted) > 0 {
		r.observer.SegmentsEvicted(len(evicted))
	}
}

func (r *Recorder) setStateLocked(s State) {
	r.state = s
	r.notifyLocked()
}

func (r *Recorder) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// waitFor blocks until cond, evaluated under r.mu, holds or ctx is done.
func (r *Recorder) waitFor(ctx context.Context, cond func() bool) error {
	for {
		r.mu.Lock()
		if cond() {
			r.mu.Unlock()
			return nil
		}
		ch := r.changed
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Recorder) logThrottled(format string, v ...interface{}) {
	now := r.clock()
	r.mu.Lock()
	if !r.lastErrAt.IsZero() && now.Sub(r.lastErrAt) < errorLogThrottle {
		r.mu.Unlock()
		return
	}
	r.lastErrAt = now
	r.mu.Unlock()
	r.logger.Printf(format, v...)
}

func cancelCapture(dev Device, logger Logger) {
	c, ok := dev.(Canceler)
	if !ok {
		return
	}
	if err := c.Cancel(); err != nil {
		logger.Debugf("Failed to cancel capture: %v", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
