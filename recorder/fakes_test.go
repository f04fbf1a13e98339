package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// captureStep scripts one Capture call. Once the script runs out the device
// blocks until cancelled.
type captureStep struct {
	duration time.Duration
	err      error
	noFile   bool
}

type fakeDevice struct {
	clock    *fakeClock
	cancelCh chan struct{}

	mu          sync.Mutex
	steps       []captureStep
	partial     time.Duration // written on cancel; zero produces no file
	calls       int
	inFlight    int
	maxInFlight int
	blocked     bool
}

func newFakeDevice(clock *fakeClock, steps ...captureStep) *fakeDevice {
	return &fakeDevice{
		clock:    clock,
		steps:    steps,
		cancelCh: make(chan struct{}, 1),
	}
}

func (d *fakeDevice) Capture(ctx context.Context, req CaptureRequest) (string, error) {
	// Cancels aimed at an earlier capture do not carry over.
	select {
	case <-d.cancelCh:
	default:
	}

	d.mu.Lock()
	d.calls++
	n := d.calls
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	var step *captureStep
	if len(d.steps) > 0 {
		s := d.steps[0]
		d.steps = d.steps[1:]
		step = &s
	}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.blocked = false
		d.mu.Unlock()
	}()

	if step != nil {
		d.clock.Advance(step.duration)
		if step.noFile {
			return "", step.err
		}
		path, err := writeSegment(req.Dir, n)
		if err != nil {
			return "", err
		}
		return path, step.err
	}

	d.mu.Lock()
	d.blocked = true
	d.mu.Unlock()

	select {
	case <-d.cancelCh:
		d.mu.Lock()
		partial := d.partial
		d.mu.Unlock()
		if partial <= 0 {
			return "", errors.New("capture cancelled before first frame")
		}
		d.clock.Advance(partial)
		return writeSegment(req.Dir, n)
	case <-ctx.Done():
		path, _ := writeSegment(req.Dir, n)
		return path, ctx.Err()
	}
}

func (d *fakeDevice) Cancel() error {
	select {
	case d.cancelCh <- struct{}{}:
	default:
	}
	return nil
}

func (d *fakeDevice) isBlocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blocked
}

func (d *fakeDevice) stats() (calls, maxInFlight int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls, d.maxInFlight
}

func writeSegment(dir string, n int) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("segment_%03d.mkv", n))
	if err := os.WriteFile(path, []byte(fmt.Sprintf("segment %d\n", n)), 0644); err != nil {
		return "", err
	}
	return path, nil
}

type trimCall struct {
	skip time.Duration
	keep time.Duration
}

type fakeTranscoder struct {
	mu             sync.Mutex
	available      bool
	availableCalls int
	concatErr      error
	trimErr        error
	concats        [][]string
	trims          []trimCall
}

func (f *fakeTranscoder) Available(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availableCalls++
	return f.available
}

func (f *fakeTranscoder) Concat(_ context.Context, files []string, out string) error {
	f.mu.Lock()
	f.concats = append(f.concats, append([]string(nil), files...))
	err := f.concatErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	var b strings.Builder
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		b.Write(data)
	}
	return os.WriteFile(out, []byte(b.String()), 0644)
}

func (f *fakeTranscoder) Trim(_ context.Context, in string, skip, keep time.Duration, out string) error {
	f.mu.Lock()
	f.trims = append(f.trims, trimCall{skip: skip, keep: keep})
	err := f.trimErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0644)
}

// failingStorage is LocalStorage with injectable failures.
type failingStorage struct {
	LocalStorage
	ensureErr error
	copyErr   error
}

func (s failingStorage) EnsureDir(path string) error {
	if s.ensureErr != nil {
		return s.ensureErr
	}
	return s.LocalStorage.EnsureDir(path)
}

func (s failingStorage) Copy(src, dst string) error {
	if s.copyErr != nil {
		return s.copyErr
	}
	return s.LocalStorage.Copy(src, dst)
}

type recordingObserver struct {
	nopObserver
	mu      sync.Mutex
	results []ExtractResult
	evicted int
}

func (o *recordingObserver) SegmentsEvicted(n int) {
	o.mu.Lock()
	o.evicted += n
	o.mu.Unlock()
}

func (o *recordingObserver) WindowExtracted(result ExtractResult) {
	o.mu.Lock()
	o.results = append(o.results, result)
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() ([]ExtractResult, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ExtractResult(nil), o.results...), o.evicted
}

type testRig struct {
	clock    *fakeClock
	device   *fakeDevice
	observer *recordingObserver
	rec      *Recorder
}

func newTestRig(t *testing.T, dev *fakeDevice, tc Transcoder, storage Storage) *testRig {
	t.Helper()
	rig := &testRig{
		device:   dev,
		observer: &recordingObserver{},
	}
	if dev != nil {
		rig.clock = dev.clock
	} else {
		rig.clock = newFakeClock()
	}

	opts := Options{
		Dir:          t.TempDir(),
		Transcoder:   tc,
		Storage:      storage,
		Observer:     rig.observer,
		Clock:        rig.clock.Now,
		RestartDelay: time.Millisecond,
		SettleDelay:  time.Millisecond,
		RetryDelay:   time.Millisecond,
	}
	if dev != nil {
		opts.Device = dev
	}

	rec, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(rec.Stop)
	rig.rec = rec
	return rig
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
