package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"lookout/camera"
	"lookout/events"
	"lookout/objectstore"
	"lookout/recorder"
)

const testToken = "test-token"

// clipBytes is a tiny MJPEG payload with one complete frame.
func clipBytes(tag string) []byte {
	var b bytes.Buffer
	b.WriteString(tag)
	b.Write(bytes.Repeat([]byte{0x00}, 128))
	b.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0, 'j', 'p', 'g', 0xFF, 0xD9})
	return b.Bytes()
}

// fakeRecorder stands in for *recorder.Recorder.
type fakeRecorder struct {
	dir string

	mu         sync.Mutex
	active     bool
	starts     []recorder.Config
	stops      int
	device     recorder.Device
	extractErr error
	duration   time.Duration
	degraded   bool
	extracts   int
	block      chan struct{} // when set, ExtractWindow waits on it
	clock      time.Time
}

func newFakeRecorder(t *testing.T) *fakeRecorder {
	t.Helper()
	return &fakeRecorder{
		dir:      t.TempDir(),
		duration: 30 * time.Second,
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRecorder) Start(cfg recorder.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, cfg)
	f.active = true
	return nil
}

func (f *fakeRecorder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.active = false
}

func (f *fakeRecorder) Status() recorder.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := recorder.Status{Active: f.active, State: recorder.StateIdle.String()}
	if f.active {
		st.State = recorder.StateCapturing.String()
	}
	return st
}

func (f *fakeRecorder) SetDevice(d recorder.Device) {
	f.mu.Lock()
	f.device = d
	f.mu.Unlock()
}

func (f *fakeRecorder) ExtractWindow(ctx context.Context) (*recorder.ExtractedClip, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return nil, recorder.ErrNotRecording
	}
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	f.extracts++
	f.clock = f.clock.Add(time.Second)
	path := filepath.Join(f.dir, fmt.Sprintf("clip_%d.mkv", f.clock.UnixMilli()))
	if err := os.WriteFile(path, clipBytes(fmt.Sprintf("clip %d\n", f.extracts)), 0644); err != nil {
		return nil, err
	}
	return &recorder.ExtractedClip{
		Path:      path,
		Duration:  f.duration,
		CreatedAt: f.clock,
		Segments:  15,
		Degraded:  f.degraded,
	}, nil
}

func (f *fakeRecorder) extractCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extracts
}

// nopDevice satisfies recorder.Device for rebind tests.
type nopDevice struct{ name string }

func (nopDevice) Capture(ctx context.Context, _ recorder.CaptureRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// uploadServer records object-store uploads.
type uploadServer struct {
	*httptest.Server

	mu     sync.Mutex
	keys   []string
	status int
	// rejectDuplicates answers 409 for keys already stored, like a bucket
	// that refuses overwrites.
	rejectDuplicates bool
}

func newUploadServer(t *testing.T) *uploadServer {
	t.Helper()
	u := &uploadServer{status: http.StatusOK}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		u.mu.Lock()
		status := u.status
		if u.rejectDuplicates {
			for _, k := range u.keys {
				if k == r.URL.Path {
					status = http.StatusConflict
				}
			}
		}
		if status < 300 {
			u.keys = append(u.keys, r.URL.Path)
		}
		u.mu.Unlock()
		w.WriteHeader(status)
		fmt.Fprint(w, `{"Key":"ok"}`)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *uploadServer) uploaded() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.keys...)
}

// flakyStore injects write failures into a real store.
type flakyStore struct {
	events.Store

	mu          sync.Mutex
	insertErr   error
	publishErrs int
}

func (f *flakyStore) Insert(ctx context.Context, e *events.Event) error {
	f.mu.Lock()
	err := f.insertErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Insert(ctx, e)
}

func (f *flakyStore) MarkPublished(ctx context.Context, id uuid.UUID, clipURL, thumbnailURL string) error {
	f.mu.Lock()
	fail := f.publishErrs > 0
	if fail {
		f.publishErrs--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("db down")
	}
	return f.Store.MarkPublished(ctx, id, clipURL, thumbnailURL)
}

// steppingClock returns a clock that advances one millisecond per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

type testEnv struct {
	rec     *fakeRecorder
	store   *events.SQLStore
	service *EventService
	metrics *Metrics
	server  *APIServer
	handler http.Handler
	config  *Config
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T, uploader *objectstore.Client) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	store, err := events.Open(context.Background(), events.DriverSQLite, filepath.Join(dataDir, "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logs := &bytes.Buffer{}
	logger := newLoggerTo(logs, true)
	metrics := NewMetrics()
	rec := newFakeRecorder(t)

	config := DefaultConfig()
	config.DataDir = dataDir
	config.AuthToken = testToken

	service := NewEventService(rec, store, uploader, logger, metrics)
	service.SetOptions(events.Mode(config.Mode), config.AutoPublish)

	sm, err := NewStorageManager(rec.dir, filepath.Join(dataDir, "tmp"), config.StorageCapGB, store, logger, metrics)
	if err != nil {
		t.Fatalf("storage manager: %v", err)
	}

	server := NewAPIServer(config, filepath.Join(dataDir, "config.json"), ServerDeps{
		Recorder: rec,
		Detect: func(cfg camera.Config) (recorder.Device, error) {
			if cfg.Device == "" {
				return nil, fmt.Errorf("no device configured")
			}
			return nopDevice{name: cfg.Device}, nil
		},
		Service:   service,
		Store:     store,
		Storage:   sm,
		StreamMgr: camera.NewStreamManager(logger),
		Metrics:   metrics,
	}, logger)

	return &testEnv{
		rec:     rec,
		store:   store,
		service: service,
		metrics: metrics,
		server:  server,
		handler: server.Handler(),
		config:  config,
		logs:    logs,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}
