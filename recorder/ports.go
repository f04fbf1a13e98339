package recorder

import (
	"context"
	"time"
)

// Logger interface for the recorder package to avoid circular dependencies
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// CaptureRequest describes one bounded capture call.
type CaptureRequest struct {
	Dir         string        // directory the segment file must be written to
	MaxDuration time.Duration // hard upper bound of the capture
	Mute        bool          // record video only
}

// Device records one bounded segment at a time. Capture blocks until the
// segment is finished, the capture is cancelled, or ctx is done. It returns
// the path of the produced file whenever one exists, even alongside an error,
// so the caller can dispose of partial output.
type Device interface {
	Capture(ctx context.Context, req CaptureRequest) (string, error)
}

// Canceler is implemented by devices that can finish an in-flight capture
// early, flushing the partial segment to storage.
type Canceler interface {
	Cancel() error
}

// FileInfo is the result of a storage existence check.
type FileInfo struct {
	Exists bool
	Size   int64
}

// Storage is the filesystem surface used for segments, clips and temporaries.
// Remove must be idempotent.
type Storage interface {
	EnsureDir(path string) error
	Remove(path string) error
	Copy(src, dst string) error
	Stat(path string) (FileInfo, error)
}

// Transcoder is the optional concatenation/trim capability. Both operations
// are stream copies; out is always a new file.
type Transcoder interface {
	Available(ctx context.Context) bool
	Concat(ctx context.Context, files []string, out string) error
	Trim(ctx context.Context, in string, skip, keep time.Duration, out string) error
}

// Observer receives recorder lifecycle notifications. Calls are made outside
// the recorder's lock and must not call back into the recorder.
type Observer interface {
	StateChanged(state State)
	SegmentCaptured(seg Segment, buffered int)
	CaptureFailed(err error)
	SegmentsEvicted(n int)
	WindowExtracted(result ExtractResult)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)            {}
func (nopObserver) SegmentCaptured(Segment, int)  {}
func (nopObserver) CaptureFailed(error)           {}
func (nopObserver) SegmentsEvicted(int)           {}
func (nopObserver) WindowExtracted(ExtractResult) {}
