package recorder

import "errors"

var (
	// ErrNotRecording is returned when extraction is requested while idle.
	ErrNotRecording = errors.New("recorder is not recording")
	// ErrNoSegments is returned when extraction finds an empty buffer.
	ErrNoSegments = errors.New("no segments buffered")
	// ErrDeviceUnavailable means no camera is bound; the loop retries.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrCaptureFailed wraps a single failed bounded capture; the loop continues.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrExtractionFailed means neither transcode nor the fallback copy produced a clip.
	ErrExtractionFailed = errors.New("window extraction failed")
	// ErrStorageFailed means directory preparation failed during start.
	ErrStorageFailed = errors.New("storage preparation failed")
)

var errEmptySegment = errors.New("capture returned no file")
