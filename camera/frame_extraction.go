package camera

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/exp/mmap"
)

const (
	// Frame extraction buffers
	FrameBufferSizeKB = 256 // Read last 256KB of a segment (typical frame: 80-150KB)
	MaxFrameSizeKB    = 200 // Max size to search backwards for frame start (prevents old frames)
	MinFileSize       = 100 // Skip extraction if file too small (not enough data yet)
	BytesPerKB        = 1024
)

// ErrNoFrame is returned when a file holds no complete JPEG frame.
var ErrNoFrame = errors.New("no complete JPEG frame found")

// segmentExtensions are the containers the devices write.
var segmentExtensions = []string{".mkv", ".mjpeg"}

// LatestSegment returns the most recently modified segment file in dir, or
// "" when there is none.
func LatestSegment(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var latestFile string
	var latestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || !isSegmentFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, entry.Name())
		}
	}
	return latestFile
}

func isSegmentFile(name string) bool {
	for _, ext := range segmentExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// ExtractFrameFromLatestSegment returns the newest complete JPEG frame in dir.
// Works while the segment is still being written.
func ExtractFrameFromLatestSegment(dir string, logger Logger) []byte {
	latest := LatestSegment(dir)
	if latest == "" {
		orNop(logger).Debugf("No video segments found in '%s' - recording may be initializing", dir)
		return nil
	}
	return ExtractLastFrame(latest)
}

// ExtractLastFrame returns the last complete JPEG frame stored in an MJPEG
// stream or an MJPEG-in-Matroska file, using mmap for random access.
func ExtractLastFrame(filename string) []byte {
	r, err := mmap.Open(filename)
	if err != nil {
		return extractLastFrameFallback(filename)
	}
	defer r.Close()

	size := r.Len()
	if size < MinFileSize {
		return nil
	}

	readSize := FrameBufferSizeKB * BytesPerKB
	if readSize > size {
		readSize = size
	}
	buf := make([]byte, readSize)
	n, err := r.ReadAt(buf, int64(size-readSize))
	if err != nil && err != io.EOF {
		return nil
	}
	return lastJPEG(buf[:n])
}

// extractLastFrameFallback uses traditional file reading when mmap fails
func extractLastFrameFallback(filename string) []byte {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.Size() < MinFileSize {
		return nil
	}

	readSize := int64(FrameBufferSizeKB * BytesPerKB)
	if info.Size() < readSize {
		readSize = info.Size()
	}
	if _, err := file.Seek(-readSize, io.SeekEnd); err != nil {
		return nil
	}

	buf := make([]byte, readSize)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil
	}
	return lastJPEG(buf[:n])
}

// lastJPEG finds the last FFD8..FFD9 pair in buf and returns a copy of it.
func lastJPEG(buf []byte) []byte {
	// Step 1: the most recent end marker
	lastFrameEnd := -1
	for i := len(buf) - 2; i >= 0; i-- {
		if buf[i] == 0xFF && buf[i+1] == 0xD9 {
			lastFrameEnd = i + 2
			break
		}
	}
	if lastFrameEnd == -1 {
		return nil
	}

	// Step 2: its start marker, within MaxFrameSizeKB
	searchLimit := lastFrameEnd - (MaxFrameSizeKB * BytesPerKB)
	if searchLimit < 0 {
		searchLimit = 0
	}
	for i := lastFrameEnd - 2; i >= searchLimit; i-- {
		if buf[i] == 0xFF && buf[i+1] == 0xD8 {
			frame := make([]byte, lastFrameEnd-i)
			copy(frame, buf[i:lastFrameEnd])
			return frame
		}
	}
	return nil
}

// WriteThumbnail stores the last frame of src as a JPEG at dst.
func WriteThumbnail(src, dst string) error {
	frame := ExtractLastFrame(src)
	if len(frame) == 0 {
		return ErrNoFrame
	}
	return os.WriteFile(dst, frame, 0644)
}
