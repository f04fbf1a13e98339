// Package camera provides the capture devices the recorder drives: ffmpeg
// over V4L2 (or the platform's native input) and rpicam-vid for CSI cameras.
package camera

import (
	"fmt"
	"os/exec"

	"lookout/recorder"
)

// Backend names accepted in Config.Backend.
const (
	BackendAuto      = "auto"
	BackendV4L2      = "v4l2"
	BackendLibcamera = "libcamera"
)

// Config represents the camera configuration
type Config struct {
	Backend        string `json:"backend" yaml:"backend"`
	Device         string `json:"device" yaml:"device"`
	AudioDevice    string `json:"audio_device" yaml:"audio_device"`
	Width          int    `json:"width" yaml:"width"`
	Height         int    `json:"height" yaml:"height"`
	FPS            int    `json:"fps" yaml:"fps"`
	Rotation       int    `json:"rotation" yaml:"rotation"`
	MJPEGQuality   int    `json:"mjpeg_quality" yaml:"mjpeg_quality"`
	EmbedTimestamp bool   `json:"embed_timestamp" yaml:"embed_timestamp"`
	FFmpegPath     string `json:"-" yaml:"-"`
}

// Device is a recorder.Device that can also finish its capture early.
type Device interface {
	recorder.Device
	recorder.Canceler
	Name() string
}

// Detect builds the device for cfg.Backend. With BackendAuto a CSI camera
// reported by rpicam-still wins over V4L2.
func Detect(cfg Config, logger Logger) (Device, error) {
	logger = orNop(logger)

	switch cfg.Backend {
	case BackendV4L2:
		return NewFFmpegDevice(cfg, logger), nil
	case BackendLibcamera:
		if !isLibcameraAvailable(logger) {
			return nil, fmt.Errorf("libcamera backend requested but rpicam-vid is not installed")
		}
		return NewLibcameraDevice(cfg, logger), nil
	case BackendAuto, "":
		if IsCSICamera(logger) {
			logger.Printf("Detected CSI camera, using rpicam-vid")
			return NewLibcameraDevice(cfg, logger), nil
		}
		if _, err := exec.LookPath(ffmpegBinary(cfg)); err != nil {
			return nil, fmt.Errorf("no camera backend available: %w", err)
		}
		return NewFFmpegDevice(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown camera backend %q", cfg.Backend)
	}
}

func ffmpegBinary(cfg Config) string {
	if cfg.FFmpegPath == "" {
		return "ffmpeg"
	}
	return cfg.FFmpegPath
}
