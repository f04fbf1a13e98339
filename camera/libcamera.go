package camera

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"lookout/recorder"
)

// LibcameraDevice records MJPEG segments from a CSI camera with rpicam-vid.
// It has no audio input, so CaptureRequest.Mute has no effect.
type LibcameraDevice struct {
	cfg    Config
	logger Logger
	proc   *process
	now    func() time.Time
}

// NewLibcameraDevice creates an rpicam-vid backed device.
func NewLibcameraDevice(cfg Config, logger Logger) *LibcameraDevice {
	logger = orNop(logger)
	return &LibcameraDevice{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		proc: &process{
			name:   "rpicam-vid",
			logger: logger,
			grace:  DefaultStopGrace,
			stop:   interruptProcess,
		},
	}
}

func (d *LibcameraDevice) Name() string { return BackendLibcamera }

// Capture records one segment of at most req.MaxDuration.
func (d *LibcameraDevice) Capture(ctx context.Context, req recorder.CaptureRequest) (string, error) {
	filename := filepath.Join(req.Dir, fmt.Sprintf("segment_%d.mjpeg", d.now().UnixMilli()))
	d.logger.Debugf("Starting rpicam-vid segment: %s", filepath.Base(filename))

	err := d.proc.run(ctx, "rpicam-vid", d.args(req, filename))
	return producedFile(filename), err
}

// Cancel finishes the in-flight segment early.
func (d *LibcameraDevice) Cancel() error {
	return d.proc.Cancel()
}

// interruptProcess relies on rpicam-vid closing its output cleanly on SIGINT.
func interruptProcess(cmd *exec.Cmd, _ io.Writer) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return cmd.Process.Signal(os.Interrupt)
}

func (d *LibcameraDevice) args(req recorder.CaptureRequest, filename string) []string {
	args := []string{
		"-t", fmt.Sprintf("%d", req.MaxDuration.Milliseconds()),
		"--width", fmt.Sprintf("%d", d.cfg.Width),
		"--height", fmt.Sprintf("%d", d.cfg.Height),
		"--framerate", fmt.Sprintf("%d", d.cfg.FPS),
		"--nopreview",
		"--codec", "mjpeg",
		"--quality", fmt.Sprintf("%d", mjpegQualityPercent(d.cfg.MJPEGQuality)),
		"-o", filename,
	}

	if d.cfg.Rotation != 0 {
		args = append(args, "--rotation", fmt.Sprintf("%d", d.cfg.Rotation))
	}
	return args
}

// mjpegQualityPercent maps ffmpeg's 2-31 q:v scale (lower is better) onto
// rpicam-vid's 0-100 JPEG quality.
func mjpegQualityPercent(q int) int {
	if q < 2 {
		q = 2
	}
	if q > 31 {
		q = 31
	}
	return 100 - (q-2)*70/29
}

// isLibcameraAvailable checks if rpicam-vid is installed
func isLibcameraAvailable(logger Logger) bool {
	_, err := exec.LookPath("rpicam-vid")
	if err != nil {
		logger.Debugf("rpicam-vid not found: %v", err)
		return false
	}
	return true
}

// IsCSICamera detects if a device is a CSI camera (libcamera) or USB (V4L2)
func IsCSICamera(logger Logger) bool {
	logger = orNop(logger)
	if !isLibcameraAvailable(logger) {
		return false
	}

	output, err := exec.Command("rpicam-still", "--list-cameras").CombinedOutput()
	if err != nil {
		logger.Debugf("rpicam-still enumeration failed: %v", err)
		return false
	}
	return listsCamera(string(output))
}

// listsCamera parses `rpicam-still --list-cameras` output, which prints
// "No cameras available!" when none are attached.
func listsCamera(output string) bool {
	lower := strings.ToLower(output)
	if strings.Contains(lower, "no cameras available") {
		return false
	}
	return strings.Contains(lower, "available cameras")
}
