package camera

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"lookout/recorder"
)

const (
	// FFmpeg stderr capture
	FFmpegStderrBufferKB = 4

	// How long a process gets to finalize its file after being asked to stop.
	DefaultStopGrace = 3 * time.Second
)

// process runs one capture command at a time and can ask it to finish early.
type process struct {
	name   string
	logger Logger
	grace  time.Duration
	// stop asks the command to finalize its output and exit.
	stop func(cmd *exec.Cmd, stdin io.Writer) error

	mu        sync.Mutex
	active    bool
	cancelled bool
	cmd       *exec.Cmd
	stdin     io.WriteCloser
}

// run starts bin and waits for it. When ctx is done or Cancel was called the
// command is stopped gracefully; an exit error caused by that stop is not
// reported.
func (p *process) run(ctx context.Context, bin string, args []string) error {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return fmt.Errorf("%s: capture already running", p.name)
	}
	p.active = true
	p.cancelled = false
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active = false
		p.cmd = nil
		p.stdin = nil
		p.mu.Unlock()
	}()

	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stderr := &tailBuffer{max: FFmpegStderrBufferKB * BytesPerKB}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	pending := p.cancelled
	p.mu.Unlock()
	if pending {
		p.finish(cmd, stdin)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var runErr error
	select {
	case runErr = <-waitErr:
	case <-ctx.Done():
		p.finish(cmd, stdin)
		<-waitErr
		return ctx.Err()
	}

	p.mu.Lock()
	cancelled := p.cancelled
	p.mu.Unlock()
	if runErr != nil && !cancelled {
		if out := stderr.String(); out != "" {
			return fmt.Errorf("%s: %w: %s", p.name, runErr, out)
		}
		return fmt.Errorf("%s: %w", p.name, runErr)
	}
	return nil
}

// Cancel asks the running command to finish early. A cancel that arrives
// before the command has started is applied as soon as it starts.
func (p *process) Cancel() error {
	p.mu.Lock()
	if !p.active || p.cancelled {
		p.mu.Unlock()
		return nil
	}
	p.cancelled = true
	cmd, stdin := p.cmd, p.stdin
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}
	p.finish(cmd, stdin)
	return nil
}

func (p *process) finish(cmd *exec.Cmd, stdin io.Writer) {
	if err := p.stop(cmd, stdin); err != nil {
		p.logger.Debugf("%s: graceful stop failed, killing: %v", p.name, err)
		cmd.Process.Kill()
		return
	}
	time.AfterFunc(p.grace, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.cmd == cmd && cmd.Process != nil {
			p.logger.Printf("%s did not exit within %s, killing", p.name, p.grace)
			cmd.Process.Kill()
		}
	})
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

// FFmpegDevice records MJPEG-in-Matroska segments with ffmpeg.
type FFmpegDevice struct {
	cfg    Config
	logger Logger
	proc   *process
	now    func() time.Time
}

// NewFFmpegDevice creates a device reading from the platform's camera input.
func NewFFmpegDevice(cfg Config, logger Logger) *FFmpegDevice {
	logger = orNop(logger)
	return &FFmpegDevice{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		proc: &process{
			name:   "ffmpeg",
			logger: logger,
			grace:  DefaultStopGrace,
			stop:   quitFFmpeg,
		},
	}
}

func (d *FFmpegDevice) Name() string { return BackendV4L2 }

// Capture records one segment of at most req.MaxDuration.
func (d *FFmpegDevice) Capture(ctx context.Context, req recorder.CaptureRequest) (string, error) {
	filename := filepath.Join(req.Dir, fmt.Sprintf("segment_%d.mkv", d.now().UnixMilli()))
	d.logger.Debugf("Starting recording segment: %s", filepath.Base(filename))

	err := d.proc.run(ctx, ffmpegBinary(d.cfg), d.args(runtime.GOOS, req, filename))
	return producedFile(filename), err
}

// Cancel finishes the in-flight segment early.
func (d *FFmpegDevice) Cancel() error {
	return d.proc.Cancel()
}

// quitFFmpeg sends ffmpeg's interactive quit command so the container is
// finalized.
func quitFFmpeg(_ *exec.Cmd, stdin io.Writer) error {
	if stdin == nil {
		return fmt.Errorf("no stdin")
	}
	_, err := io.WriteString(stdin, "q")
	return err
}

func (d *FFmpegDevice) args(goos string, req recorder.CaptureRequest, filename string) []string {
	inputFormat, inputDevice := cameraInput(goos, d.cfg.Device)
	nativeV4L2 := inputFormat == "v4l2"

	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", inputFormat,
	}

	if nativeV4L2 {
		args = append(args,
			"-input_format", "mjpeg",
			"-video_size", fmt.Sprintf("%dx%d", d.cfg.Width, d.cfg.Height),
		)
	}

	args = append(args,
		"-framerate", fmt.Sprintf("%d", d.cfg.FPS),
		"-rtbufsize", "5M",
		"-thread_queue_size", "16",
		"-i", inputDevice,
	)

	withAudio := !req.Mute && d.cfg.AudioDevice != ""
	if withAudio {
		args = append(args, "-f", audioInputFormat(goos), "-i", d.cfg.AudioDevice)
	}

	var videoFilters []string
	switch d.cfg.Rotation {
	case 90:
		videoFilters = append(videoFilters, "transpose=1")
	case 180:
		videoFilters = append(videoFilters, "transpose=1,transpose=1")
	case 270:
		videoFilters = append(videoFilters, "transpose=2")
	}
	if !nativeV4L2 {
		videoFilters = append(videoFilters, fmt.Sprintf("scale=%d:%d", d.cfg.Width, d.cfg.Height))
	}
	if d.cfg.EmbedTimestamp {
		timestampFilter := "drawtext=text='%{gmtime\\:%Y-%m-%d %H\\\\\\:%M\\\\\\:%S} \\\\(UTC\\\\)':fontcolor=white:fontsize=24:box=1:boxcolor=black@0.5:boxborderw=5:x=10:y=10"
		videoFilters = append(videoFilters, timestampFilter)
	}
	if len(videoFilters) > 0 {
		args = append(args, "-vf", strings.Join(videoFilters, ","))
	}

	args = append(args,
		"-c:v", "mjpeg",
		"-q:v", fmt.Sprintf("%d", d.cfg.MJPEGQuality),
		"-r", fmt.Sprintf("%d", d.cfg.FPS),
	)
	if withAudio {
		args = append(args, "-c:a", "pcm_s16le")
	} else {
		args = append(args, "-an")
	}

	return append(args,
		"-t", fmt.Sprintf("%.2f", req.MaxDuration.Seconds()),
		"-f", "matroska",
		filename,
	)
}

// cameraInput returns the format and device based on OS
func cameraInput(goos, device string) (string, string) {
	switch goos {
	case "darwin":
		if device == "" {
			device = "0"
		}
		return "avfoundation", device
	case "windows":
		if device == "" {
			device = "video=USB Video Device"
		}
		return "dshow", device
	default:
		if device == "" {
			device = "/dev/video0"
		}
		return "v4l2", device
	}
}

func audioInputFormat(goos string) string {
	switch goos {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "alsa"
	}
}

// producedFile returns path when the command left a file there.
func producedFile(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
