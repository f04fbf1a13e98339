// Package transcode wraps the ffmpeg binary as a stream-copy concat/trim
// capability for the recorder.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Logger interface for the transcode package to avoid circular dependencies
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// maxStderr bounds how much ffmpeg output is carried into an error.
const maxStderr = 512

// FFmpeg implements recorder.Transcoder. The zero value uses "ffmpeg" from
// PATH.
type FFmpeg struct {
	Path   string
	Logger Logger
}

// New returns an FFmpeg transcoder for the given binary path.
func New(path string, logger Logger) *FFmpeg {
	return &FFmpeg{Path: path, Logger: logger}
}

func (f *FFmpeg) binary() string {
	if f.Path == "" {
		return "ffmpeg"
	}
	return f.Path
}

func (f *FFmpeg) logger() Logger {
	if f.Logger == nil {
		return nopLogger{}
	}
	return f.Logger
}

// Available reports whether the binary runs and supports the concat demuxer.
func (f *FFmpeg) Available(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, f.binary(), "-hide_banner", "-demuxers").CombinedOutput()
	if err != nil {
		f.logger().Debugf("ffmpeg not usable at %s: %v", f.binary(), err)
		return false
	}
	return hasDemuxer(string(out), "concat")
}

// hasDemuxer scans `ffmpeg -demuxers` output, whose rows look like
// " D  concat          Virtual concatenation script".
func hasDemuxer(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.Contains(fields[0], "D") {
			continue
		}
		for _, n := range strings.Split(fields[1], ",") {
			if n == name {
				return true
			}
		}
	}
	return false
}

// Concat joins files in order into out without re-encoding.
func (f *FFmpeg) Concat(ctx context.Context, files []string, out string) error {
	if len(files) == 0 {
		return fmt.Errorf("no input files")
	}

	listPath := strings.TrimSuffix(out, filepath.Ext(out)) + "_list.txt"
	if err := os.WriteFile(listPath, []byte(concatList(files)), 0644); err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}
	defer os.Remove(listPath)

	return f.run(ctx, concatArgs(listPath, out))
}

// Trim writes keep seconds of in, starting skip seconds in, to out without
// re-encoding.
func (f *FFmpeg) Trim(ctx context.Context, in string, skip, keep time.Duration, out string) error {
	if keep <= 0 {
		return fmt.Errorf("invalid trim length %s", keep)
	}
	return f.run(ctx, trimArgs(in, skip, keep, out))
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.binary(), args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	f.logger().Debugf("Running %s %s", f.binary(), strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(f.binary()), err, tail(stderrBuf.String(), maxStderr))
	}
	return nil
}

func concatList(files []string) string {
	var b strings.Builder
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			abs = file
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return b.String()
}

func concatArgs(listPath, out string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		out,
	}
}

func trimArgs(in string, skip, keep time.Duration, out string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", seconds(skip),
		"-i", in,
		"-t", seconds(keep),
		"-c", "copy",
		out,
	}
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.2f", d.Seconds())
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
