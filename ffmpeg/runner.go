package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"patreonviewer/config"
	"patreonviewer/encoder"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ErrProbe is returned when ffprobe cannot report a video resolution.
var ErrProbe = errors.New("could not read video resolution")

// Runner drives the ffprobe and ffmpeg binaries. It satisfies
// encoder.Prober and encoder.Transcoder.
type Runner struct {
	cfg       *config.Config
	videoArgs []string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	if _, err := exec.LookPath(cfg.FFProbeBin); err != nil {
		return nil, fmt.Errorf("ffprobe binary not found or not in PATH: %s", cfg.FFProbeBin)
	}

	videoArgs, err := resolveVideoArgs(cfg.FFVideoArgs, runtime.GOOS)
	if err != nil {
		return nil, err
	}
	log.Printf("Video encoder arguments: %s", strings.Join(videoArgs, " "))

	return &Runner{
		cfg:       cfg,
		videoArgs: videoArgs,
	}, nil
}

// resolveVideoArgs returns the configured codec arguments, or the platform
// default: the hardware encoder on macOS, libx264 elsewhere.
func resolveVideoArgs(configured, goos string) ([]string, error) {
	if strings.TrimSpace(configured) != "" {
		args, err := SplitCommand(configured)
		if err != nil {
			return nil, err
		}
		if err := ValidateVideoArgs(args); err != nil {
			return nil, fmt.Errorf("invalid FF_VIDEO_ARGS: %w", err)
		}
		return args, nil
	}
	if goos == "darwin" {
		return []string{"-c:v", "h264_videotoolbox", "-q:v", "65"}, nil
	}
	return []string{"-c:v", "libx264", "-crf", "23"}, nil
}

func (r *Runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.FFTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.FFTimeout)
	}
	return context.WithCancel(ctx)
}

// Probe returns the dimensions of the first video stream of path.
func (r *Runner) Probe(ctx context.Context, path string) (encoder.Resolution, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.FFProbeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return encoder.Resolution{}, fmt.Errorf("%w: %s: %v", ErrProbe, path, err)
	}
	res, ok := parseResolution(string(output))
	if !ok {
		return encoder.Resolution{}, fmt.Errorf("%w: %s: unexpected output %q", ErrProbe, path, strings.TrimSpace(string(output)))
	}
	return res, nil
}

// parseResolution reads ffprobe's "WIDTHxHEIGHT" csv output.
func parseResolution(output string) (encoder.Resolution, bool) {
	line := strings.TrimSpace(output)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	w, h, found := strings.Cut(line, "x")
	if !found {
		return encoder.Resolution{}, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return encoder.Resolution{}, false
	}
	height, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(h, "x")))
	if err != nil || height <= 0 {
		return encoder.Resolution{}, false
	}
	return encoder.Resolution{Width: width, Height: height}, true
}

// Transcode re-encodes the video stream of input through scaleFilter into
// output. The audio stream is copied as is.
func (r *Runner) Transcode(ctx context.Context, input, output, scaleFilter string) error {
	if err := r.checkResources(output); err != nil {
		return fmt.Errorf("insufficient system resources: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	args := []string{"-hide_banner", "-i", input, "-vf", scaleFilter}
	args = append(args, r.videoArgs...)
	args = append(args, "-c:a", "copy", "-y", output)

	cmd := exec.CommandContext(ctx, r.cfg.FFBin, args...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	log.Printf("Executing: %s %s", cmd.Path, strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, tail(outputBuf.String(), 400))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// checkResources verifies that the host has enough headroom to start a
// transcode writing next to path. Zero thresholds disable a check.
func (r *Runner) checkResources(path string) error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			log.Printf("Warning: could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Printf("Warning: could not get memory usage: %v", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		dir := r.cfg.DataDir
		if path != "" {
			dir = filepath.Dir(path)
		}
		d, err := disk.Usage(dir)
		if err != nil {
			log.Printf("Warning: could not get disk usage for %s: %v", dir, err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
