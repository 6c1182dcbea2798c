// Package encoder downscales freshly downloaded videos to the archive's
// target resolution, replacing each original only once its transcode has
// fully succeeded.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"patreonviewer/events"

	"github.com/dustin/go-humanize"
)

// DefaultTarget is the short-side dimension videos are encoded to.
const DefaultTarget = 480

// TempMarker marks the in-progress output of a transcode.
const TempMarker = ".encoding."

// VideoExtensions are the container extensions considered for encoding.
var VideoExtensions = []string{".mp4", ".webm", ".mkv"}

type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

type Prober interface {
	Probe(ctx context.Context, path string) (Resolution, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, input, output, scaleFilter string) error
}

// Sink receives the phase's log lines and progress counters. An empty
// current filename means no file is being encoded.
type Sink interface {
	Log(kind, message string)
	EncodingStarted(total int)
	EncodingProgress(current string, completed, total int)
	EncodingFinished()
}

// Batch selects the candidates of a run: Files when non-nil, otherwise every
// video found under Dir.
type Batch struct {
	Files []string
	Dir   string
}

type Summary struct {
	Candidates int
	Total      int
	Encoded    int
	Skipped    int
	Unprobed   int
	Failed     int
	Aborted    bool
}

type Encoder struct {
	prober     Prober
	transcoder Transcoder
	target     int
}

func New(prober Prober, transcoder Transcoder, target int) *Encoder {
	if target <= 0 {
		target = DefaultTarget
	}
	return &Encoder{prober: prober, transcoder: transcoder, target: target}
}

// IsVideoFile reports whether path has one of VideoExtensions.
func IsVideoFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, v := range VideoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// FindVideoFiles walks dir recursively. Unreadable directories are skipped.
func FindVideoFiles(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && IsVideoFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// IsTargetResolution reports whether the short side already equals target.
func IsTargetResolution(res Resolution, target int) bool {
	return min(res.Width, res.Height) == target
}

// ScaleFilter pins the short side to target; -2 keeps the other side even.
func ScaleFilter(res Resolution, target int) string {
	if res.Height > res.Width {
		return fmt.Sprintf("scale=%d:-2", target)
	}
	return fmt.Sprintf("scale=-2:%d", target)
}

// OutputPaths returns where the encoded file ends up and the temporary file
// the transcode writes to. Every container is normalized to .mp4.
func OutputPaths(path string) (output, temp string) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	temp = base + TempMarker + "mp4"
	if strings.EqualFold(ext, ".mp4") {
		return path, temp
	}
	return base + ".mp4", temp
}

type job struct {
	path string
	res  Resolution
}

// Run encodes every candidate of batch that is not at the target
// resolution. Per-file failures are logged and counted, never fatal. ctx is
// checked between files and also interrupts a running transcode.
func (e *Encoder) Run(ctx context.Context, batch Batch, sink Sink) Summary {
	var summary Summary
	sink.Log(events.KindInfo, "Scanning for videos to encode...")

	candidates := batch.Files
	if candidates == nil {
		candidates = FindVideoFiles(batch.Dir)
	}

	seen := make(map[string]bool, len(candidates))
	claimed := make(map[string]bool)
	var queue []job
	for _, path := range candidates {
		if !IsVideoFile(path) || strings.Contains(filepath.Base(path), TempMarker) || seen[path] {
			continue
		}
		seen[path] = true
		summary.Candidates++

		if ctx.Err() != nil {
			summary.Aborted = true
			break
		}
		res, err := e.prober.Probe(ctx, path)
		if err != nil {
			summary.Unprobed++
			continue
		}
		if IsTargetResolution(res, e.target) {
			summary.Skipped++
			continue
		}
		// A converted file must not replace another video.
		output, _ := OutputPaths(path)
		if claimed[output] || (output != path && exists(output)) {
			summary.Skipped++
			sink.Log(events.KindWarn, fmt.Sprintf("Skipped: %s (%s already exists)",
				filepath.Base(path), filepath.Base(output)))
			continue
		}
		claimed[output] = true
		queue = append(queue, job{path: path, res: res})
	}

	if summary.Aborted {
		sink.Log(events.KindWarn, "Encoding aborted before it started")
		sink.EncodingFinished()
		return summary
	}

	if len(queue) == 0 {
		sink.Log(events.KindInfo, "No videos need encoding")
		sink.EncodingFinished()
		return summary
	}

	summary.Total = len(queue)
	sink.Log(events.KindInfo, fmt.Sprintf("Found %d video(s) to encode", summary.Total))
	sink.EncodingStarted(summary.Total)

	for _, j := range queue {
		if ctx.Err() != nil {
			summary.Aborted = true
			break
		}

		name := filepath.Base(j.path)
		sink.Log(events.KindInfo, fmt.Sprintf("Encoding: %s (%s)", name, j.res))
		sink.EncodingProgress(name, summary.Encoded, summary.Total)

		before := fileSize(j.path)
		output, err := e.encodeFile(ctx, j)
		if err != nil {
			if ctx.Err() != nil {
				summary.Aborted = true
				sink.Log(events.KindWarn, fmt.Sprintf("Encoding of %s interrupted, original kept", name))
				break
			}
			summary.Failed++
			sink.Log(events.KindError, fmt.Sprintf("Failed to encode %s: %v", name, err))
			continue
		}

		summary.Encoded++
		sink.Log(events.KindSuccess, fmt.Sprintf("Encoded: %s (%s -> %s)",
			name, humanize.Bytes(before), humanize.Bytes(fileSize(output))))
		sink.EncodingProgress("", summary.Encoded, summary.Total)
	}

	if summary.Aborted {
		sink.Log(events.KindWarn, fmt.Sprintf("Encoding aborted: %d/%d videos processed", summary.Encoded, summary.Total))
	} else {
		sink.Log(events.KindSuccess, fmt.Sprintf("Encoding complete: %d/%d videos processed", summary.Encoded, summary.Total))
	}
	sink.EncodingFinished()
	return summary
}

// encodeFile transcodes into the temp path and swaps it into place. On any
// failure the temp file is removed and the original is left untouched.
func (e *Encoder) encodeFile(ctx context.Context, j job) (string, error) {
	output, temp := OutputPaths(j.path)

	if err := e.transcoder.Transcode(ctx, j.path, temp, ScaleFilter(j.res, e.target)); err != nil {
		os.Remove(temp)
		return "", err
	}

	converted := output != j.path
	if converted {
		if err := os.Remove(output); err != nil && !errors.Is(err, fs.ErrNotExist) {
			os.Remove(temp)
			return "", fmt.Errorf("remove existing %s: %w", filepath.Base(output), err)
		}
	}
	if err := os.Rename(temp, output); err != nil {
		os.Remove(temp)
		return "", fmt.Errorf("replace original: %w", err)
	}
	if converted {
		os.Remove(j.path)
	}
	return output, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func fileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil || info.Size() < 0 {
		return 0
	}
	return uint64(info.Size())
}
