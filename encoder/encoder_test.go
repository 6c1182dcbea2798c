package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	resolutions map[string]Resolution
}

func (p *fakeProber) Probe(ctx context.Context, path string) (Resolution, error) {
	res, ok := p.resolutions[filepath.Base(path)]
	if !ok {
		return Resolution{}, errors.New("probe failed")
	}
	return res, nil
}

type fakeTranscoder struct {
	mu       sync.Mutex
	calls    []string
	filters  []string
	fail     map[string]bool
	onStart  func(input string)
	blockCtx bool
}

func (f *fakeTranscoder) Transcode(ctx context.Context, input, output, scaleFilter string) error {
	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(input))
	f.filters = append(f.filters, scaleFilter)
	f.mu.Unlock()

	if f.onStart != nil {
		f.onStart(input)
	}
	// Leave a partial file behind, as a killed ffmpeg would.
	if err := os.WriteFile(output, []byte("partial"), 0o644); err != nil {
		return err
	}
	if f.blockCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fail[filepath.Base(input)] {
		return errors.New("ffmpeg exited with code 1")
	}
	return os.WriteFile(output, []byte("encoded"), 0o644)
}

type progress struct {
	current   string
	completed int
	total     int
}

type recordingSink struct {
	logs     []string
	started  int
	progress []progress
	finished int
}

func (s *recordingSink) Log(kind, message string) { s.logs = append(s.logs, kind+": "+message) }
func (s *recordingSink) EncodingStarted(total int)  { s.started = total }
func (s *recordingSink) EncodingProgress(current string, completed, total int) {
	s.progress = append(s.progress, progress{current, completed, total})
}
func (s *recordingSink) EncodingFinished() { s.finished++ }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestIsTargetResolution(t *testing.T) {
	assert.True(t, IsTargetResolution(Resolution{Width: 854, Height: 480}, 480))
	assert.True(t, IsTargetResolution(Resolution{Width: 480, Height: 854}, 480))
	assert.False(t, IsTargetResolution(Resolution{Width: 1920, Height: 1080}, 480))
	assert.False(t, IsTargetResolution(Resolution{Width: 1280, Height: 720}, 480))
}

func TestScaleFilter(t *testing.T) {
	assert.Equal(t, "scale=480:-2", ScaleFilter(Resolution{Width: 1080, Height: 1920}, 480))
	assert.Equal(t, "scale=-2:480", ScaleFilter(Resolution{Width: 1920, Height: 1080}, 480))
	assert.Equal(t, "scale=-2:480", ScaleFilter(Resolution{Width: 1000, Height: 1000}, 480))
}

func TestOutputPaths(t *testing.T) {
	out, tmp := OutputPaths("/d/a.mp4")
	assert.Equal(t, "/d/a.mp4", out)
	assert.Equal(t, "/d/a.encoding.mp4", tmp)

	out, tmp = OutputPaths("/d/clip.webm")
	assert.Equal(t, "/d/clip.mp4", out)
	assert.Equal(t, "/d/clip.encoding.mp4", tmp)

	out, _ = OutputPaths("/d/UPPER.MP4")
	assert.Equal(t, "/d/UPPER.MP4", out)
}

func TestFindVideoFiles(t *testing.T) {
	t.Run("finds videos recursively", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "video.mp4"), "fake")
		writeFile(t, filepath.Join(dir, "sub", "nested.MKV"), "fake")
		writeFile(t, filepath.Join(dir, "sub", "deeper", "clip.webm"), "fake")
		writeFile(t, filepath.Join(dir, "image.jpg"), "fake")
		writeFile(t, filepath.Join(dir, "doc.pdf"), "fake")

		files := FindVideoFiles(dir)
		require.Len(t, files, 3)
		assert.Contains(t, files, filepath.Join(dir, "video.mp4"))
		assert.Contains(t, files, filepath.Join(dir, "sub", "nested.MKV"))
		assert.Contains(t, files, filepath.Join(dir, "sub", "deeper", "clip.webm"))
	})

	t.Run("empty and missing directories", func(t *testing.T) {
		assert.Empty(t, FindVideoFiles(t.TempDir()))
		assert.Empty(t, FindVideoFiles(filepath.Join(t.TempDir(), "missing")))
	})
}

func TestRunEncodesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	mp4 := filepath.Join(dir, "a.mp4")
	webm := filepath.Join(dir, "b.webm")
	small := filepath.Join(dir, "c.mp4")
	broken := filepath.Join(dir, "d.mkv")
	temp := filepath.Join(dir, "e.encoding.mp4")
	for _, p := range []string{mp4, webm, small, broken, temp} {
		writeFile(t, p, "original")
	}

	prober := &fakeProber{resolutions: map[string]Resolution{
		"a.mp4":          {Width: 1920, Height: 1080},
		"b.webm":         {Width: 1080, Height: 1920},
		"c.mp4":          {Width: 854, Height: 480},
		"e.encoding.mp4": {Width: 1920, Height: 1080},
	}}
	transcoder := &fakeTranscoder{}
	sink := &recordingSink{}

	summary := New(prober, transcoder, 480).Run(context.Background(), Batch{Dir: dir}, sink)

	assert.Equal(t, Summary{Candidates: 4, Total: 2, Encoded: 2, Skipped: 1, Unprobed: 1}, summary)
	assert.ElementsMatch(t, []string{"a.mp4", "b.webm"}, transcoder.calls)
	assert.ElementsMatch(t, []string{"scale=-2:480", "scale=480:-2"}, transcoder.filters)

	assert.Equal(t, "encoded", readFile(t, mp4))
	assert.Equal(t, "encoded", readFile(t, filepath.Join(dir, "b.mp4")))
	assert.NoFileExists(t, webm)
	assert.Equal(t, "original", readFile(t, small))
	assert.Equal(t, "original", readFile(t, broken))
	assert.NoFileExists(t, filepath.Join(dir, "a.encoding.mp4"))
	assert.NoFileExists(t, filepath.Join(dir, "b.encoding.mp4"))

	assert.Equal(t, 2, sink.started)
	assert.Equal(t, 1, sink.finished)
	require.Len(t, sink.progress, 4)
	assert.Equal(t, 0, sink.progress[0].completed)
	assert.NotEmpty(t, sink.progress[0].current)
	assert.Equal(t, progress{"", 2, 2}, sink.progress[3])
	assert.Equal(t, "success: Encoding complete: 2/2 videos processed", sink.logs[len(sink.logs)-1])
}

func TestRunFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp4")
	b := filepath.Join(dir, "b.mkv")
	writeFile(t, a, "original-a")
	writeFile(t, b, "original-b")

	prober := &fakeProber{resolutions: map[string]Resolution{
		"a.mp4": {Width: 1920, Height: 1080},
		"b.mkv": {Width: 1280, Height: 720},
	}}
	transcoder := &fakeTranscoder{fail: map[string]bool{"a.mp4": true}}
	sink := &recordingSink{}

	summary := New(prober, transcoder, 480).Run(context.Background(), Batch{Files: []string{a, b}}, sink)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Encoded)
	assert.False(t, summary.Aborted)
	assert.Equal(t, "original-a", readFile(t, a))
	assert.NoFileExists(t, filepath.Join(dir, "a.encoding.mp4"))
	assert.Equal(t, "encoded", readFile(t, filepath.Join(dir, "b.mp4")))
	assert.NoFileExists(t, b)

	var failed bool
	for _, l := range sink.logs {
		if strings.HasPrefix(l, "error: Failed to encode a.mp4") {
			failed = true
		}
	}
	assert.True(t, failed)
}

func TestRunExplicitEmptyListDoesNotScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"), "original")

	transcoder := &fakeTranscoder{}
	sink := &recordingSink{}
	summary := New(&fakeProber{resolutions: map[string]Resolution{"a.mp4": {Width: 1920, Height: 1080}}}, transcoder, 480).
		Run(context.Background(), Batch{Files: []string{}, Dir: dir}, sink)

	assert.Equal(t, Summary{}, summary)
	assert.Empty(t, transcoder.calls)
	assert.Contains(t, sink.logs, "info: No videos need encoding")
	assert.Equal(t, 1, sink.finished)
}

func TestRunStopsStartingFilesAfterCancel(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp4")
	b := filepath.Join(dir, "b.mp4")
	writeFile(t, a, "original-a")
	writeFile(t, b, "original-b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober := &fakeProber{resolutions: map[string]Resolution{
		"a.mp4": {Width: 1920, Height: 1080},
		"b.mp4": {Width: 1920, Height: 1080},
	}}
	transcoder := &fakeTranscoder{onStart: func(string) { cancel() }, blockCtx: true}
	sink := &recordingSink{}

	summary := New(prober, transcoder, 480).Run(ctx, Batch{Files: []string{a, b}}, sink)

	assert.True(t, summary.Aborted)
	assert.Len(t, transcoder.calls, 1)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, "original-a", readFile(t, a))
	assert.Equal(t, "original-b", readFile(t, b))
	assert.NoFileExists(t, filepath.Join(dir, "a.encoding.mp4"))
	assert.Equal(t, 1, sink.finished)
}

func TestRunNeverOverwritesAnotherVideo(t *testing.T) {
	t.Run("mp4 sibling", func(t *testing.T) {
		dir := t.TempDir()
		mp4 := filepath.Join(dir, "a.mp4")
		webm := filepath.Join(dir, "a.webm")
		writeFile(t, mp4, "original-mp4")
		writeFile(t, webm, "original-webm")

		prober := &fakeProber{resolutions: map[string]Resolution{
			"a.mp4":  {Width: 1920, Height: 1080},
			"a.webm": {Width: 1920, Height: 1080},
		}}
		transcoder := &fakeTranscoder{}
		sink := &recordingSink{}

		summary := New(prober, transcoder, 480).Run(context.Background(), Batch{Files: []string{webm, mp4}}, sink)

		assert.Equal(t, Summary{Candidates: 2, Total: 1, Encoded: 1, Skipped: 1}, summary)
		assert.Equal(t, []string{"a.mp4"}, transcoder.calls)
		assert.Equal(t, "encoded", readFile(t, mp4))
		assert.Equal(t, "original-webm", readFile(t, webm))
		assert.Contains(t, sink.logs, "warn: Skipped: a.webm (a.mp4 already exists)")
	})

	t.Run("two containers with the same name", func(t *testing.T) {
		dir := t.TempDir()
		webm := filepath.Join(dir, "x.webm")
		mkv := filepath.Join(dir, "x.mkv")
		writeFile(t, webm, "original-webm")
		writeFile(t, mkv, "original-mkv")

		prober := &fakeProber{resolutions: map[string]Resolution{
			"x.webm": {Width: 1280, Height: 720},
			"x.mkv":  {Width: 1280, Height: 720},
		}}
		transcoder := &fakeTranscoder{}
		sink := &recordingSink{}

		summary := New(prober, transcoder, 480).Run(context.Background(), Batch{Files: []string{webm, mkv}}, sink)

		assert.Equal(t, 1, summary.Encoded)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, []string{"x.webm"}, transcoder.calls)
		assert.Equal(t, "encoded", readFile(t, filepath.Join(dir, "x.mp4")))
		assert.NoFileExists(t, webm)
		assert.Equal(t, "original-mkv", readFile(t, mkv))
	})
}
