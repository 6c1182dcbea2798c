package downloader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"patreonviewer/embedconf"
	"patreonviewer/events"

	"github.com/google/shlex"
)

// ExecDownloader runs an external downloader process. The options are
// written as JSON to its stdin and the URL is appended to its arguments.
// The process reports back on stdout with one JSON object per line, the
// "event" member naming one of: fetchBegin, targetBegin, targetEnd,
// taskStart, taskProgress, taskComplete, taskSkip, taskError, end.
type ExecDownloader struct {
	command []string
	// Grace period between the interrupt sent on cancellation and a kill.
	KillGrace time.Duration
}

func NewExecDownloader(command string) (*ExecDownloader, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid downloader command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("downloader command is empty")
	}
	return &ExecDownloader{command: args, KillGrace: 10 * time.Second}, nil
}

func (d *ExecDownloader) Run(ctx context.Context, url string, opts embedconf.Options, ev Events) error {
	payload, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode downloader options: %w", err)
	}

	args := append(append([]string{}, d.command[1:]...), url)
	cmd := exec.CommandContext(ctx, d.command[0], args...)
	cmd.Stdin = bytes.NewReader(payload)
	// Interrupt first so the downloader can report its own abort.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = d.KillGrace

	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	log.Printf("Executing downloader: %s %s", cmd.Path, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start downloader: %w", err)
	}

	sawEnd, readErr := relayEvents(stdout, ev)
	if readErr != nil {
		// Drain so the process is not blocked on a full pipe.
		io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil && !sawEnd {
		return fmt.Errorf("downloader exited: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	if readErr != nil && !sawEnd {
		return fmt.Errorf("read downloader events: %w", readErr)
	}
	return nil
}

type wireEvent struct {
	Event          string  `json:"event"`
	TargetType     string  `json:"targetType"`
	Name           string  `json:"name"`
	Skipped        bool    `json:"skipped"`
	SkipMessage    string  `json:"skipMessage"`
	Filename       string  `json:"filename"`
	Path           string  `json:"path"`
	Percent        float64 `json:"percent"`
	Speed          float64 `json:"speed"`
	SizeDownloaded int64   `json:"sizeDownloaded"`
	Reason         string  `json:"reason"`
	Message        string  `json:"message"`
	WillRetry      bool    `json:"willRetry"`
	Aborted        bool    `json:"aborted"`
	Error          bool    `json:"error"`
}

// relayEvents decodes newline-delimited events from r until EOF and reports
// whether an end event was seen. Lines that are not JSON are passed to the
// process log.
func relayEvents(r io.Reader, ev Events) (bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	sawEnd := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var we wireEvent
		if line[0] != '{' || json.Unmarshal(line, &we) != nil {
			log.Printf("downloader: %s", line)
			continue
		}
		if dispatch(we, ev) {
			sawEnd = true
		}
	}
	return sawEnd, scanner.Err()
}

func dispatch(we wireEvent, ev Events) bool {
	file := File{Filename: we.Filename, Path: we.Path}
	switch we.Event {
	case "fetchBegin":
		ev.FetchBegin(we.TargetType)
	case "targetBegin":
		ev.TargetBegin(Target{Name: we.Name})
	case "targetEnd":
		ev.TargetEnd(TargetOutcome{Skipped: we.Skipped, SkipMessage: we.SkipMessage})
	case "taskStart":
		ev.FileStart(file)
	case "taskProgress":
		ev.FileProgress(events.FileProgress{
			Filename:       we.Filename,
			Percent:        we.Percent,
			Speed:          we.Speed,
			SizeDownloaded: we.SizeDownloaded,
		})
	case "taskComplete":
		ev.FileComplete(file)
	case "taskSkip":
		ev.FileSkip(file, we.Reason)
	case "taskError":
		ev.FileError(file, we.Message, we.WillRetry)
	case "end":
		ev.End(End{Aborted: we.Aborted, Error: we.Error, Message: we.Message})
		return true
	default:
		log.Printf("downloader: ignoring unknown event %q", we.Event)
	}
	return false
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
