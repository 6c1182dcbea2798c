// Package downloader supervises the external content downloader: it hands
// over the embed.conf options, relays the downloader's events into the job
// state and records which files the run produced.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"patreonviewer/embedconf"
	"patreonviewer/events"
)

// Target describes a post or collection item the downloader starts on.
type Target struct {
	Name string
}

// TargetOutcome reports how a target finished.
type TargetOutcome struct {
	Skipped     bool
	SkipMessage string
}

// File identifies a file transfer. Path is where the file was written,
// relative to the output directory unless absolute; it may be empty for
// events that precede the write.
type File struct {
	Filename string
	Path     string
}

// End is the final event of a run.
type End struct {
	Aborted bool
	Error   bool
	Message string
}

// Events is the callback set a Downloader reports through.
type Events interface {
	FetchBegin(targetType string)
	TargetBegin(t Target)
	TargetEnd(o TargetOutcome)
	FileStart(f File)
	FileProgress(p events.FileProgress)
	FileComplete(f File)
	FileSkip(f File, reason string)
	FileError(f File, message string, willRetry bool)
	End(e End)
}

// Downloader is the external download tool. Run must return promptly once
// ctx is canceled; a return caused by cancellation should wrap ctx.Err().
type Downloader interface {
	Run(ctx context.Context, url string, opts embedconf.Options, ev Events) error
}

// Sink receives the relayed events.
type Sink interface {
	Log(kind, message string)
	TargetBegun()
	TargetEnded(skipped bool)
	FileProgress(p events.FileProgress)
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeAborted   Outcome = "aborted"
	OutcomeErrored   Outcome = "errored"
)

// Result is the terminal report of a download phase. Files lists the
// absolute paths of files written during the run.
type Result struct {
	Outcome Outcome
	Message string
	Files   []string
}

type Supervisor struct {
	downloader Downloader
	dataDir    string
}

func NewSupervisor(d Downloader, dataDir string) *Supervisor {
	return &Supervisor{downloader: d, dataDir: dataDir}
}

// Run downloads url into the data directory. The returned error is set only
// for failures of the downloader itself; cancellation is reported as
// OutcomeAborted.
func (s *Supervisor) Run(ctx context.Context, url string, sink Sink) (Result, error) {
	settings, err := embedconf.Load(s.dataDir)
	if err != nil {
		log.Printf("Using default download settings: %v", err)
		settings = embedconf.Defaults()
	}
	opts := embedconf.ToOptions(settings, s.dataDir)

	sink.Log(events.KindInfo, "Starting download: "+url)

	r := &relay{sink: sink, outDir: s.dataDir}
	runErr := s.downloader.Run(ctx, url, opts, r)
	end, ended, files := r.result()

	result := Result{Files: files}
	switch {
	case ended && end.Aborted:
		result.Outcome = OutcomeAborted
	case runErr != nil && (errors.Is(runErr, context.Canceled) || ctx.Err() != nil):
		sink.Log(events.KindWarn, "Download aborted")
		result.Outcome = OutcomeAborted
	case runErr != nil:
		return result, fmt.Errorf("download failed: %w", runErr)
	case ended && end.Error:
		result.Outcome = OutcomeErrored
		result.Message = end.Message
		if result.Message == "" {
			result.Message = "download ended with an error"
		}
	case ctx.Err() != nil:
		sink.Log(events.KindWarn, "Download aborted")
		result.Outcome = OutcomeAborted
	default:
		result.Outcome = OutcomeSucceeded
	}
	return result, nil
}

// relay maps downloader events onto the sink.
type relay struct {
	sink   Sink
	outDir string

	mu    sync.Mutex
	files []string
	end   End
	ended bool
}

func (r *relay) result() (End, bool, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	files := make([]string, len(r.files))
	copy(files, r.files)
	return r.end, r.ended, files
}

func (r *relay) FetchBegin(targetType string) {
	r.sink.Log(events.KindInfo, fmt.Sprintf("Fetching %s data...", targetType))
}

func (r *relay) TargetBegin(t Target) {
	name := t.Name
	if name == "" {
		name = "Unknown"
	}
	r.sink.Log(events.KindInfo, "Processing: "+name)
	r.sink.TargetBegun()
}

func (r *relay) TargetEnd(o TargetOutcome) {
	if o.Skipped {
		msg := o.SkipMessage
		if msg == "" {
			msg = "unknown reason"
		}
		r.sink.Log(events.KindSkip, "Skipped: "+msg)
	} else {
		r.sink.Log(events.KindSuccess, "Target completed")
	}
	r.sink.TargetEnded(o.Skipped)
}

func (r *relay) FileStart(f File) {
	r.sink.Log(events.KindInfo, "Downloading: "+displayName(f))
}

func (r *relay) FileProgress(p events.FileProgress) {
	r.sink.FileProgress(p)
}

func (r *relay) FileComplete(f File) {
	if f.Path != "" {
		path := f.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.outDir, path)
		}
		r.mu.Lock()
		r.files = append(r.files, filepath.Clean(path))
		r.mu.Unlock()
	}
	r.sink.Log(events.KindSuccess, "Downloaded: "+displayName(f))
}

func (r *relay) FileSkip(f File, reason string) {
	r.sink.Log(events.KindSkip, fmt.Sprintf("Skipped: %s - %s", displayName(f), reason))
}

func (r *relay) FileError(f File, message string, willRetry bool) {
	if message == "" {
		message = "Unknown error"
	}
	msg := fmt.Sprintf("Download error: %s: %s", displayName(f), message)
	if willRetry {
		msg += " (will retry)"
	}
	r.sink.Log(events.KindError, msg)
}

func (r *relay) End(e End) {
	r.mu.Lock()
	r.end, r.ended = e, true
	r.mu.Unlock()

	switch {
	case e.Aborted:
		r.sink.Log(events.KindWarn, "Download aborted")
	case e.Error:
		r.sink.Log(events.KindError, "Download ended with error: "+e.Message)
	default:
		r.sink.Log(events.KindSuccess, "Download completed")
	}
}

func displayName(f File) string {
	if f.Filename != "" {
		return f.Filename
	}
	if f.Path != "" {
		return filepath.Base(f.Path)
	}
	return "file"
}
