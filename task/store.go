package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"patreonviewer/events"
)

// DefaultMaxLogEntries bounds the rolling job log.
const DefaultMaxLogEntries = 500

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Store holds the state of the current (or last) job. Every observable
// mutation is published on the hub while the store lock is held, so a
// subscriber registered under the same lock sees its snapshot strictly
// before any later change.
type Store struct {
	mu     sync.Mutex
	hub    *Hub
	maxLog int
	now    func() time.Time

	id       string
	status   Status
	url      *string
	err      *string
	cancel   context.CancelFunc
	log      []LogEntry
	progress *events.FileProgress
	targets  Targets
	encoding Encoding
}

func NewStore(hub *Hub, maxLog int) *Store {
	if maxLog <= 0 {
		maxLog = DefaultMaxLogEntries
	}
	s := &Store{hub: hub, maxLog: maxLog, now: time.Now}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.id = ""
	s.status = StatusIdle
	s.url = nil
	s.err = nil
	s.cancel = nil
	s.log = []LogEntry{}
	s.progress = nil
	s.targets = Targets{}
	s.encoding = Encoding{}
}

func (s *Store) broadcastLocked(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to encode %s event: %v", name, err)
		return
	}
	s.hub.Publish(Event{Name: name, Data: data})
}

// AppendLog adds an entry to the rolling log, evicting the oldest entry
// past the bound, and publishes it.
func (s *Store) AppendLog(kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLogLocked(kind, message)
}

func (s *Store) appendLogLocked(kind, message string) {
	entry := LogEntry{
		Kind:      kind,
		Message:   message,
		Timestamp: s.now().UTC().Format(timestampLayout),
	}
	s.log = append(s.log, entry)
	if over := len(s.log) - s.maxLog; over > 0 {
		n := copy(s.log, s.log[over:])
		s.log = s.log[:n]
	}
	s.broadcastLocked(EventLog, entry)
}

// Log implements the phase sinks.
func (s *Store) Log(kind, message string) {
	s.AppendLog(kind, message)
}

// TargetBegun counts a target the downloader started.
func (s *Store) TargetBegun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets.Total++
	s.broadcastLocked(EventTargets, s.targets)
}

// TargetEnded counts a finished target. An end without a matching begin is
// dropped so completed+skipped never exceeds total.
func (s *Store) TargetEnded(skipped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targets.Completed+s.targets.Skipped >= s.targets.Total {
		log.Printf("Ignoring target end without a matching begin")
		return
	}
	if skipped {
		s.targets.Skipped++
	} else {
		s.targets.Completed++
	}
	s.broadcastLocked(EventTargets, s.targets)
}

// FileProgress records and publishes a transfer progress sample. Non-finite
// numbers have no JSON form and are stored as zero.
func (s *Store) FileProgress(p events.FileProgress) {
	p.Percent = finite(p.Percent)
	p.Speed = finite(p.Speed)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = &p
	s.broadcastLocked(EventProgress, p)
}

func (s *Store) EncodingStarted(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoding = Encoding{Total: total}
	s.broadcastLocked(EventEncoding, s.encoding)
}

func (s *Store) EncodingProgress(current string, completed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoding.Total = total
	s.encoding.Completed = min(completed, total)
	s.encoding.Current = nil
	if current != "" {
		s.encoding.Current = &current
	}
	s.broadcastLocked(EventEncoding, s.encoding)
}

func (s *Store) EncodingFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoding.Current = nil
	s.broadcastLocked(EventEncoding, s.encoding)
}

// Status returns the current status.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:       s.id,
		Status:   s.status,
		URL:      copyString(s.url),
		Error:    copyString(s.err),
		Log:      make([]LogEntry, len(s.log)),
		Targets:  s.targets,
		Encoding: Encoding{Total: s.encoding.Total, Completed: s.encoding.Completed, Current: copyString(s.encoding.Current)},
	}
	copy(snap.Log, s.log)
	if s.progress != nil {
		p := *s.progress
		snap.Progress = &p
	}
	return snap
}

// Snapshot returns a copy of the observable state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers a listener whose first event is the state snapshot.
func (s *Store) Subscribe() (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(s.snapshotLocked())
	if err != nil {
		return nil, fmt.Errorf("failed to encode state snapshot: %w", err)
	}
	return s.hub.add(Event{Name: EventState, Data: data}), nil
}

// begin starts a job when the current status accepts one.
func (s *Store) begin(id, url string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Accepting() {
		return false
	}
	s.resetLocked()
	s.id = id
	s.status = StatusDownloading
	s.url = &url
	s.cancel = cancel
	s.broadcastLocked(EventStatus, StatusUpdate{Status: s.status, ID: id, URL: &url})
	// Listeners connected during the previous job still hold its log and
	// counters.
	s.broadcastLocked(EventState, s.snapshotLocked())
	return true
}

// requestAbort signals the active job. Repeated requests are no-ops.
func (s *Store) requestAbort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	if s.status == StatusAborting {
		return true
	}
	s.cancel()
	s.status = StatusAborting
	s.broadcastLocked(EventStatus, StatusUpdate{Status: s.status})
	s.appendLogLocked(events.KindWarn, "Abort requested...")
	return true
}

// enterEncoding moves a downloading job on to encoding. It fails when the
// job is being aborted.
func (s *Store) enterEncoding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusDownloading {
		return false
	}
	s.status = StatusEncoding
	s.broadcastLocked(EventStatus, StatusUpdate{Status: s.status})
	return true
}

// finish records a terminal status and drops the cancellation handle. A job
// with a pending abort always ends aborted.
func (s *Store) finish(status Status, errMsg *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusAborting {
		status, errMsg = StatusAborted, nil
	}
	s.finishLocked(status, errMsg)
}

// complete ends a successful job with its closing log line. It reports
// false when an abort arrived first and the job ended aborted instead.
func (s *Store) complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusAborting {
		s.finishLocked(StatusAborted, nil)
		return false
	}
	s.finishLocked(StatusComplete, nil)
	s.appendLogLocked(events.KindSuccess, "All done!")
	return true
}

func (s *Store) finishLocked(status Status, errMsg *string) {
	s.status = status
	s.err = errMsg
	s.cancel = nil
	s.encoding.Current = nil
	s.broadcastLocked(EventStatus, StatusUpdate{Status: status, Error: copyString(errMsg)})
}

// fail records an unrecoverable job failure.
func (s *Store) fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(StatusError, &message)
	s.appendLogLocked(events.KindError, "Fatal error: "+message)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
