package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"patreonviewer/config"
	"patreonviewer/downloader"
	"patreonviewer/encoder"

	"github.com/gofrs/flock"
	"github.com/lithammer/shortuuid/v4"
)

// LockFileName guards a data directory against a second server instance.
const LockFileName = ".patreon-viewer.lock"

var (
	ErrInvalidURL  = errors.New("invalid patreon url")
	ErrJobActive   = errors.New("a job is already in progress")
	ErrNoActiveJob = errors.New("no active job")
	ErrDataDirBusy = errors.New("data directory is locked by another process")
)

// urlPattern accepts post, collection and creator page URLs.
var urlPattern = regexp.MustCompile(`^https?://(www\.)?patreon\.com/(posts/|collection/|[^/]+/?$)`)

// ValidateURL reports whether url names something the downloader can fetch.
func ValidateURL(url string) bool {
	return urlPattern.MatchString(url)
}

type DownloadPhase interface {
	Run(ctx context.Context, url string, sink downloader.Sink) (downloader.Result, error)
}

type EncodePhase interface {
	Run(ctx context.Context, batch encoder.Batch, sink encoder.Sink) encoder.Summary
}

// Manager runs at most one download+encode job at a time.
type Manager struct {
	cfg      *config.Config
	hub      *Hub
	store    *Store
	download DownloadPhase
	encode   EncodePhase

	mu      sync.Mutex
	baseCtx context.Context
	lock    *flock.Flock
	wg      sync.WaitGroup
}

func NewManager(cfg *config.Config, download DownloadPhase, encode EncodePhase) (*Manager, error) {
	if download == nil || encode == nil {
		return nil, fmt.Errorf("download and encode phases are required")
	}
	hub := NewHub()
	m := &Manager{
		cfg:      cfg,
		hub:      hub,
		store:    NewStore(hub, cfg.MaxLogEntries),
		download: download,
		encode:   encode,
		baseCtx:  context.Background(),
	}
	return m, nil
}

// Start claims the data directory and ties job lifetimes to ctx.
func (m *Manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(m.cfg.DataDir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock data dir: %w", err)
	}
	if !locked {
		return ErrDataDirBusy
	}

	m.mu.Lock()
	m.baseCtx = ctx
	m.lock = lock
	m.mu.Unlock()

	log.Printf("Job manager started. Data dir: %s", m.cfg.DataDir)
	return nil
}

// Stop waits for the running job, if any, and releases the data directory.
// Callers cancel the Start context first to abort the job.
func (m *Manager) Stop() {
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock != nil {
		if err := m.lock.Unlock(); err != nil {
			log.Printf("Failed to release data dir lock: %v", err)
		}
		m.lock = nil
	}
	log.Println("Job manager stopped.")
}

// Wait blocks until the running job reaches a terminal status.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) parentContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseCtx
}

// Accept validates url and starts a job for it.
func (m *Manager) Accept(url string) (string, error) {
	url = strings.TrimSpace(url)
	if !ValidateURL(url) {
		return "", ErrInvalidURL
	}

	id := fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
	ctx, cancel := context.WithCancel(m.parentContext())
	m.wg.Add(1)
	if !m.store.begin(id, url, cancel) {
		m.wg.Done()
		cancel()
		return "", ErrJobActive
	}

	go m.run(ctx, cancel, url)
	log.Printf("Job %s accepted for %s", id, url)
	return id, nil
}

// Abort signals the running job to stop.
func (m *Manager) Abort() error {
	if !m.store.requestAbort() {
		return ErrNoActiveJob
	}
	log.Println("Cancellation signal sent to running job.")
	return nil
}

func (m *Manager) Snapshot() Snapshot {
	return m.store.Snapshot()
}

func (m *Manager) Subscribe() (*Subscriber, error) {
	return m.store.Subscribe()
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, url string) {
	defer m.wg.Done()
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Job panicked: %v", r)
			m.store.fail(fmt.Sprint(r))
		}
	}()

	result, err := m.download.Run(ctx, url, m.store)
	if err != nil && ctx.Err() != nil {
		m.store.finish(StatusAborted, nil)
		return
	}
	if err != nil {
		log.Printf("Job failed: %v", err)
		m.store.fail(err.Error())
		return
	}

	switch result.Outcome {
	case downloader.OutcomeAborted:
		m.store.finish(StatusAborted, nil)
		return
	case downloader.OutcomeErrored:
		msg := result.Message
		m.store.finish(StatusError, &msg)
		return
	}

	if ctx.Err() != nil || !m.store.enterEncoding() {
		m.store.finish(StatusAborted, nil)
		return
	}

	files := result.Files
	if files == nil {
		files = []string{}
	}
	summary := m.encode.Run(ctx, encoder.Batch{Files: files, Dir: m.cfg.DataDir}, m.store)
	if summary.Aborted || ctx.Err() != nil {
		m.store.finish(StatusAborted, nil)
		return
	}

	if !m.store.complete() {
		return
	}
	log.Printf("Job completed. Encoded %d of %d file(s).", summary.Encoded, summary.Total)
}
