// Package manager owns download sessions: it launches yt-dlp, drives each
// session's state machine from the process events, hands finished files to
// clients once, and cleans up everything a session leaves behind.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"videoDownloader/internal/apperr"
	"videoDownloader/internal/extractor"
	"videoDownloader/internal/metrics"
	"videoDownloader/internal/models"
	"videoDownloader/internal/progress"
	"videoDownloader/internal/store"
)

const (
	DefaultDownloadTimeout = 30 * time.Minute
	storeOpTimeout         = 5 * time.Second
)

// Launcher starts yt-dlp. *extractor.Service implements it.
type Launcher interface {
	Launch(ctx context.Context, req extractor.Request) *extractor.Process
}

// Config tunes the manager. Zero values pick the defaults.
type Config struct {
	OutputDir       string
	DownloadTimeout time.Duration
	Retention       time.Duration
	TickInterval    time.Duration
	Silence         time.Duration
	Now             func() time.Time
}

// Manager runs download sessions. One goroutine per session is the only
// writer of that session's progress and status.
type Manager struct {
	logger   *slog.Logger
	store    store.Store
	launcher Launcher
	metrics  *metrics.Collector
	cfg      Config

	mu       sync.Mutex
	runs     map[string]*run
	claims   map[string]struct{}
	onUpdate func(models.ProgressEvent)
	closing  bool
	wg       sync.WaitGroup
}

type run struct {
	id      string
	format  extractor.Format
	proc    *extractor.Process
	started time.Time
	// killReason is set under Manager.mu before the process is killed.
	killReason string
}

func New(logger *slog.Logger, st store.Store, launcher Launcher, m *metrics.Collector, cfg Config) *Manager {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "downloads"
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = store.DefaultRetention
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = progress.DefaultTickInterval
	}
	if cfg.Silence <= 0 {
		cfg.Silence = progress.DefaultSilence
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		logger:   logger,
		store:    st,
		launcher: launcher,
		metrics:  m,
		cfg:      cfg,
		runs:     make(map[string]*run),
		claims:   make(map[string]struct{}),
	}
}

// SetUpdateCallback registers fn to receive every session change.
func (m *Manager) SetUpdateCallback(fn func(models.ProgressEvent)) {
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

// Create validates the request, records a downloading session and starts
// yt-dlp. Later process failures are recorded on the session, never
// returned here.
func (m *Manager) Create(ctx context.Context, rawURL, quality string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", apperr.Validation("url is required")
	}
	if strings.TrimSpace(quality) == "" {
		return "", apperr.Validation("quality is required")
	}
	if err := extractor.ValidateSourceURL(rawURL); err != nil {
		return "", err
	}
	format, ok := extractor.ResolveFormat(quality)
	if !ok {
		return "", apperr.Validation(fmt.Sprintf("unsupported quality %q", quality))
	}
	if err := os.MkdirAll(m.cfg.OutputDir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to prepare output directory", err)
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return "", apperr.New(apperr.KindInternal, "server is shutting down")
	}
	m.wg.Add(1)
	m.mu.Unlock()

	rec := &models.Session{
		ID:          uuid.NewString(),
		SourceURL:   rawURL,
		Quality:     format.Quality,
		Status:      models.StatusDownloading,
		ContentType: format.ContentType,
		Filename:    format.SuggestedFilename(),
		CreatedAt:   m.cfg.Now(),
	}
	id, err := m.store.Create(ctx, rec)
	if err != nil {
		m.wg.Done()
		return "", apperr.Wrap(apperr.KindInternal, "failed to create session", err)
	}

	r := &run{id: id, format: format, started: m.cfg.Now()}
	r.proc = m.launcher.Launch(context.Background(), extractor.Request{
		URL:            rawURL,
		Format:         format,
		OutputTemplate: outputTemplate(m.cfg.OutputDir, id),
	})

	m.mu.Lock()
	m.runs[id] = r
	if m.closing {
		r.killReason = "download interrupted by server shutdown"
		r.proc.Kill()
	}
	m.mu.Unlock()

	m.metrics.SessionStarted()
	m.logger.Info("download started", "session_id", id, "url", rawURL, "quality", format.Quality)
	m.notify(models.ProgressEvent{ID: id, Status: models.StatusDownloading})

	go m.drive(r)
	return id, nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	rec, err := m.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("session not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load session", err)
	}
	return rec, nil
}

// Progress returns the poll view of a session.
func (m *Manager) Progress(ctx context.Context, id string) (models.ProgressEvent, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return models.ProgressEvent{}, err
	}
	return models.EventFor(rec), nil
}

// Active returns the number of running processes.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// Shutdown kills every running process and waits for the sessions to be
// finalized or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	for _, r := range m.runs {
		if r.killReason == "" {
			r.killReason = "download interrupted by server shutdown"
		}
		r.proc.Kill()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) notify(evt models.ProgressEvent) {
	m.mu.Lock()
	fn := m.onUpdate
	m.mu.Unlock()
	if fn != nil {
		fn(evt)
	}
}

func (m *Manager) kill(r *run, reason string) {
	m.mu.Lock()
	if r.killReason == "" {
		r.killReason = reason
	}
	m.mu.Unlock()
	r.proc.Kill()
}

func (m *Manager) reasonFor(r *run) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.killReason
}

func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeOpTimeout)
}
