package manager

import (
	"context"
	"errors"
	"os"
	"sync"

	"videoDownloader/internal/apperr"
	"videoDownloader/internal/models"
	"videoDownloader/internal/store"
)

// Artifact is a finished download handed to exactly one client. Closing it
// deletes the file and the session.
type Artifact struct {
	ContentType string
	Filename    string
	Size        int64

	file    *os.File
	once    sync.Once
	release func()
}

func (a *Artifact) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

// Close ends the retrieval. Safe to call more than once.
func (a *Artifact) Close() error {
	var err error
	a.once.Do(func() {
		err = a.file.Close()
		a.release()
	})
	return err
}

// Retrieve claims a completed session's file. While one retrieval is in
// flight every other attempt sees the session as gone.
func (m *Manager) Retrieve(ctx context.Context, id string) (*Artifact, error) {
	if !m.claim(id) {
		return nil, apperr.NotFound("session not found")
	}

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		m.unclaim(id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("session not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load session", err)
	}
	if rec.Status != models.StatusCompleted || rec.ArtifactPath == "" {
		m.unclaim(id)
		return nil, apperr.NotReady("download is not completed yet")
	}

	f, err := os.Open(rec.ArtifactPath)
	if err != nil {
		m.logger.Error("artifact missing on disk", "session_id", id, "path", rec.ArtifactPath, "error", err)
		m.discard(id, rec.ArtifactPath)
		return nil, apperr.NotFound("file no longer available")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		m.discard(id, rec.ArtifactPath)
		return nil, apperr.Wrap(apperr.KindInternal, "failed to read file", err)
	}

	return &Artifact{
		ContentType: rec.ContentType,
		Filename:    rec.Filename,
		Size:        info.Size(),
		file:        f,
		release: func() {
			m.discard(id, rec.ArtifactPath)
			m.metrics.ArtifactServed()
			m.logger.Info("artifact delivered", "session_id", id)
		},
	}, nil
}

// discard deletes the file and record of a claimed session and drops the
// claim.
func (m *Manager) discard(id, path string) {
	defer m.unclaim(id)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Error("failed to remove delivered file", "path", path, "error", err)
	} else if err == nil {
		m.metrics.FilesRemoved("delivered", 1)
	}

	ctx, cancel := storeContext()
	defer cancel()
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Error("failed to delete session", "session_id", id, "error", err)
	}
}

func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.claims[id]; taken {
		return false
	}
	m.claims[id] = struct{}{}
	return true
}

func (m *Manager) unclaim(id string) {
	m.mu.Lock()
	delete(m.claims, id)
	m.mu.Unlock()
}

func (m *Manager) claimed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.claims[id]
	return ok
}
