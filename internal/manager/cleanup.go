package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// StartCleanupLoop sweeps expired sessions every interval until ctx ends.
func (m *Manager) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cleanup(ctx)
			}
		}
	}()
}

// Cleanup removes sessions older than the retention window, stops their
// processes and deletes their files. Files in the output directory that
// outlived the window without a live session are removed too.
func (m *Manager) Cleanup(ctx context.Context) {
	cutoff := m.cfg.Now().Add(-m.cfg.Retention)

	expired, err := m.store.Sweep(ctx, cutoff)
	if err != nil {
		m.logger.Error("session sweep failed", "error", err)
	}

	removed := 0
	for _, rec := range expired {
		if m.claimed(rec.ID) {
			continue
		}
		m.mu.Lock()
		r, running := m.runs[rec.ID]
		m.mu.Unlock()
		if running {
			m.kill(r, "session expired")
		}
		removed += m.removeSessionFiles(rec.ID)
	}
	removed += m.removeStrayFiles(cutoff)
	m.metrics.FilesRemoved("expired", removed)

	if len(expired) > 0 || removed > 0 {
		m.logger.Info("cleanup completed", "sessions_expired", len(expired), "files_removed", removed)
	}
}

// removeStrayFiles deletes output files last written before cutoff that no
// running or claimed session owns. Stores with native expiry drop records
// without reporting them, so their files are found here.
func (m *Manager) removeStrayFiles(cutoff time.Time) int {
	entries, err := os.ReadDir(m.cfg.OutputDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Error("failed to list output directory", "dir", m.cfg.OutputDir, "error", err)
		}
		return 0
	}

	m.mu.Lock()
	live := make(map[string]struct{}, len(m.runs)+len(m.claims))
	for id := range m.runs {
		live[id] = struct{}{}
	}
	for id := range m.claims {
		live[id] = struct{}{}
	}
	m.mu.Unlock()

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := live[sessionIDOf(e.Name())]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(m.cfg.OutputDir, e.Name())
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				m.logger.Error("failed to remove expired file", "path", path, "error", err)
			}
			continue
		}
		removed++
	}
	return removed
}
