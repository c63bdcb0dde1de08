package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"videoDownloader/internal/extractor"
	"videoDownloader/internal/models"
	"videoDownloader/internal/progress"
	"videoDownloader/internal/store"
)

// Suffixes yt-dlp uses for files it has not finished writing.
var partialSuffixes = []string{".part", ".ytdl", ".temp"}

func outputTemplate(dir, id string) string {
	return filepath.Join(dir, id+".%(ext)s")
}

// drive consumes one process's events until it exits. It is the only
// goroutine that writes progress or status for the session.
func (m *Manager) drive(r *run) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.runs, r.id)
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	tick := ticker.C
	ceiling := time.NewTimer(m.cfg.DownloadTimeout)
	defer ceiling.Stop()
	deadline := ceiling.C

	sim := progress.NewSimulator(m.cfg.Silence, m.cfg.Now())
	var current float64
	var lastError string

	events := r.proc.Events()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				m.fail(r, "download process ended without a status")
				return
			}
			switch evt.Kind {
			case extractor.EventOutput:
				if evt.Stream == "stderr" && strings.HasPrefix(evt.Line, "ERROR:") {
					lastError = evt.Line
				}
				u := progress.Parse(evt.Line, current)
				if u.Real || u.Changed {
					sim.Observe(m.cfg.Now())
				}
				if u.Changed {
					current = u.Progress
					m.advance(r.id, current)
				}
				// Post-processing has started; only the exit is left.
				if u.Done {
					tick = nil
				}
			case extractor.EventSpawnFailed:
				m.fail(r, fmt.Sprintf("failed to start yt-dlp: %v", evt.Err))
				return
			case extractor.EventExited:
				m.finish(r, evt, lastError)
				return
			}
		case <-tick:
			if next, ok := sim.Tick(m.cfg.Now(), current); ok {
				current = next
				m.advance(r.id, current)
			}
		case <-deadline:
			m.logger.Warn("download timed out", "session_id", r.id, "timeout", m.cfg.DownloadTimeout)
			m.kill(r, fmt.Sprintf("download timed out after %s", m.cfg.DownloadTimeout))
			deadline = nil
		}
		// A killed process only has its exit left to report.
		if m.reasonFor(r) != "" {
			tick = nil
		}
	}
}

func (m *Manager) advance(id string, p float64) {
	ctx, cancel := storeContext()
	defer cancel()

	changed := false
	err := m.store.Update(ctx, id, func(rec *models.Session) {
		changed = rec.AdvanceProgress(p)
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Error("failed to record progress", "session_id", id, "error", err)
		}
		return
	}
	if changed {
		m.notify(models.ProgressEvent{ID: id, Status: models.StatusDownloading, Progress: p})
	}
}

// finish decides the terminal status once the process has exited.
func (m *Manager) finish(r *run, evt extractor.Event, lastError string) {
	if reason := m.reasonFor(r); reason != "" {
		m.fail(r, reason)
		return
	}
	// A signal exit the manager did not cause counts as success when the
	// artifact is on disk.
	if evt.ExitCode != 0 && !(evt.ExitCode == -1 && !evt.Killed) {
		detail := fmt.Sprintf("yt-dlp exited with code %d", evt.ExitCode)
		if lastError != "" {
			detail += ": " + lastError
		}
		m.fail(r, detail)
		return
	}
	path, ok := m.locateArtifact(r.id, r.format.Ext)
	if !ok {
		m.fail(r, "yt-dlp finished but no output file was found")
		return
	}
	m.complete(r, path)
}

func (m *Manager) complete(r *run, path string) {
	ctx, cancel := storeContext()
	defer cancel()

	var evt models.ProgressEvent
	err := m.store.Update(ctx, r.id, func(rec *models.Session) {
		rec.Complete(path)
		evt = models.EventFor(rec)
	})
	if err != nil {
		// The record expired while the download ran; nobody can fetch the file.
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("session vanished before completion", "session_id", r.id)
		} else {
			m.logger.Error("failed to record completion", "session_id", r.id, "error", err)
		}
		m.metrics.FilesRemoved("orphaned", m.removeSessionFiles(r.id))
		m.metrics.SessionFinished(string(models.StatusError), m.cfg.Now().Sub(r.started))
		return
	}

	m.metrics.SessionFinished(string(models.StatusCompleted), m.cfg.Now().Sub(r.started))
	m.logger.Info("download completed", "session_id", r.id, "path", path)
	m.notify(evt)
}

func (m *Manager) fail(r *run, detail string) {
	removed := m.removeSessionFiles(r.id)
	m.metrics.FilesRemoved("failed", removed)

	ctx, cancel := storeContext()
	defer cancel()

	var evt models.ProgressEvent
	err := m.store.Update(ctx, r.id, func(rec *models.Session) {
		rec.Fail(detail)
		evt = models.EventFor(rec)
	})
	m.metrics.SessionFinished(string(models.StatusError), m.cfg.Now().Sub(r.started))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Error("failed to record failure", "session_id", r.id, "error", err)
		}
		return
	}

	m.logger.Warn("download failed", "session_id", r.id, "error", detail, "files_removed", removed)
	m.notify(evt)
}

// locateArtifact finds the finished file for a session. yt-dlp may pick a
// different extension than requested, so any complete <id>.* file counts.
func (m *Manager) locateArtifact(id, ext string) (string, bool) {
	exact := filepath.Join(m.cfg.OutputDir, id+"."+ext)
	if info, err := os.Stat(exact); err == nil && info.Mode().IsRegular() {
		return exact, true
	}
	for _, name := range m.sessionFiles(id) {
		if isPartial(name) {
			continue
		}
		path := filepath.Join(m.cfg.OutputDir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// sessionFiles lists names in the output directory that belong to id,
// sorted.
func (m *Manager) sessionFiles(id string) []string {
	entries, err := os.ReadDir(m.cfg.OutputDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Error("failed to list output directory", "dir", m.cfg.OutputDir, "error", err)
		}
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if sessionIDOf(e.Name()) == id {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// removeSessionFiles deletes every file that belongs to id and reports how
// many were removed.
func (m *Manager) removeSessionFiles(id string) int {
	removed := 0
	for _, name := range m.sessionFiles(id) {
		path := filepath.Join(m.cfg.OutputDir, name)
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				m.logger.Error("failed to remove file", "path", path, "error", err)
			}
			continue
		}
		removed++
	}
	return removed
}

// sessionIDOf returns the part of a file name before the first dot.
func sessionIDOf(name string) string {
	id, _, _ := strings.Cut(name, ".")
	return id
}

func isPartial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
