package models

import "time"

// Status represents the lifecycle state of a download session.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Session stores the state of one download request.
type Session struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"source_url"`
	Quality      string    `json:"quality"`
	Status       Status    `json:"status"`
	Progress     float64   `json:"progress"`
	Error        string    `json:"error,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	ContentType  string    `json:"content_type"`
	Filename     string    `json:"filename"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// AdvanceProgress raises progress to p. Lower values and terminal sessions
// are ignored. Reports whether the value changed.
func (s *Session) AdvanceProgress(p float64) bool {
	if s.Status.IsTerminal() {
		return false
	}
	if p > 100 {
		p = 100
	}
	if p <= s.Progress {
		return false
	}
	s.Progress = p
	return true
}

// Complete moves a downloading session to completed.
func (s *Session) Complete(artifactPath string) bool {
	if s.Status.IsTerminal() || artifactPath == "" {
		return false
	}
	s.Status = StatusCompleted
	s.Progress = 100
	s.ArtifactPath = artifactPath
	s.Error = ""
	return true
}

// Fail moves a downloading session to error.
func (s *Session) Fail(detail string) bool {
	if s.Status.IsTerminal() {
		return false
	}
	s.Status = StatusError
	s.Error = detail
	s.ArtifactPath = ""
	return true
}

// Expired reports whether the session is older than the retention window.
func (s *Session) Expired(now time.Time, retention time.Duration) bool {
	return retention > 0 && !s.CreatedAt.IsZero() && now.Sub(s.CreatedAt) >= retention
}

// ProgressEvent is returned to pollers and sent to websocket subscribers.
type ProgressEvent struct {
	ID          string  `json:"id"`
	Status      Status  `json:"status"`
	Progress    float64 `json:"progress"`
	Error       string  `json:"error,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
}

// EventFor builds the poll view of a session.
func EventFor(s *Session) ProgressEvent {
	evt := ProgressEvent{
		ID:       s.ID,
		Status:   s.Status,
		Progress: s.Progress,
		Error:    s.Error,
	}
	if s.Status == StatusCompleted {
		evt.DownloadURL = "/api/download/" + s.ID
	}
	return evt
}

// Metadata is the summary returned by the inspect-only probe.
type Metadata struct {
	Title              string           `json:"title"`
	Thumbnail          string           `json:"thumbnail,omitempty"`
	Duration           string           `json:"duration"`
	DurationSeconds    float64          `json:"duration_seconds"`
	Uploader           string           `json:"uploader,omitempty"`
	Description        string           `json:"description,omitempty"`
	AvailableQualities []string         `json:"available_qualities"`
	EstimatedSizes     map[string]int64 `json:"estimated_sizes"`
}
