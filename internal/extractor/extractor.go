// Package extractor wraps the yt-dlp executable: launching downloads as an
// event stream, resolving quality selectors, and probing metadata.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"videoDownloader/internal/apperr"
)

const (
	DefaultCommand   = "yt-dlp"
	defaultWaitDelay = 5 * time.Second
	eventBuffer      = 64
)

// Options configures how yt-dlp is invoked.
type Options struct {
	Command            string
	CookiesFromBrowser string
	CookiesFile        string
	// WaitDelay bounds how long output pipes may stay open after the
	// process is killed.
	WaitDelay time.Duration
}

// Service launches yt-dlp processes.
type Service struct {
	logger *slog.Logger
	opts   Options
}

func NewService(logger *slog.Logger, opts Options) *Service {
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = defaultWaitDelay
	}
	return &Service{logger: logger, opts: opts}
}

// Command returns the configured executable.
func (s *Service) Command() string {
	return s.opts.Command
}

// EventKind tells which field of Event is meaningful.
type EventKind int

const (
	EventOutput EventKind = iota
	EventExited
	EventSpawnFailed
)

func (k EventKind) String() string {
	switch k {
	case EventOutput:
		return "output"
	case EventExited:
		return "exited"
	case EventSpawnFailed:
		return "spawn_failed"
	default:
		return "unknown"
	}
}

// Event is one message from a running process.
type Event struct {
	Kind EventKind
	// Stream is "stdout" or "stderr" for output events.
	Stream string
	Line   string
	// ExitCode is -1 when the process was terminated by a signal.
	ExitCode int
	// Killed is set when the launch context ended the process.
	Killed bool
	Err    error
}

// Request describes one download.
type Request struct {
	URL            string
	Format         Format
	OutputTemplate string
}

// Process is a running download. Events is closed after the final
// Exited or SpawnFailed event.
type Process struct {
	events chan Event
	cancel context.CancelFunc
}

func (p *Process) Events() <-chan Event {
	return p.events
}

// Kill terminates the process. Safe to call more than once.
func (p *Process) Kill() {
	p.cancel()
}

// Launch starts yt-dlp without blocking. Failures to start are reported on
// the event stream.
func (s *Service) Launch(ctx context.Context, req Request) *Process {
	ctx, cancel := context.WithCancel(ctx)
	p := &Process{events: make(chan Event, eventBuffer), cancel: cancel}

	args := s.DownloadArgs(req)
	cmd := exec.CommandContext(ctx, s.opts.Command, args...)
	cmd.WaitDelay = s.opts.WaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.spawnFailed(p, fmt.Errorf("failed to create yt-dlp stdout pipe: %w", err))
		return p
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.spawnFailed(p, fmt.Errorf("failed to create yt-dlp stderr pipe: %w", err))
		return p
	}

	if err := cmd.Start(); err != nil {
		s.spawnFailed(p, classifyStartError(s.opts.Command, err))
		return p
	}
	s.logger.Debug("yt-dlp started", "pid", cmd.Process.Pid, "url", req.URL, "format", req.Format.Expression)

	go func() {
		defer close(p.events)
		defer cancel()

		var wg sync.WaitGroup
		wg.Add(2)
		go s.pump(&wg, p.events, "stdout", stdout)
		go s.pump(&wg, p.events, "stderr", stderr)
		wg.Wait()

		waitErr := cmd.Wait()
		evt := Event{Kind: EventExited, ExitCode: 0, Killed: ctx.Err() != nil}
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				evt.ExitCode = exitErr.ExitCode()
			} else {
				evt.ExitCode = -1
			}
			evt.Err = waitErr
		}
		p.events <- evt
	}()

	return p
}

func (s *Service) spawnFailed(p *Process, err error) {
	s.logger.Error("failed to start yt-dlp", "command", s.opts.Command, "error", err)
	p.events <- Event{Kind: EventSpawnFailed, ExitCode: -1, Err: err}
	close(p.events)
	p.cancel()
}

func (s *Service) pump(wg *sync.WaitGroup, events chan<- Event, stream string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := string(bytes.TrimSpace(scanner.Bytes()))
		if line == "" {
			continue
		}
		events <- Event{Kind: EventOutput, Stream: stream, Line: line}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.logger.Debug("yt-dlp output read stopped", "stream", stream, "error", err)
	}
}

// scanLines splits on \n and \r; yt-dlp redraws progress with carriage returns.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// DownloadArgs builds the yt-dlp argument list for a download.
func (s *Service) DownloadArgs(req Request) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--no-mtime",
		"-f", req.Format.Expression,
	}
	if req.Format.MergeFormat != "" {
		args = append(args, "--merge-output-format", req.Format.MergeFormat)
	}
	args = append(args, s.cookieArgs()...)
	args = append(args, "-o", req.OutputTemplate, req.URL)
	return args
}

func (s *Service) cookieArgs() []string {
	var args []string
	if s.opts.CookiesFromBrowser != "" {
		args = append(args, "--cookies-from-browser", s.opts.CookiesFromBrowser)
	}
	if s.opts.CookiesFile != "" {
		args = append(args, "--cookies", s.opts.CookiesFile)
	}
	return args
}

func classifyStartError(command string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, exec.ErrDot) || errors.Is(err, fs.ErrNotExist) {
		return apperr.Wrap(apperr.KindToolMissing,
			fmt.Sprintf("yt-dlp executable %q not found; install yt-dlp or set YTDLP_PATH", command), err)
	}
	return apperr.Wrap(apperr.KindProcessFailure, "failed to start yt-dlp", err)
}
