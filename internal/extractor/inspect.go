package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"videoDownloader/internal/apperr"
	"videoDownloader/internal/models"
)

const (
	DefaultInspectTimeout = 30 * time.Second
	maxInspectOutput      = 16 * 1024 * 1024
	descriptionLimit      = 200
	minTierHeight         = 480
)

// AllowedDomains are the source hosts accepted for metadata and downloads.
// Subdomains match too.
var AllowedDomains = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
	"dailymotion.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"instagram.com",
	"facebook.com",
	"soundcloud.com",
}

// MetadataTiers is the display order of probed qualities.
var MetadataTiers = []string{"2160p", "1440p", "1080p", "720p", "480p", AudioQuality}

// Bitrates (kbps) used to estimate sizes when the tool reports none.
var Bitrates = map[string]int64{
	"2160p":      20000,
	"1440p":      10000,
	"1080p":      5000,
	"720p":       2500,
	"480p":       1000,
	AudioQuality: 128,
}

// ValidateSourceURL checks the URL shape and the domain allow-list.
func ValidateSourceURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperr.Validation("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return apperr.Validation("url is not valid")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.Validation("url must use http or https")
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range AllowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}
	return apperr.Validation("unsupported source domain: " + host)
}

// Inspect runs yt-dlp in dump-only mode and summarizes the result.
func (s *Service) Inspect(ctx context.Context, rawURL string, timeout time.Duration) (*models.Metadata, error) {
	if err := ValidateSourceURL(rawURL); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultInspectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"--dump-json", "--no-playlist", "--no-warnings", "--skip-download"}
	args = append(args, s.cookieArgs()...)
	args = append(args, strings.TrimSpace(rawURL))

	stdout := &cappedBuffer{limit: maxInspectOutput}
	stderr := &cappedBuffer{limit: 64 * 1024}
	cmd := exec.CommandContext(ctx, s.opts.Command, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = s.opts.WaitDelay

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, apperr.Timeout(fmt.Sprintf("metadata lookup timed out after %s", timeout))
	}
	if stdout.overflow {
		return nil, apperr.New(apperr.KindProcessFailure, "yt-dlp metadata output too large")
	}
	if err != nil {
		return nil, classifyInspectError(s.opts.Command, err, stderr.buf.String())
	}

	var info videoInfo
	if err := json.Unmarshal(firstJSONLine(stdout.buf.Bytes()), &info); err != nil {
		return nil, apperr.Wrap(apperr.KindProcessFailure, "failed to parse yt-dlp metadata", err)
	}
	s.logger.Debug("metadata fetched", "url", rawURL, "formats", len(info.Formats))
	return summarize(&info), nil
}

func classifyInspectError(command string, err error, stderr string) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return classifyStartError(command, err)
	}
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "unsupported url"):
		return apperr.New(apperr.KindUnsupportedSource, "the URL is not supported")
	case strings.Contains(lower, "private video"),
		strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "this video is unavailable"),
		strings.Contains(lower, "members-only"),
		strings.Contains(lower, "has been removed"):
		return apperr.Unavailable("the video is private or unavailable")
	}
	detail := LastErrorLine(stderr)
	if detail == "" {
		detail = fmt.Sprintf("exit code %d", exitErr.ExitCode())
	}
	return apperr.Wrap(apperr.KindProcessFailure, "yt-dlp failed: "+detail, err)
}

// LastErrorLine returns the last "ERROR:" line of yt-dlp output, or the last
// non-empty line when there is none.
func LastErrorLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			return line
		}
		if last == "" {
			last = line
		}
	}
	return last
}

type videoFormat struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Height         *int     `json:"height"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	Filesize       *int64   `json:"filesize"`
	FilesizeApprox *int64   `json:"filesize_approx"`
	TBR            *float64 `json:"tbr"`
}

type videoInfo struct {
	Title       string        `json:"title"`
	Thumbnail   string        `json:"thumbnail"`
	Duration    float64       `json:"duration"`
	Uploader    string        `json:"uploader"`
	Description string        `json:"description"`
	Formats     []videoFormat `json:"formats"`
}

func (f videoFormat) hasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none" && f.Height != nil && *f.Height > 0
}

func (f videoFormat) hasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

func (f videoFormat) size() int64 {
	if f.Filesize != nil && *f.Filesize > 0 {
		return *f.Filesize
	}
	if f.FilesizeApprox != nil && *f.FilesizeApprox > 0 {
		return *f.FilesizeApprox
	}
	return 0
}

// tierForHeight buckets a height down to the nearest listed tier.
func tierForHeight(height int) (string, bool) {
	if height < minTierHeight {
		return "", false
	}
	for _, tier := range VideoTiers {
		if tier.Height >= minTierHeight && height >= tier.Height {
			return tier.Name, true
		}
	}
	return "", false
}

func summarize(info *videoInfo) *models.Metadata {
	present := make(map[string]bool)
	reported := make(map[string]int64)

	for _, f := range info.Formats {
		switch {
		case f.hasVideo():
			tier, ok := tierForHeight(*f.Height)
			if !ok {
				continue
			}
			present[tier] = true
			reported[tier] = max(reported[tier], f.size())
		case f.hasAudio():
			present[AudioQuality] = true
			reported[AudioQuality] = max(reported[AudioQuality], f.size())
		}
	}
	// Muxed streams count as audio availability too.
	if !present[AudioQuality] {
		for _, f := range info.Formats {
			if f.hasAudio() {
				present[AudioQuality] = true
				break
			}
		}
	}

	qualities := make([]string, 0, len(MetadataTiers))
	sizes := make(map[string]int64, len(MetadataTiers))
	for _, tier := range MetadataTiers {
		if !present[tier] {
			continue
		}
		qualities = append(qualities, tier)
		if size := reported[tier]; size > 0 {
			sizes[tier] = size
		} else {
			sizes[tier] = EstimateSize(tier, info.Duration)
		}
	}

	return &models.Metadata{
		Title:              info.Title,
		Thumbnail:          info.Thumbnail,
		Duration:           FormatDuration(int(info.Duration)),
		DurationSeconds:    info.Duration,
		Uploader:           info.Uploader,
		Description:        truncate(info.Description, descriptionLimit),
		AvailableQualities: qualities,
		EstimatedSizes:     sizes,
	}
}

// EstimateSize returns bitrate × duration / 8 in bytes.
func EstimateSize(tier string, durationSeconds float64) int64 {
	kbps, ok := Bitrates[tier]
	if !ok || durationSeconds <= 0 {
		return 0
	}
	return int64(float64(kbps*1000) * durationSeconds / 8)
}

// FormatDuration renders seconds as mm:ss or hh:mm:ss.
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "00:00"
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])) + "..."
}

func firstJSONLine(out []byte) []byte {
	out = bytes.TrimSpace(out)
	if i := bytes.IndexByte(out, '\n'); i >= 0 {
		return out[:i]
	}
	return out
}

// cappedBuffer keeps at most limit bytes and remembers if more arrived.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.overflow = true
		return len(p), nil
	}
	if len(p) > room {
		c.overflow = true
		c.buf.Write(p[:room])
		return len(p), nil
	}
	return c.buf.Write(p)
}
