package extractor

import (
	"fmt"
	"strings"
)

// Format is the resolved yt-dlp selection for a quality selector.
type Format struct {
	Quality     string
	Expression  string
	MergeFormat string
	Ext         string
	ContentType string
}

// AudioQuality is the selector for audio-only downloads.
const AudioQuality = "audio"

// VideoTiers lists the supported video tiers, highest first, with their height.
var VideoTiers = []struct {
	Name   string
	Height int
}{
	{"2160p", 2160},
	{"1440p", 1440},
	{"1080p", 1080},
	{"720p", 720},
	{"480p", 480},
	{"360p", 360},
}

// Audio prefers m4a, then webm/opus, then whatever is best.
const audioExpression = "bestaudio[ext=m4a]/bestaudio[acodec=opus]/bestaudio/best"

// ResolveFormat maps a user-facing quality selector to a format expression.
// Video tiers fall back to the best stream at or below the requested height.
func ResolveFormat(quality string) (Format, bool) {
	q := strings.ToLower(strings.TrimSpace(quality))
	if q == AudioQuality {
		return Format{
			Quality:     AudioQuality,
			Expression:  audioExpression,
			Ext:         "m4a",
			ContentType: "audio/mp4",
		}, true
	}
	for _, tier := range VideoTiers {
		if tier.Name != q {
			continue
		}
		h := tier.Height
		expr := fmt.Sprintf(
			"bestvideo[height<=%d][ext=mp4]+bestaudio[ext=m4a]/bestvideo[height<=%d]+bestaudio/best[height<=%d]",
			h, h, h)
		return Format{
			Quality:     tier.Name,
			Expression:  expr,
			MergeFormat: "mp4",
			Ext:         "mp4",
			ContentType: "video/mp4",
		}, true
	}
	return Format{}, false
}

// SupportedQualities returns every selector ResolveFormat accepts.
func SupportedQualities() []string {
	out := make([]string, 0, len(VideoTiers)+1)
	for _, tier := range VideoTiers {
		out = append(out, tier.Name)
	}
	return append(out, AudioQuality)
}

// SuggestedFilename is the attachment name offered to the client.
func (f Format) SuggestedFilename() string {
	if f.Quality == AudioQuality {
		return "audio." + f.Ext
	}
	return fmt.Sprintf("video_%s.%s", f.Quality, f.Ext)
}
