// Package progress turns yt-dlp output lines into a monotonic completion
// percentage and keeps a synthetic value moving when the tool goes quiet.
package progress

import (
	"regexp"
	"strconv"
	"strings"
)

// Ordered from most to least specific. First match wins.
var percentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)%\s+of`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)%`),
}

const (
	destinationFloor = 5
	complete         = 100
)

var (
	destinationMarkers = []string{"Destination:"}
	doneMarkers        = []string{"has already been downloaded"}
	postProcessMarkers = []string{"[Merger] Merging formats", "Deleting original file"}
	activityMarker     = "[download]"
)

// yt-dlp prints "100%" or "100.0%" depending on version.
var fullPercent = regexp.MustCompile(`(?:^|[^\d.])100(?:\.0+)?%`)

// Staircase used when the tool reports activity without a percentage.
var Staircase = []float64{10, 25, 50, 75, 90}

// Update is the outcome of parsing one line.
type Update struct {
	Progress float64
	// Changed is true when Progress is greater than the previous value.
	Changed bool
	// Done is set when a completion or post-processing marker was seen.
	Done bool
	// Real is set when the line carried a percentage or a marker, whether
	// or not the value rose.
	Real bool
}

// Parse derives the new progress from one line of output given the last
// known value. The result is never lower than previous.
func Parse(line string, previous float64) Update {
	next := previous
	matched := false
	marked := false
	done := false

	if v, ok := matchPercent(line); ok {
		matched = true
		next = max(next, v)
	}

	if containsAny(line, destinationMarkers) {
		marked = true
		next = max(next, destinationFloor)
	}
	if fullPercent.MatchString(line) || containsAny(line, doneMarkers) || containsAny(line, postProcessMarkers) {
		marked = true
		done = true
		next = complete
	}

	if !matched && !marked && strings.Contains(line, activityMarker) {
		if step, ok := NextAbove(Staircase, next); ok {
			next = step
		}
	}

	next = clamp(next)
	return Update{Progress: next, Changed: next > previous, Done: done, Real: matched || marked}
}

func matchPercent(line string) (float64, bool) {
	for _, re := range percentPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return clamp(v), true
	}
	return 0, false
}

// NextAbove returns the first step strictly greater than current.
func NextAbove(steps []float64, current float64) (float64, bool) {
	for _, s := range steps {
		if s > current {
			return s, true
		}
	}
	return 0, false
}

func containsAny(line string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > complete {
		return complete
	}
	return v
}
