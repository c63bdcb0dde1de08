package progress

import "time"

const (
	DefaultTickInterval = 2 * time.Second
	DefaultSilence      = 5 * time.Second
)

// Checkpoints walked by the simulator. It never goes past the last one.
var Checkpoints = []float64{25, 50, 75, 90}

// Simulator advances progress during silent stalls. It is not safe for
// concurrent use; the session driver owns it.
type Simulator struct {
	silence  time.Duration
	lastReal time.Time
	step     int
}

func NewSimulator(silence time.Duration, now time.Time) *Simulator {
	if silence <= 0 {
		silence = DefaultSilence
	}
	return &Simulator{silence: silence, lastReal: now}
}

// Observe records a real progress update, restarting the silence window
// and the checkpoint sequence.
func (s *Simulator) Observe(now time.Time) {
	s.lastReal = now
	s.step = 0
}

// Tick returns the simulated progress for this tick. It moves at most one
// checkpoint and only after the silence window has elapsed.
func (s *Simulator) Tick(now time.Time, current float64) (float64, bool) {
	if now.Sub(s.lastReal) < s.silence {
		return current, false
	}
	for s.step < len(Checkpoints) && Checkpoints[s.step] <= current {
		s.step++
	}
	if s.step >= len(Checkpoints) {
		return current, false
	}
	next := Checkpoints[s.step]
	s.step++
	return next, true
}
