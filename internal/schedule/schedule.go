// Package schedule fires accompaniment events at deadlines that follow the
// soloist's tempo.
//
// Schedule is the state shared between the conductor and the playback
// goroutine. The conductor writes the speed factor and the time origin; the
// playback loop reads them under the same lock on every wait iteration and
// advances the cursor as it fires events.
//
// Reference positions are seconds from the first accompaniment event. The
// speed factor multiplies reference intervals, the same way the policy
// predicts solo intervals: 2 means the soloist takes twice as long, so the
// accompaniment stretches to match. The mapping from reference position to
// wall time is piecewise linear: each speed change re-anchors it at the
// current instant, so already fired events keep their times and only what is
// still ahead is stretched or compressed.
package schedule

import (
	"sync"
	"time"

	"github.com/chase3718/accompanist/internal/policy"
)

// Schedule holds the playback cursor, the current speed factor and the time
// origin of one performance. It is safe for concurrent use.
type Schedule struct {
	mu        sync.RWMutex
	cursor    int
	speed     float64
	origin    time.Time
	begun     bool
	anchorAt  time.Time
	anchorRef float64
}

// Snapshot is a consistent copy of a Schedule.
type Snapshot struct {
	Cursor int
	Speed  float64
	Origin time.Time
	Begun  bool
}

// New returns a schedule at cursor 0 and speed 1.
func New() *Schedule {
	return &Schedule{speed: 1.0}
}

// Begin records the shared time origin. Only the first call has an effect.
func (s *Schedule) Begin(origin time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.begun {
		return
	}
	s.begun = true
	s.origin = origin
	s.anchorAt = origin
	s.anchorRef = 0
}

// SetSpeed applies a new speed factor from now on. Factors outside
// [policy.MinSpeed, policy.MaxSpeed] are clamped.
func (s *Schedule) SetSpeed(factor float64, now time.Time) {
	factor = min(max(factor, policy.MinSpeed), policy.MaxSpeed)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.begun && now.After(s.anchorAt) {
		s.anchorRef += now.Sub(s.anchorAt).Seconds() / s.speed
		s.anchorAt = now
	}
	s.speed = factor
}

// Deadline returns the wall time at which the event at reference position
// ref (seconds from the first event) is due. It reports false until Begin.
func (s *Schedule) Deadline(ref float64) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.begun {
		return time.Time{}, false
	}
	offset := (ref - s.anchorRef) * s.speed
	return s.anchorAt.Add(time.Duration(offset * float64(time.Second))), true
}

// Speed returns the current speed factor.
func (s *Schedule) Speed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speed
}

// Cursor returns the index of the next event to fire.
func (s *Schedule) Cursor() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// Origin returns the time origin, and false before Begin.
func (s *Schedule) Origin() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origin, s.begun
}

// Snapshot returns a consistent copy of the schedule.
func (s *Schedule) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Cursor: s.cursor, Speed: s.speed, Origin: s.origin, Begun: s.begun}
}

func (s *Schedule) advance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor++
	return s.cursor
}
