// Package rendezvous provides the single-use barrier that lines up the
// listening and playback goroutines on a shared time origin.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBarrierUsed is returned to any party arriving after the barrier has
// already admitted all of its parties.
var ErrBarrierUsed = errors.New("rendezvous: barrier already used")

// Barrier releases its parties together exactly once. The last party to
// arrive stamps the origin time and runs the release action before anyone is
// let through, so every party returns the same origin and observes the
// action's effects. A Barrier cannot be reset; create a new one per
// performance.
type Barrier struct {
	mu       sync.Mutex
	parties  int
	arrived  int
	released chan struct{}
	origin   time.Time
	action   func(origin time.Time)
	now      func() time.Time
}

// NewBarrier returns a barrier for the given number of parties. action may
// be nil.
func NewBarrier(parties int, action func(origin time.Time)) *Barrier {
	if parties < 1 {
		panic(fmt.Sprintf("rendezvous: parties must be positive, got %d", parties))
	}
	return &Barrier{
		parties:  parties,
		released: make(chan struct{}),
		action:   action,
		now:      time.Now,
	}
}

// Arrive blocks until every party has arrived or ctx is done. It returns the
// shared origin time.
func (b *Barrier) Arrive(ctx context.Context) (time.Time, error) {
	b.mu.Lock()
	if b.arrived >= b.parties {
		b.mu.Unlock()
		return time.Time{}, ErrBarrierUsed
	}
	b.arrived++
	if b.arrived == b.parties {
		b.origin = b.now()
		if b.action != nil {
			b.action(b.origin)
		}
		close(b.released)
		b.mu.Unlock()
		return b.origin, nil
	}
	b.mu.Unlock()

	select {
	case <-b.released:
		return b.origin, nil
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}

// Done is closed when the barrier releases.
func (b *Barrier) Done() <-chan struct{} {
	return b.released
}

// Origin returns the release time, and false if the barrier has not
// released yet.
func (b *Barrier) Origin() (time.Time, bool) {
	select {
	case <-b.released:
		return b.origin, true
	default:
		return time.Time{}, false
	}
}
