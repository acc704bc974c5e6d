// Package solo provides the sources of solo onsets the conductor listens to.
package solo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chase3718/accompanist/internal/metrics"
	"github.com/chase3718/accompanist/internal/score"
)

// DefaultQueueSize is the onset buffer between a tracker and its consumer.
const DefaultQueueSize = 64

// Onset is one detected solo note start.
type Onset struct {
	Time     time.Time
	Pitch    int
	Velocity int
}

// Tracker produces solo onsets asynchronously. Onsets is closed after
// StopListening returns.
type Tracker interface {
	StartListening(ctx context.Context) error
	StopListening()
	Onsets() <-chan Onset
}

// queue is the bounded, close-safe onset channel shared by the trackers.
type queue struct {
	mu     sync.Mutex
	ch     chan Onset
	closed bool
	logger *slog.Logger
}

func newQueue(size int, logger *slog.Logger) *queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &queue{ch: make(chan Onset, size), logger: logger}
}

// push never blocks: a full queue drops the onset.
func (q *queue) push(o Onset) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- o:
	default:
		metrics.DroppedOnsets.Inc()
		q.logger.Warn("solo: onset queue full, dropping onset", "pitch", o.Pitch)
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// ReplayTracker plays a recorded solo back as onsets in real time, scaled
// by Scale (2 plays at half speed). It stands in for a live soloist.
type ReplayTracker struct {
	events []score.Event
	scale  float64
	delay  time.Duration
	poll   time.Duration
	q      *queue
	logger *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// ReplayOptions tune a ReplayTracker.
type ReplayOptions struct {
	Scale     float64       // multiplies every interval; <= 0 means 1
	Delay     time.Duration // silence before the first onset
	Poll      time.Duration // stop-check interval
	QueueSize int
}

// NewReplayTracker returns a tracker replaying events.
func NewReplayTracker(events []score.Event, opts ReplayOptions, logger *slog.Logger) *ReplayTracker {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.Poll <= 0 {
		opts.Poll = 20 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "solo")
	return &ReplayTracker{
		events: append([]score.Event(nil), events...),
		scale:  opts.Scale,
		delay:  opts.Delay,
		poll:   opts.Poll,
		q:      newQueue(opts.QueueSize, logger),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// StartListening implements Tracker.
func (r *ReplayTracker) StartListening(ctx context.Context) error {
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
	return nil
}

func (r *ReplayTracker) run(ctx context.Context) {
	defer close(r.done)
	defer r.q.close()

	if len(r.events) == 0 {
		return
	}
	start := time.Now().Add(r.delay)
	first := r.events[0].OnsetTime
	r.logger.Info("solo: replay started", "notes", len(r.events), "scale", r.scale)

	timer := time.NewTimer(r.poll)
	defer timer.Stop()
	for _, ev := range r.events {
		due := start.Add(time.Duration((ev.OnsetTime - first) * r.scale * float64(time.Second)))
		for {
			remaining := time.Until(due)
			if remaining <= 0 {
				break
			}
			timer.Reset(min(remaining, r.poll))
			select {
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		r.q.push(Onset{Time: time.Now(), Pitch: ev.Pitch, Velocity: int(ev.Velocity)})
	}
	r.logger.Info("solo: replay finished")
}

// StopListening implements Tracker.
func (r *ReplayTracker) StopListening() {
	r.stopOnce.Do(func() { close(r.stop) })
	started := true
	r.startOnce.Do(func() { started = false })
	if !started {
		r.q.close()
		return
	}
	<-r.done
}

// Onsets implements Tracker.
func (r *ReplayTracker) Onsets() <-chan Onset {
	return r.q.ch
}
