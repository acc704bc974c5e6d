package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chase3718/accompanist/internal/metrics"
	"github.com/chase3718/accompanist/internal/output"
	"github.com/chase3718/accompanist/internal/rendezvous"
	"github.com/chase3718/accompanist/internal/score"
)

// DefaultPollInterval bounds how long the playback loop sleeps between
// checks of the stop signal and the current speed.
const DefaultPollInterval = 20 * time.Millisecond

var errStopped = errors.New("schedule: stopped")

// Scheduler is the playback loop. It walks the loaded events in order and
// emits each one to the sink when its deadline, as given by the Schedule,
// arrives.
type Scheduler struct {
	schedule *Schedule
	sink     output.Sink
	poll     time.Duration
	logger   *slog.Logger

	events []score.Event

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewScheduler returns a scheduler that plays into sink.
func NewScheduler(schedule *Schedule, sink output.Sink, poll time.Duration, logger *slog.Logger) *Scheduler {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		schedule: schedule,
		sink:     sink,
		poll:     poll,
		logger:   logger.With("component", "scheduler"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Load sets the events to play. They must be ordered by onset.
func (s *Scheduler) Load(events []score.Event) error {
	if len(events) == 0 {
		return errors.New("schedule: no events to load")
	}
	for i := 1; i < len(events); i++ {
		if events[i].OnsetTime < events[i-1].OnsetTime {
			return fmt.Errorf("schedule: event %d starts before event %d", i, i-1)
		}
	}
	s.events = append([]score.Event(nil), events...)
	s.logger.Info("scheduler: events loaded", "count", len(events))
	return nil
}

// Len returns the number of loaded events.
func (s *Scheduler) Len() int { return len(s.events) }

// Start waits at the barrier, then plays until the events run out, Stop is
// called or ctx is done. The sink is closed on every return path. Start may
// only be called once.
func (s *Scheduler) Start(ctx context.Context, barrier *rendezvous.Barrier) error {
	started := false
	s.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("schedule: scheduler already started")
	}
	defer close(s.done)
	defer func() {
		if err := s.sink.Close(); err != nil {
			s.logger.Warn("scheduler: sink close failed", "err", err)
		}
	}()

	if len(s.events) == 0 {
		return errors.New("schedule: start before load")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	origin, err := barrier.Arrive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("schedule: barrier: %w", err)
	}
	s.logger.Info("scheduler: playback started", "origin", origin.Format(time.RFC3339Nano))

	timer := time.NewTimer(s.poll)
	defer timer.Stop()

	first := s.events[0].OnsetTime
	for i := s.schedule.Cursor(); i < len(s.events); i = s.schedule.advance() {
		ev := s.events[i]
		lateness, err := s.waitUntilDue(ctx, timer, ev.OnsetTime-first)
		if err != nil {
			s.logger.Info("scheduler: stopped", "cursor", i)
			return nil
		}
		if err := s.sink.Emit(ev); err != nil {
			s.logger.Warn("scheduler: emit failed", "index", ev.Index, "err", err)
		}
		metrics.EventsFired.Inc()
		metrics.EmitLateness.Observe(lateness.Seconds())
		s.logger.Debug("scheduler: event fired", "index", ev.Index, "pitch", ev.Pitch, "late_ms", lateness.Milliseconds())
	}
	s.logger.Info("scheduler: all events played", "count", len(s.events))
	return nil
}

// waitUntilDue sleeps in slices of at most the poll interval, re-reading the
// deadline each time since the conductor may change the speed meanwhile.
func (s *Scheduler) waitUntilDue(ctx context.Context, timer *time.Timer, ref float64) (time.Duration, error) {
	for {
		wait := s.poll
		if deadline, ok := s.schedule.Deadline(ref); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return -remaining, nil
			}
			wait = min(remaining, s.poll)
		}
		timer.Reset(wait)
		select {
		case <-s.stop:
			return 0, errStopped
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}

// Stop asks the playback loop to exit. It returns immediately; use Done to
// wait for the loop to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed when Start returns.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
