// Package conductor runs a live performance: it listens to the soloist,
// asks the speed policy how fast to play, and steers the accompaniment
// scheduler accordingly.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chase3718/accompanist/internal/metrics"
	"github.com/chase3718/accompanist/internal/output"
	"github.com/chase3718/accompanist/internal/policy"
	"github.com/chase3718/accompanist/internal/rendezvous"
	"github.com/chase3718/accompanist/internal/schedule"
	"github.com/chase3718/accompanist/internal/score"
	"github.com/chase3718/accompanist/internal/solo"
	"github.com/chase3718/accompanist/internal/timing"
)

// State is the conductor lifecycle state.
type State int32

const (
	WaitingToStart State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case WaitingToStart:
		return "waiting_to_start"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Defaults used when Config fields are zero.
const (
	DefaultWindowSize  = 10
	DefaultHoldTimeout = 2 * time.Second
	DefaultMinInterval = 0.01
)

// Config tunes a Conductor.
type Config struct {
	WindowSize   int
	HoldTimeout  time.Duration
	PollInterval time.Duration
	QueueSize    int
	// MinInterval stands in, in seconds, for a reference interval that is
	// not positive when a held decision predicts the next solo interval.
	MinInterval float64
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.HoldTimeout <= 0 {
		c.HoldTimeout = DefaultHoldTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = schedule.DefaultPollInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = solo.DefaultQueueSize
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	return c
}

// Deps are the collaborators of one performance.
type Deps struct {
	// Solo is the solo part as written. Its onsets are the reference the
	// soloist is compared against.
	Solo []score.Event
	// Accompaniment is what the scheduler plays.
	Accompaniment []score.Event
	Policy        *policy.SpeedPolicy
	Tracker       solo.Tracker
	Sink          output.Sink
	Logger        *slog.Logger
}

// Conductor coordinates the listening, playback and control goroutines of a
// single performance. It cannot be restarted.
type Conductor struct {
	cfg       Config
	reference []float64
	policy    *policy.SpeedPolicy
	tracker   solo.Tracker
	sink      output.Sink
	schedule  *schedule.Schedule
	scheduler *schedule.Scheduler
	logger    *slog.Logger
	now       func() time.Time

	state      atomic.Int32
	runOnce    sync.Once
	stopOnce   sync.Once
	stopCh     chan struct{}
	listenOnce sync.Once
	haltOnce   sync.Once
	cancelRecv context.CancelFunc

	// owned by the control goroutine
	lastPredicted float64
}

// New validates deps and loads the accompaniment into a fresh scheduler.
func New(cfg Config, deps Deps) (*Conductor, error) {
	cfg = cfg.withDefaults()
	if deps.Policy == nil || deps.Tracker == nil || deps.Sink == nil {
		return nil, errors.New("conductor: policy, tracker and sink are required")
	}
	if len(deps.Solo) < 2 {
		return nil, fmt.Errorf("conductor: solo part needs at least 2 notes, got %d", len(deps.Solo))
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sched := schedule.New()
	scheduler := schedule.NewScheduler(sched, deps.Sink, cfg.PollInterval, logger)
	if err := scheduler.Load(deps.Accompaniment); err != nil {
		return nil, fmt.Errorf("conductor: %w", err)
	}

	c := &Conductor{
		cfg:       cfg,
		reference: score.RelativeOnsets(deps.Solo),
		policy:    deps.Policy,
		tracker:   deps.Tracker,
		sink:      deps.Sink,
		schedule:  sched,
		scheduler: scheduler,
		logger:    logger.With("component", "conductor"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	c.state.Store(int32(WaitingToStart))
	return c, nil
}

// State returns the current lifecycle state.
func (c *Conductor) State() State {
	return State(c.state.Load())
}

// Schedule returns the schedule shared with the playback loop.
func (c *Conductor) Schedule() *schedule.Schedule {
	return c.schedule
}

// Stop asks a running performance to end. It does not wait; Run returns
// once shutdown completes.
func (c *Conductor) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Run performs once. It returns when Stop is called, ctx is done, the solo
// part reaches its last note and the accompaniment finishes, or the
// accompaniment runs out.
func (c *Conductor) Run(ctx context.Context) (*Performance, error) {
	first := false
	c.runOnce.Do(func() { first = true })
	if !first {
		return nil, errors.New("conductor: already run")
	}
	defer c.state.Store(int32(Stopped))

	c.policy.Reset()
	if err := c.tracker.StartListening(ctx); err != nil {
		c.scheduler.Stop()
		if cerr := c.sink.Close(); cerr != nil {
			c.logger.Warn("conductor: sink close failed", "err", cerr)
		}
		return nil, fmt.Errorf("conductor: start listening: %w", err)
	}

	barrier := rendezvous.NewBarrier(2, func(origin time.Time) {
		c.schedule.Begin(origin)
		c.state.Store(int32(Running))
	})

	g, gctx := errgroup.WithContext(ctx)
	recvCtx, cancelRecv := context.WithCancel(gctx)
	c.cancelRecv = cancelRecv
	defer cancelRecv()

	onsets := make(chan solo.Onset, c.cfg.QueueSize)
	perf := &Performance{WindowSize: c.cfg.WindowSize}

	g.Go(func() error { return c.listen(recvCtx, barrier, onsets) })
	g.Go(func() error { return c.scheduler.Start(gctx, barrier) })
	g.Go(func() error { return c.control(gctx, barrier, onsets, perf) })

	err := g.Wait()
	c.halt("run finished")
	<-c.scheduler.Done()

	perf.EventsFired = c.schedule.Cursor()
	c.logger.Info("conductor: stopped",
		"decisions", len(perf.Decisions),
		"events_fired", perf.EventsFired,
		"speed", c.schedule.Speed())
	return perf, err
}

// listen forwards tracker onsets to the control goroutine once the
// performance has started.
func (c *Conductor) listen(ctx context.Context, barrier *rendezvous.Barrier, out chan<- solo.Onset) error {
	defer close(out)

	if _, err := barrier.Arrive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("conductor: barrier: %w", err)
	}

	in := c.tracker.Onsets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case o, ok := <-in:
			if !ok {
				c.logger.Debug("conductor: tracker closed")
				return nil
			}
			select {
			case out <- o:
			default:
				metrics.DroppedOnsets.Inc()
				c.logger.Warn("conductor: onset queue full, dropping onset", "pitch", o.Pitch)
			}
		}
	}
}

// control is the only goroutine that touches the policy and the history.
func (c *Conductor) control(ctx context.Context, barrier *rendezvous.Barrier, onsets <-chan solo.Onset, perf *Performance) error {
	select {
	case <-barrier.Done():
	case <-ctx.Done():
		c.halt("cancelled before start")
		return nil
	case <-c.stopCh:
		c.halt("stop requested before start")
		return nil
	}
	origin, _ := barrier.Origin()
	perf.Origin = origin
	c.logger.Info("conductor: running", "origin", origin.Format(time.RFC3339Nano), "solo_notes", len(c.reference))
	metrics.SpeedFactor.Set(c.schedule.Speed())

	hist := timing.History{Reference: c.reference}
	hold := time.NewTimer(c.cfg.HoldTimeout)
	defer hold.Stop()

	for {
		select {
		case <-ctx.Done():
			c.halt("context done")
			return nil
		case <-c.stopCh:
			c.halt("stop requested")
			return nil
		case <-c.scheduler.Done():
			c.halt("accompaniment finished")
			return nil
		case <-hold.C:
			metrics.HeldDecisions.WithLabelValues(metrics.ReasonTimeout).Inc()
			c.logger.Info("conductor: no solo onset, holding speed",
				"timeout", c.cfg.HoldTimeout, "speed", c.schedule.Speed())
			hold.Reset(c.cfg.HoldTimeout)
		case o, ok := <-onsets:
			if !ok {
				// listening is over; keep playing until the accompaniment
				// ends or a stop arrives
				onsets = nil
				hold.Stop()
				continue
			}
			hold.Reset(c.cfg.HoldTimeout)
			d, last := c.step(&hist, o.Time.Sub(origin).Seconds())
			if d != nil {
				perf.Decisions = append(perf.Decisions, *d)
			}
			if last {
				c.logger.Info("conductor: final solo note reached", "index", hist.Len())
				c.stopListening()
			}
		}
	}
}

// step consumes one solo onset at soloTime seconds after the origin. It
// returns the decision made for the next interval, if any, and whether the
// solo part is finished.
func (c *Conductor) step(h *timing.History, soloTime float64) (*Decision, bool) {
	k := h.Len()
	if k >= len(c.reference) {
		c.logger.Debug("conductor: onset past the end of the solo part", "index", k)
		return nil, true
	}
	h.Solo = append(h.Solo, soloTime)
	metrics.SoloOnsets.Inc()

	if k >= 1 && c.lastPredicted > 0 {
		if r, err := timing.StepReward(c.lastPredicted, timing.Interval(h.Solo, k)); err == nil {
			metrics.StepReward.Set(r)
		}
	}

	idx := k + 1
	if idx >= len(c.reference) {
		return nil, true
	}

	factor := c.schedule.Speed()
	refNext := timing.Interval(h.Reference, idx)
	d := &Decision{
		Index:         idx,
		SoloTime:      soloTime,
		ReferenceTime: c.reference[k],
		Factor:        factor,
	}
	hold := func(reason string) (*Decision, bool) {
		metrics.HeldDecisions.WithLabelValues(reason).Inc()
		d.Held = true
		d.Reason = reason
		interval := refNext
		if !(interval > 0) {
			interval = c.cfg.MinInterval
		}
		d.PredictedTiming = interval * factor
		c.lastPredicted = d.PredictedTiming
		return d, false
	}

	if err := timing.CheckIntervals(*h, idx); err != nil {
		c.logger.Warn("conductor: degenerate interval, holding speed", "index", idx, "err", err)
		return hold(metrics.ReasonDegenerate)
	}
	obs, err := timing.Build(*h, idx, c.cfg.WindowSize)
	if err != nil {
		var ih *timing.InsufficientHistoryError
		if errors.As(err, &ih) {
			c.logger.Debug("conductor: warming up", "index", idx, "window", c.cfg.WindowSize)
			return hold(metrics.ReasonWarmup)
		}
		c.logger.Warn("conductor: observation failed, holding speed", "index", idx, "err", err)
		return hold(metrics.ReasonPolicy)
	}
	next, err := c.policy.Predict(obs)
	if err != nil {
		c.logger.Warn("conductor: policy failed, holding speed", "index", idx, "err", err)
		return hold(metrics.ReasonPolicy)
	}

	c.schedule.SetSpeed(next, c.now())
	metrics.SpeedFactor.Set(next)
	d.Factor = next
	d.PredictedTiming = refNext * next
	c.lastPredicted = d.PredictedTiming
	c.logger.Debug("conductor: speed updated", "index", idx, "speed", next, "predicted", d.PredictedTiming)
	return d, false
}

// stopListening stops the tracker and then the listening goroutine.
func (c *Conductor) stopListening() {
	c.listenOnce.Do(func() {
		c.tracker.StopListening()
		if c.cancelRecv != nil {
			c.cancelRecv()
		}
	})
}

// halt shuts down in order: listening first, then playback.
func (c *Conductor) halt(reason string) {
	c.haltOnce.Do(func() {
		c.logger.Info("conductor: stopping", "reason", reason)
		c.stopListening()
		c.scheduler.Stop()
	})
}
