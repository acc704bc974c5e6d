package conductor

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chase3718/accompanist/internal/logging"
	"github.com/chase3718/accompanist/internal/metrics"
	"github.com/chase3718/accompanist/internal/policy"
	"github.com/chase3718/accompanist/internal/render"
	"github.com/chase3718/accompanist/internal/score"
	"github.com/chase3718/accompanist/internal/solo"
	"github.com/chase3718/accompanist/internal/timing"
)

// journal records the order in which collaborators are touched.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) has(s string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Contains(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeTracker struct {
	j        *journal
	ch       chan solo.Onset
	startErr error
	once     sync.Once
}

func newFakeTracker(j *journal) *fakeTracker {
	return &fakeTracker{j: j, ch: make(chan solo.Onset, 64)}
}

func (f *fakeTracker) StartListening(context.Context) error {
	f.j.add("start-listening")
	return f.startErr
}

func (f *fakeTracker) StopListening() {
	f.once.Do(func() {
		f.j.add("stop-listening")
		close(f.ch)
	})
}

func (f *fakeTracker) Onsets() <-chan solo.Onset { return f.ch }

type fakeSink struct {
	j       *journal
	mu      sync.Mutex
	emitted []score.Event
	at      []time.Time
}

func (s *fakeSink) Emit(ev score.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted = append(s.emitted, ev)
	s.at = append(s.at, time.Now())
	return nil
}

func (s *fakeSink) times() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.at...)
}

func (s *fakeSink) Close() error {
	s.j.add("sink-closed")
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emitted)
}

func line(n int, step float64) []score.Event {
	events := make([]score.Event, n)
	for i := range events {
		events[i] = score.Event{OnsetTime: float64(i) * step, Pitch: 60 + i%12, Duration: step / 2, Velocity: 90, Index: i}
	}
	return events
}

func ratioPolicy(t *testing.T) *policy.SpeedPolicy {
	t.Helper()
	sup, err := policy.NewRatioSupplier(1.0)
	require.NoError(t, err)
	return policy.New(sup, logging.Discard())
}

type harness struct {
	c       *Conductor
	tracker *fakeTracker
	sink    *fakeSink
	j       *journal
}

func newHarness(t *testing.T, cfg Config, soloPart, accompaniment []score.Event, p *policy.SpeedPolicy) *harness {
	t.Helper()
	j := &journal{}
	h := &harness{tracker: newFakeTracker(j), sink: &fakeSink{j: j}, j: j}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	c, err := New(cfg, Deps{
		Solo:          soloPart,
		Accompaniment: accompaniment,
		Policy:        p,
		Tracker:       h.tracker,
		Sink:          h.sink,
		Logger:        logging.Discard(),
	})
	require.NoError(t, err)
	h.c = c
	return h
}

type result struct {
	perf *Performance
	err  error
}

func (h *harness) run(ctx context.Context) <-chan result {
	out := make(chan result, 1)
	go func() {
		perf, err := h.c.Run(ctx)
		out <- result{perf, err}
	}()
	return out
}

func (h *harness) origin(t *testing.T) time.Time {
	t.Helper()
	require.Eventually(t, func() bool { return h.c.State() == Running }, time.Second, time.Millisecond)
	origin, ok := h.c.Schedule().Origin()
	require.True(t, ok)
	return origin
}

// play sends onsets at the given offsets in seconds from origin.
func (h *harness) play(origin time.Time, offsets ...float64) {
	for _, off := range offsets {
		h.tracker.ch <- solo.Onset{Time: origin.Add(time.Duration(off * float64(time.Second))), Pitch: 60}
	}
}

func wait(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return result{}
	}
}

func TestConductor_FollowsSoloist(t *testing.T) {
	h := newHarness(t, Config{WindowSize: 3}, line(8, 0.5), line(3, 30), ratioPolicy(t))
	done := h.run(context.Background())

	origin := h.origin(t)
	h.play(origin, 0, 1, 2, 3, 4, 5, 6, 7)
	require.Eventually(t, func() bool { return h.j.has("stop-listening") }, time.Second, time.Millisecond)

	assert.InDelta(t, 2.0, h.c.Schedule().Speed(), 1e-9)
	// a soloist at half tempo pushes the accompaniment later, not earlier
	deadline, ok := h.c.Schedule().Deadline(30)
	require.True(t, ok)
	assert.Greater(t, deadline.Sub(origin), 55*time.Second)
	h.c.Stop()
	r := wait(t, done)
	require.NoError(t, r.err)

	perf := r.perf
	assert.Equal(t, origin, perf.Origin)
	require.Len(t, perf.Decisions, 7)
	assert.Equal(t, 2, perf.Held())
	timings := perf.PredictedTimings()
	require.Len(t, timings, 5)
	for _, p := range timings {
		assert.InDelta(t, 1.0, p, 1e-9)
	}
	assert.GreaterOrEqual(t, perf.EventsFired, 1)
	assert.Equal(t, Stopped, h.c.State())
}

func TestConductor_ClampsAndHoldsOnTimeout(t *testing.T) {
	p := policy.New(policy.SupplierFunc(func(_ timing.Observation, st policy.State) (float64, policy.State, error) {
		return 5.0, st, nil
	}), logging.Discard())
	h := newHarness(t, Config{WindowSize: 2, HoldTimeout: 20 * time.Millisecond}, line(6, 0.5), line(2, 30), p)
	done := h.run(context.Background())

	origin := h.origin(t)
	h.play(origin, 0, 0.5, 1.0)
	require.Eventually(t, func() bool { return h.c.Schedule().Speed() == 3.0 }, time.Second, time.Millisecond)

	// several hold timeouts pass without onsets; the factor must not decay
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3.0, h.c.Schedule().Speed())

	h.c.Stop()
	r := wait(t, done)
	require.NoError(t, r.err)
	for _, d := range r.perf.Decisions {
		assert.LessOrEqual(t, d.Factor, policy.MaxSpeed)
		assert.GreaterOrEqual(t, d.Factor, policy.MinSpeed)
	}
}

func TestConductor_DegenerateIntervalHoldsFactor(t *testing.T) {
	h := newHarness(t, Config{WindowSize: 2}, line(6, 0.5), line(2, 30), ratioPolicy(t))
	done := h.run(context.Background())

	origin := h.origin(t)
	h.play(origin, 0, 1, 2, 2, 3, 4)
	require.Eventually(t, func() bool { return h.j.has("stop-listening") }, time.Second, time.Millisecond)
	h.c.Stop()
	r := wait(t, done)
	require.NoError(t, r.err)

	ds := r.perf.Decisions
	require.Len(t, ds, 5)
	assert.Equal(t, metrics.ReasonWarmup, ds[0].Reason)
	assert.True(t, ds[3].Held)
	assert.Equal(t, metrics.ReasonDegenerate, ds[3].Reason)
	assert.InDelta(t, 2.0, ds[3].Factor, 1e-9)
	// the performance recovers on the next good interval
	assert.False(t, ds[4].Held)
	assert.InDelta(t, 2.0, ds[4].Factor, 1e-9)
	assert.Equal(t, 2, r.perf.Held())
}

func TestConductor_DegenerateReferenceKeepsTimingSlot(t *testing.T) {
	soloPart := line(6, 0.5)
	soloPart[3].OnsetTime = soloPart[2].OnsetTime
	h := newHarness(t, Config{WindowSize: 2}, soloPart, line(2, 30), ratioPolicy(t))
	done := h.run(context.Background())

	origin := h.origin(t)
	h.play(origin, 0, 1, 2, 3, 4, 5)
	require.Eventually(t, func() bool { return h.j.has("stop-listening") }, time.Second, time.Millisecond)
	h.c.Stop()
	r := wait(t, done)
	require.NoError(t, r.err)

	ds := r.perf.Decisions
	require.Len(t, ds, 5)
	assert.Equal(t, metrics.ReasonDegenerate, ds[2].Reason)
	assert.InDelta(t, 2*DefaultMinInterval, ds[2].PredictedTiming, 1e-9)

	timings := r.perf.PredictedTimings()
	require.Len(t, timings, len(soloPart)-2)
	assert.InDelta(t, 2*DefaultMinInterval, timings[1], 1e-9)
	_, err := render.Render(timings, score.Pitches(soloPart), 2, 0.3)
	assert.NoError(t, err)
}

func TestConductor_SlowSoloistStretchesAccompaniment(t *testing.T) {
	soloPart := line(6, 0.1)
	tracker := solo.NewReplayTracker(soloPart, solo.ReplayOptions{Scale: 2, Poll: 2 * time.Millisecond}, logging.Discard())
	sink := &fakeSink{j: &journal{}}
	c, err := New(Config{WindowSize: 2, PollInterval: 2 * time.Millisecond}, Deps{
		Solo:          soloPart,
		Accompaniment: line(3, 0.5),
		Policy:        ratioPolicy(t),
		Tracker:       tracker,
		Sink:          sink,
		Logger:        logging.Discard(),
	})
	require.NoError(t, err)

	done := make(chan result, 1)
	go func() {
		perf, err := c.Run(context.Background())
		done <- result{perf, err}
	}()
	var r result
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	require.NoError(t, r.err)
	assert.Equal(t, 3, r.perf.EventsFired)
	assert.InDelta(t, 2.0, c.Schedule().Speed(), 0.3)

	// at the written tempo the last event is due 1 s in; following a
	// soloist at half tempo it lands near 1.8 s
	at := sink.times()
	require.Len(t, at, 3)
	assert.Greater(t, at[2].Sub(r.perf.Origin), 1500*time.Millisecond)
	assert.Greater(t, at[2].Sub(at[1]), 800*time.Millisecond)
}

func TestConductor_PolicyErrorHolds(t *testing.T) {
	calls := 0
	p := policy.New(policy.SupplierFunc(func(_ timing.Observation, st policy.State) (float64, policy.State, error) {
		calls++
		if calls == 2 {
			return 0, st, errors.New("model unavailable")
		}
		return 1.5, st, nil
	}), logging.Discard())
	h := newHarness(t, Config{WindowSize: 1}, line(4, 0.5), line(2, 30), p)
	done := h.run(context.Background())

	origin := h.origin(t)
	h.play(origin, 0, 0.5, 1.0, 1.5)
	require.Eventually(t, func() bool { return h.j.has("stop-listening") }, time.Second, time.Millisecond)
	h.c.Stop()
	r := wait(t, done)
	require.NoError(t, r.err)

	ds := r.perf.Decisions
	require.Len(t, ds, 3)
	assert.False(t, ds[0].Held)
	assert.True(t, ds[1].Held)
	assert.Equal(t, metrics.ReasonPolicy, ds[1].Reason)
	assert.InDelta(t, 1.5, ds[1].Factor, 1e-9)
}

func TestConductor_StopOrder(t *testing.T) {
	h := newHarness(t, Config{WindowSize: 2}, line(6, 0.5), line(3, 30), ratioPolicy(t))
	done := h.run(context.Background())
	h.origin(t)

	start := time.Now()
	h.c.Stop()
	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, []string{"start-listening", "stop-listening", "sink-closed"}, h.j.list())
	assert.Equal(t, Stopped, h.c.State())
}

func TestConductor_ContextCancel(t *testing.T) {
	h := newHarness(t, Config{WindowSize: 2}, line(6, 0.5), line(3, 30), ratioPolicy(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := h.run(ctx)
	h.origin(t)

	cancel()
	r := wait(t, done)
	assert.NoError(t, r.err)
	assert.True(t, h.j.has("sink-closed"))
	assert.Equal(t, Stopped, h.c.State())
}

func TestConductor_EndsWhenAccompanimentFinishes(t *testing.T) {
	h := newHarness(t, Config{WindowSize: 2}, line(6, 0.5), line(3, 0.02), ratioPolicy(t))
	r := wait(t, h.run(context.Background()))
	require.NoError(t, r.err)

	assert.Equal(t, 3, h.sink.count())
	assert.Equal(t, 3, r.perf.EventsFired)
	// playback ended on its own, so the sink closes before listening stops
	assert.Equal(t, []string{"start-listening", "sink-closed", "stop-listening"}, h.j.list())
}

func TestConductor_StartListeningError(t *testing.T) {
	h := newHarness(t, Config{}, line(6, 0.5), line(3, 1), ratioPolicy(t))
	h.tracker.startErr = errors.New("no input device")

	perf, err := h.c.Run(context.Background())
	assert.Nil(t, perf)
	assert.ErrorContains(t, err, "no input device")
	assert.True(t, h.j.has("sink-closed"))

	_, err = h.c.Run(context.Background())
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	j := &journal{}
	deps := Deps{
		Solo:          line(4, 0.5),
		Accompaniment: line(2, 1),
		Policy:        ratioPolicy(t),
		Tracker:       newFakeTracker(j),
		Sink:          &fakeSink{j: j},
		Logger:        logging.Discard(),
	}

	bad := deps
	bad.Tracker = nil
	_, err := New(Config{}, bad)
	assert.Error(t, err)

	bad = deps
	bad.Solo = line(1, 0.5)
	_, err = New(Config{}, bad)
	assert.Error(t, err)

	bad = deps
	bad.Accompaniment = nil
	_, err = New(Config{}, bad)
	assert.Error(t, err)

	c, err := New(Config{}, deps)
	require.NoError(t, err)
	assert.Equal(t, WaitingToStart, c.State())
	assert.Equal(t, DefaultWindowSize, c.cfg.WindowSize)
}

func TestPerformance_PredictedTimings(t *testing.T) {
	p := &Performance{WindowSize: 2, Decisions: []Decision{
		{Index: 1, PredictedTiming: 0.5, Held: true},
		{Index: 2, PredictedTiming: 0.6},
		{Index: 3, PredictedTiming: 0.7, Held: true},
		{Index: 4, PredictedTiming: 0.02, Held: true},
	}}
	assert.Equal(t, []float64{0.6, 0.7, 0.02}, p.PredictedTimings())
	assert.Equal(t, 3, p.Held())
	assert.Equal(t, "running", Running.String())
}
