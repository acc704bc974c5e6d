package timing

import "fmt"

// State is the explicit evaluation cursor threaded through Env.
type State struct {
	Index int
}

// Step is the outcome of one Advance.
type Step struct {
	Reward          float64
	PredictedTiming float64
	Done            bool
	Observation     Observation
}

// Env replays an aligned solo/reference history for offline evaluation.
// It holds no mutable state: the caller threads State through Observe and
// Advance.
type Env struct {
	History    History
	WindowSize int
	// MinInterval, when positive, replaces non-positive intervals instead of
	// failing the step with a DegenerateIntervalError.
	MinInterval float64
}

// NewEnv validates the history against the window size.
func NewEnv(h History, windowSize int, minInterval float64) (Env, error) {
	if windowSize <= 0 {
		return Env{}, fmt.Errorf("timing: window size must be positive, got %d", windowSize)
	}
	if len(h.Reference) < len(h.Solo) {
		return Env{}, fmt.Errorf("timing: reference has %d onsets, solo has %d", len(h.Reference), len(h.Solo))
	}
	return Env{History: h, WindowSize: windowSize, MinInterval: minInterval}, nil
}

// Notes returns n_notes, the terminal index.
func (e Env) Notes() int {
	return len(e.History.Solo)
}

// Reset returns the first decision state.
func (e Env) Reset() State {
	return State{Index: e.WindowSize}
}

// Done reports whether s is terminal.
func (e Env) Done(s State) bool {
	return s.Index >= e.Notes()
}

// Observe builds the observation for s. A terminal state yields a zero
// vector of the usual length.
func (e Env) Observe(s State) (Observation, error) {
	if e.Done(s) {
		return make(Observation, ObservationLen(e.WindowSize)), nil
	}
	return Build(e.History, s.Index, e.WindowSize)
}

// Advance applies a speed factor to the reference interval at s, scores the
// prediction against the solo interval, and moves to the next index.
func (e Env) Advance(s State, action float64) (State, Step, error) {
	if e.Done(s) {
		return s, Step{}, ErrEpisodeDone
	}
	if s.Index < 1 {
		return s, Step{}, &InsufficientHistoryError{Index: s.Index, WindowSize: 1}
	}

	ref := e.floor(Interval(e.History.Reference, s.Index))
	solo := e.floor(Interval(e.History.Solo, s.Index))
	predicted := ref * action

	reward, err := StepReward(predicted, solo)
	if err != nil {
		return s, Step{PredictedTiming: predicted}, err
	}

	next := State{Index: s.Index + 1}
	obs, err := e.Observe(next)
	if err != nil {
		return s, Step{}, err
	}
	return next, Step{
		Reward:          reward,
		PredictedTiming: predicted,
		Done:            e.Done(next),
		Observation:     obs,
	}, nil
}

func (e Env) floor(v float64) float64 {
	if e.MinInterval > 0 && v <= 0 {
		return e.MinInterval
	}
	return v
}
