// Package policy wraps a trained decision function that maps a timing
// observation to a tempo-scale factor.
//
// The recurrent memory of the decision function is an explicit State value.
// A SpeedPolicy owns exactly one State for one performance and threads it
// through every call to its Supplier, so two performances never share memory
// and tests can replay a sequence deterministically.
package policy

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/chase3718/accompanist/internal/timing"
)

// Speed factor bounds. Anything a supplier returns outside them is clamped.
const (
	MinSpeed     = 0.3
	MaxSpeed     = 3.0
	NeutralSpeed = 1.0
)

// Memory is the supplier's recurrent memory. Its layout belongs to the
// supplier that wrote it.
type Memory []float64

// State is the per-performance policy state.
type State struct {
	Memory       Memory
	EpisodeStart bool
}

// NewState returns the state of a performance that has not predicted yet.
func NewState() State {
	return State{EpisodeStart: true}
}

// Supplier is the trained decision function. Predict must not modify st;
// it returns the state to use on the next call.
type Supplier interface {
	Predict(obs timing.Observation, st State) (action float64, next State, err error)
}

// SupplierFunc adapts a plain function to Supplier.
type SupplierFunc func(obs timing.Observation, st State) (float64, State, error)

// Predict calls f.
func (f SupplierFunc) Predict(obs timing.Observation, st State) (float64, State, error) {
	return f(obs, st)
}

// PolicyRangeError reports a supplier action outside [MinSpeed, MaxSpeed].
type PolicyRangeError struct {
	Value   float64
	Clamped float64
}

func (e *PolicyRangeError) Error() string {
	if math.IsNaN(e.Value) {
		return "policy: action is NaN"
	}
	return fmt.Sprintf("policy: action %g outside [%g, %g], clamped to %g", e.Value, MinSpeed, MaxSpeed, e.Clamped)
}

// Clamp bounds v to [MinSpeed, MaxSpeed]. A clamped value comes with a
// PolicyRangeError describing the violation. NaN cannot be clamped and is
// returned unchanged along with the error.
func Clamp(v float64) (float64, error) {
	switch {
	case math.IsNaN(v):
		return v, &PolicyRangeError{Value: v, Clamped: v}
	case v < MinSpeed:
		return MinSpeed, &PolicyRangeError{Value: v, Clamped: MinSpeed}
	case v > MaxSpeed:
		return MaxSpeed, &PolicyRangeError{Value: v, Clamped: MaxSpeed}
	}
	return v, nil
}

// SpeedPolicy is a Supplier plus the State of one performance. It is not
// safe for concurrent use.
type SpeedPolicy struct {
	supplier Supplier
	state    State
	logger   *slog.Logger
}

// New returns a SpeedPolicy ready for the first prediction of a performance.
func New(supplier Supplier, logger *slog.Logger) *SpeedPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeedPolicy{
		supplier: supplier,
		state:    NewState(),
		logger:   logger.With("component", "policy"),
	}
}

// Reset clears recurrent memory and marks the next prediction as the start
// of a performance.
func (p *SpeedPolicy) Reset() {
	p.state = NewState()
}

// State returns a copy of the current state.
func (p *SpeedPolicy) State() State {
	st := p.state
	st.Memory = append(Memory(nil), p.state.Memory...)
	return st
}

// Predict returns the clamped speed factor for obs and advances the
// recurrent state. A supplier error leaves the state untouched.
func (p *SpeedPolicy) Predict(obs timing.Observation) (float64, error) {
	action, next, err := p.supplier.Predict(obs, p.state)
	if err != nil {
		return 0, fmt.Errorf("policy: predict: %w", err)
	}
	next.EpisodeStart = false
	p.state = next

	v, err := Clamp(action)
	if err != nil {
		if math.IsNaN(v) {
			return 0, err
		}
		p.logger.Warn("policy: action out of range", "raw", action, "clamped", v)
	}
	return v, nil
}
