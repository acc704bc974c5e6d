// Package render turns a logged sequence of predicted inter-onset timings
// into absolute notes and writes them as a Standard MIDI File.
package render

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"
)

// DefaultVelocity is the velocity of every rendered note.
const DefaultVelocity = 100

// Note is one rendered note. Times are seconds from the first note.
type Note struct {
	Pitch    int
	Velocity uint8
	Start    float64
	End      float64
}

// SequenceLengthMismatch reports that the predicted timings and the pitches
// after the warmup window do not pair up one to one. Rendering truncates to
// the shorter sequence, which usually means the two inputs came from
// differently aligned scores.
type SequenceLengthMismatch struct {
	Timings  int
	Pitches  int
	Rendered int
}

func (e *SequenceLengthMismatch) Error() string {
	return fmt.Sprintf("render: %d predicted timings for %d pitches, rendered %d notes",
		e.Timings, e.Pitches, e.Rendered)
}

// Onsets returns the cumulative onset times starting at zero; the result is
// one longer than predicted.
func Onsets(predicted []float64) []float64 {
	onsets := make([]float64, len(predicted)+1)
	if len(predicted) > 0 {
		floats.CumSum(onsets[1:], predicted)
	}
	return onsets
}

// Render pairs cumulative onsets with notes[windowSize:]. The number of notes
// is min(len(predicted)+1, len(notes)-windowSize), never negative. When the
// timings and the pitches past the window differ in length the notes are
// still returned, together with a *SequenceLengthMismatch.
func Render(predicted []float64, notes []int, windowSize int, defaultDuration float64) ([]Note, error) {
	pitches := max(len(notes)-windowSize, 0)
	onsets := Onsets(predicted)
	n := min(len(onsets), pitches)

	out := make([]Note, n)
	for i := range out {
		out[i] = Note{
			Pitch:    notes[windowSize+i],
			Velocity: DefaultVelocity,
			Start:    onsets[i],
			End:      onsets[i] + defaultDuration,
		}
	}
	if len(predicted) != pitches {
		return out, &SequenceLengthMismatch{Timings: len(predicted), Pitches: pitches, Rendered: n}
	}
	return out, nil
}

// Renderer renders with fixed settings and logs length mismatches instead of
// returning them.
type Renderer struct {
	WindowSize      int
	DefaultDuration float64
	Velocity        uint8
	logger          *slog.Logger
}

// NewRenderer returns a Renderer. A zero velocity means DefaultVelocity.
func NewRenderer(windowSize int, defaultDuration float64, velocity uint8, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if velocity == 0 {
		velocity = DefaultVelocity
	}
	return &Renderer{
		WindowSize:      windowSize,
		DefaultDuration: defaultDuration,
		Velocity:        velocity,
		logger:          logger.With("component", "render"),
	}
}

// Render is the package-level Render with the mismatch logged as a warning.
func (r *Renderer) Render(predicted []float64, notes []int) []Note {
	out, err := Render(predicted, notes, r.WindowSize, r.DefaultDuration)
	if err != nil {
		r.logger.Warn("render: sequences truncated", "err", err)
	}
	for i := range out {
		out[i].Velocity = r.Velocity
	}
	return out
}
