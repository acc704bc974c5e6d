// Package timing turns solo/reference onset history into the fixed-size
// observation consumed by a speed policy, and scores predicted timings
// against what the soloist actually played.
package timing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Observation is the policy input: the rebased solo window, the rebased
// reference window, then the raw next reference onset.
type Observation []float64

// ObservationLen returns the fixed observation length for a window size.
func ObservationLen(windowSize int) int {
	return 2*windowSize + 1
}

// History holds onset times in seconds. Solo grows as the soloist plays;
// Reference may run ahead of it because the reference line is known up front.
type History struct {
	Solo      []float64
	Reference []float64
}

// Append records one aligned (solo, reference) onset pair.
func (h *History) Append(solo, reference float64) {
	h.Solo = append(h.Solo, solo)
	h.Reference = append(h.Reference, reference)
}

// Len returns the number of observed solo onsets.
func (h History) Len() int {
	return len(h.Solo)
}

// Build returns the observation for the decision made at currentIndex: the
// last windowSize pairs before it, each row shifted so its first sample is
// zero, followed by Reference[currentIndex].
func Build(h History, currentIndex, windowSize int) (Observation, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("timing: window size must be positive, got %d", windowSize)
	}
	if currentIndex < windowSize {
		return nil, &InsufficientHistoryError{Index: currentIndex, WindowSize: windowSize}
	}
	if currentIndex > len(h.Solo) || currentIndex >= len(h.Reference) {
		return nil, fmt.Errorf("%w: index %d (solo %d, reference %d)",
			ErrHistoryExhausted, currentIndex, len(h.Solo), len(h.Reference))
	}

	lo := currentIndex - windowSize
	window := mat.NewDense(2, windowSize, nil)
	window.SetRow(0, h.Solo[lo:currentIndex])
	window.SetRow(1, h.Reference[lo:currentIndex])
	for r := 0; r < 2; r++ {
		row := window.RawRowView(r)
		floats.AddConst(-row[0], row)
	}

	obs := make(Observation, 0, ObservationLen(windowSize))
	obs = append(obs, window.RawMatrix().Data...)
	obs = append(obs, h.Reference[currentIndex])
	return obs, nil
}

// StepReward scores a predicted inter-onset interval against the soloist's
// actual one: -(ln(predicted/solo))^2. Zero means a perfect prediction.
func StepReward(predicted, solo float64) (float64, error) {
	if !(predicted > 0) {
		return 0, &DegenerateIntervalError{Kind: "predicted", Value: predicted}
	}
	if !(solo > 0) {
		return 0, &DegenerateIntervalError{Kind: "solo", Value: solo}
	}
	r := math.Log(predicted / solo)
	return -(r * r), nil
}

// Interval returns s[i] - s[i-1].
func Interval(s []float64, i int) float64 {
	return s[i] - s[i-1]
}

// CheckIntervals validates the intervals a decision at currentIndex depends
// on: the latest observed solo interval, if there is one, and the upcoming
// reference interval the speed factor will be applied to.
func CheckIntervals(h History, currentIndex int) error {
	if currentIndex >= 2 && currentIndex <= len(h.Solo) {
		if v := Interval(h.Solo, currentIndex-1); !(v > 0) {
			return &DegenerateIntervalError{Kind: "solo", Value: v}
		}
	}
	if currentIndex >= 1 && currentIndex < len(h.Reference) {
		if v := Interval(h.Reference, currentIndex); !(v > 0) {
			return &DegenerateIntervalError{Kind: "reference", Value: v}
		}
	}
	return nil
}
