package timing

import (
	"errors"
	"fmt"
)

// ErrHistoryExhausted is returned when a window or lookahead would read past
// the recorded timings.
var ErrHistoryExhausted = errors.New("timing: history exhausted")

// ErrEpisodeDone is returned by Env.Advance once the terminal index is reached.
var ErrEpisodeDone = errors.New("timing: episode already done")

// InsufficientHistoryError reports a window request made before enough
// onsets were observed.
type InsufficientHistoryError struct {
	Index      int
	WindowSize int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("timing: insufficient history: index %d < window size %d", e.Index, e.WindowSize)
}

// DegenerateIntervalError reports a zero or negative inter-onset interval,
// for which the log-ratio reward is undefined.
type DegenerateIntervalError struct {
	Kind  string // "predicted", "solo" or "reference"
	Value float64
}

func (e *DegenerateIntervalError) Error() string {
	return fmt.Sprintf("timing: degenerate %s interval %g", e.Kind, e.Value)
}

// IsDegenerate reports whether err carries a DegenerateIntervalError.
func IsDegenerate(err error) bool {
	var d *DegenerateIntervalError
	return errors.As(err, &d)
}
