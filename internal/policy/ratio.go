package policy

import (
	"fmt"

	"github.com/chase3718/accompanist/internal/timing"
)

// RatioSupplier follows the soloist by comparing how long the observed solo
// window took against how long the reference says it should have taken. The
// ratio is exponentially smoothed across calls; the smoothed value is its
// memory.
type RatioSupplier struct {
	// Smoothing is the weight of the newest ratio, in (0, 1].
	Smoothing float64
}

// NewRatioSupplier validates the smoothing weight.
func NewRatioSupplier(smoothing float64) (*RatioSupplier, error) {
	if smoothing <= 0 || smoothing > 1 {
		return nil, fmt.Errorf("policy: smoothing must be in (0, 1], got %g", smoothing)
	}
	return &RatioSupplier{Smoothing: smoothing}, nil
}

// Predict implements Supplier.
func (r *RatioSupplier) Predict(obs timing.Observation, st State) (float64, State, error) {
	if len(obs) < 3 || len(obs)%2 == 0 {
		return 0, st, fmt.Errorf("policy: malformed observation of length %d", len(obs))
	}
	w := (len(obs) - 1) / 2
	soloSpan := obs[w-1]
	refSpan := obs[2*w-1]

	prev := NeutralSpeed
	fresh := st.EpisodeStart || len(st.Memory) == 0
	if !fresh {
		prev = st.Memory[0]
	}

	ratio := prev
	if soloSpan > 0 && refSpan > 0 {
		ratio = soloSpan / refSpan
	}

	smoothed := ratio
	if !fresh {
		smoothed = r.Smoothing*ratio + (1-r.Smoothing)*prev
	}
	return smoothed, State{Memory: Memory{smoothed}}, nil
}
