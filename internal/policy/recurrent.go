package policy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/chase3718/accompanist/internal/timing"
)

// RecurrentParams are the weights of a single-layer Elman network with a
// log-speed output head. Producing them is the job of an external trainer.
type RecurrentParams struct {
	InputWeights  *mat.Dense // hidden x input
	HiddenWeights *mat.Dense // hidden x hidden
	HiddenBias    []float64
	OutputWeights []float64
	OutputBias    float64
}

// RecurrentSupplier evaluates RecurrentParams. The hidden activation is
// carried between calls as State.Memory and zeroed at episode start.
type RecurrentSupplier struct {
	p      RecurrentParams
	hidden int
	input  int
}

// NewRecurrentSupplier checks that the parameter shapes agree.
func NewRecurrentSupplier(p RecurrentParams) (*RecurrentSupplier, error) {
	if p.InputWeights == nil || p.HiddenWeights == nil {
		return nil, fmt.Errorf("policy: recurrent weights are required")
	}
	hidden, input := p.InputWeights.Dims()
	if hr, hc := p.HiddenWeights.Dims(); hr != hidden || hc != hidden {
		return nil, fmt.Errorf("policy: hidden weights are %dx%d, want %dx%d", hr, hc, hidden, hidden)
	}
	if len(p.HiddenBias) != hidden {
		return nil, fmt.Errorf("policy: hidden bias has %d entries, want %d", len(p.HiddenBias), hidden)
	}
	if len(p.OutputWeights) != hidden {
		return nil, fmt.Errorf("policy: output weights have %d entries, want %d", len(p.OutputWeights), hidden)
	}
	return &RecurrentSupplier{p: p, hidden: hidden, input: input}, nil
}

// InputSize is the observation length the network expects.
func (r *RecurrentSupplier) InputSize() int { return r.input }

// Predict implements Supplier.
func (r *RecurrentSupplier) Predict(obs timing.Observation, st State) (float64, State, error) {
	if len(obs) != r.input {
		return 0, st, fmt.Errorf("policy: observation length %d, network expects %d", len(obs), r.input)
	}

	h := make([]float64, r.hidden)
	if !st.EpisodeStart && len(st.Memory) == r.hidden {
		copy(h, st.Memory)
	}

	x := mat.NewVecDense(r.input, append([]float64(nil), obs...))
	hv := mat.NewVecDense(r.hidden, h)

	var z, zh mat.VecDense
	z.MulVec(r.p.InputWeights, x)
	zh.MulVec(r.p.HiddenWeights, hv)
	z.AddVec(&z, &zh)
	z.AddVec(&z, mat.NewVecDense(r.hidden, append([]float64(nil), r.p.HiddenBias...)))

	next := make(Memory, r.hidden)
	for i := range next {
		next[i] = math.Tanh(z.AtVec(i))
	}

	logSpeed := mat.Dot(mat.NewVecDense(r.hidden, append([]float64(nil), r.p.OutputWeights...)),
		mat.NewVecDense(r.hidden, next)) + r.p.OutputBias
	return math.Exp(logSpeed), State{Memory: next}, nil
}

// HeuristicParams returns hand-set weights for a network of the given hidden
// width. Unit 0 sees the solo window span minus the reference window span and
// feeds back on itself, so the output leans toward the soloist's pace with
// some memory. It stands in until trained weights are supplied.
func HeuristicParams(windowSize, hidden int) RecurrentParams {
	input := timing.ObservationLen(windowSize)
	in := mat.NewDense(hidden, input, nil)
	in.Set(0, windowSize-1, 0.5)
	in.Set(0, 2*windowSize-1, -0.5)

	rec := mat.NewDense(hidden, hidden, nil)
	rec.Set(0, 0, 0.5)

	out := make([]float64, hidden)
	out[0] = 1.0
	return RecurrentParams{
		InputWeights:  in,
		HiddenWeights: rec,
		HiddenBias:    make([]float64, hidden),
		OutputWeights: out,
	}
}
