package conductor

import "time"

// Decision records what the conductor did after one solo onset.
type Decision struct {
	// Index is the solo note the decision looks ahead to.
	Index int
	// SoloTime is the onset that triggered the decision, in seconds after
	// the origin.
	SoloTime float64
	// ReferenceTime is where that onset sits in the written solo part.
	ReferenceTime float64
	Factor        float64
	// PredictedTiming is the expected length of the next solo interval:
	// the reference interval times Factor.
	PredictedTiming float64
	Held            bool
	Reason          string
}

// Performance is the log of one run, kept for offline rendering.
type Performance struct {
	WindowSize  int
	Origin      time.Time
	Decisions   []Decision
	EventsFired int
}

// PredictedTimings returns the predicted intervals from the first full
// window on, in the order they were made, one per decision so each stays
// paired with its solo pitch. Its length matches the solo pitches after the
// window when every onset was heard.
func (p *Performance) PredictedTimings() []float64 {
	var out []float64
	for _, d := range p.Decisions {
		if d.Index >= p.WindowSize {
			out = append(out, d.PredictedTiming)
		}
	}
	return out
}

// Held returns how many decisions kept the previous factor.
func (p *Performance) Held() int {
	n := 0
	for _, d := range p.Decisions {
		if d.Held {
			n++
		}
	}
	return n
}
