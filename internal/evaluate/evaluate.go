// Package evaluate replays a recorded performance through a speed policy
// offline and collects the timings the policy would have predicted.
package evaluate

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chase3718/accompanist/internal/policy"
	"github.com/chase3718/accompanist/internal/timing"
)

// Episode is the result of one offline pass.
type Episode struct {
	PredictedTimings []float64
	Factors          []float64
	Rewards          []float64
	TotalReward      float64
	// Degenerate counts steps whose interval could not be scored.
	Degenerate int
}

// MeanReward returns the average scored reward, or 0 when nothing was
// scored.
func (e Episode) MeanReward() float64 {
	if len(e.Rewards) == 0 {
		return 0
	}
	return e.TotalReward / float64(len(e.Rewards))
}

// Run resets env and p, then predicts and advances until the episode is
// done. Degenerate intervals are counted and skipped; a policy error ends the
// run.
func Run(env timing.Env, p *policy.SpeedPolicy, logger *slog.Logger) (Episode, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "evaluate")

	var ep Episode
	p.Reset()
	s := env.Reset()
	obs, err := env.Observe(s)
	if err != nil {
		return ep, fmt.Errorf("evaluate: observe: %w", err)
	}

	for !env.Done(s) {
		factor, err := p.Predict(obs)
		if err != nil {
			return ep, fmt.Errorf("evaluate: step %d: %w", s.Index, err)
		}
		next, step, err := env.Advance(s, factor)
		switch {
		case err == nil:
			ep.Rewards = append(ep.Rewards, step.Reward)
			ep.TotalReward += step.Reward
			obs = step.Observation
		case timing.IsDegenerate(err):
			logger.Warn("evaluate: degenerate interval", "index", s.Index, "err", err)
			ep.Degenerate++
			next = timing.State{Index: s.Index + 1}
			if obs, err = env.Observe(next); err != nil {
				return ep, fmt.Errorf("evaluate: observe: %w", err)
			}
		case errors.Is(err, timing.ErrEpisodeDone):
			return ep, nil
		default:
			return ep, fmt.Errorf("evaluate: step %d: %w", s.Index, err)
		}
		ep.PredictedTimings = append(ep.PredictedTimings, step.PredictedTiming)
		ep.Factors = append(ep.Factors, factor)
		s = next
	}
	logger.Info("evaluate: episode done",
		"steps", len(ep.PredictedTimings),
		"total_reward", ep.TotalReward,
		"degenerate", ep.Degenerate)
	return ep, nil
}
