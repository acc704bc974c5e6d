package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chase3718/accompanist/internal/evaluate"
	"github.com/chase3718/accompanist/internal/logging"
	"github.com/chase3718/accompanist/internal/render"
	"github.com/chase3718/accompanist/internal/score"
	"github.com/chase3718/accompanist/internal/timing"
)

type rehearseOptions struct {
	performance string
	reference   string
	out         string
}

func newRehearseCmd() *cobra.Command {
	var opts rehearseOptions
	cmd := &cobra.Command{
		Use:   "rehearse",
		Short: "Replay a recorded performance through the speed policy offline",
		Long: `Pair a recorded solo performance with its reference score note by note,
run the speed policy over it and write the timings it predicts as MIDI.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRehearse(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.performance, "performance", "", "recorded solo performance MIDI file (required)")
	f.StringVar(&opts.reference, "reference", "", "reference solo score MIDI file (required)")
	f.StringVar(&opts.out, "out", "", "output MIDI file (required)")
	_ = cmd.MarkFlagRequired("performance")
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runRehearse(cmd *cobra.Command, opts rehearseOptions) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	logger := logging.Init(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	perfEvents, _, err := score.Parse(opts.performance)
	if err != nil {
		return err
	}
	refEvents, _, err := score.Parse(opts.reference)
	if err != nil {
		return err
	}
	eps := cfg.Performance.MelodyEpsilon
	perfLine, refLine := score.Melody(perfEvents, eps), score.Melody(refEvents, eps)
	if len(perfLine) != len(refLine) {
		logger.Warn("performance and reference differ in length, truncating",
			"performance", len(perfLine), "reference", len(refLine))
	}
	hist, pitches := score.Align(perfLine, refLine)

	env, err := timing.NewEnv(hist, cfg.Performance.WindowSize, cfg.Render.MinInterval)
	if err != nil {
		return err
	}
	pol, err := buildPolicy(cfg, logger)
	if err != nil {
		return err
	}
	ep, err := evaluate.Run(env, pol, logger)
	if err != nil {
		return err
	}

	r := render.NewRenderer(cfg.Performance.WindowSize, cfg.Render.DefaultDuration, uint8(cfg.Render.Velocity), logger)
	notes := r.Render(ep.PredictedTimings, pitches)
	if err := render.WriteFile(opts.out, notes, render.WriteOptions{}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "steps=%d degenerate=%d total_reward=%.4f mean_reward=%.4f notes=%d\n",
		len(ep.PredictedTimings), ep.Degenerate, ep.TotalReward, ep.MeanReward(), len(notes))
	return nil
}
