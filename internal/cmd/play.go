package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chase3718/accompanist/internal/conductor"
	"github.com/chase3718/accompanist/internal/logging"
	"github.com/chase3718/accompanist/internal/render"
	"github.com/chase3718/accompanist/internal/score"
)

type playOptions struct {
	solo          string
	accompaniment string
	out           string
}

func newPlayCmd() *cobra.Command {
	var opts playOptions
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Accompany a live soloist",
		Long: `Play the accompaniment while following the soloist.

The solo score is the reference the soloist is compared against. With
--input replay the solo score itself is replayed as the performance, which
is useful without a MIDI keyboard. Ctrl-C stops the performance.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.solo, "solo", "", "solo part MIDI file (required)")
	f.StringVar(&opts.accompaniment, "accompaniment", "", "accompaniment MIDI file (required)")
	f.StringVar(&opts.out, "out", "", "write the predicted solo timings here as MIDI")
	f.String("input", "", "solo input: midi or replay")
	f.String("output", "", "accompaniment output: midi, serial or log")
	f.Float64("replay-scale", 0, "stretch replayed solo timing (2 = half speed)")
	f.String("metrics-addr", "", "serve prometheus metrics on this address")
	_ = cmd.MarkFlagRequired("solo")
	_ = cmd.MarkFlagRequired("accompaniment")
	return cmd
}

func runPlay(cmd *cobra.Command, opts playOptions) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"input.kind":         "input",
		"output.kind":        "output",
		"input.replay_scale": "replay-scale",
		"metrics.addr":       "metrics-addr",
	})
	if err != nil {
		return err
	}
	logger := logging.Init(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	soloEvents, spb, err := score.Parse(opts.solo)
	if err != nil {
		return err
	}
	soloPart := score.Melody(soloEvents, cfg.Performance.MelodyEpsilon)
	accompaniment, _, err := score.Parse(opts.accompaniment)
	if err != nil {
		return err
	}
	logger.Info("scores loaded",
		"solo_notes", len(soloPart),
		"accompaniment_events", len(accompaniment),
		"seconds_per_beat", spb)

	pol, err := buildPolicy(cfg, logger)
	if err != nil {
		return err
	}
	sink, err := openSink(cfg, logger)
	if err != nil {
		return err
	}
	tracker, err := openTracker(cfg, soloPart, logger)
	if err != nil {
		_ = sink.Close()
		return err
	}

	c, err := conductor.New(conductor.Config{
		WindowSize:   cfg.Performance.WindowSize,
		HoldTimeout:  cfg.Performance.HoldTimeout(),
		PollInterval: cfg.Performance.PollInterval(),
		QueueSize:    cfg.Performance.QueueSize,
		MinInterval:  cfg.Render.MinInterval,
	}, conductor.Deps{
		Solo:          soloPart,
		Accompaniment: accompaniment,
		Policy:        pol,
		Tracker:       tracker,
		Sink:          sink,
		Logger:        logger,
	})
	if err != nil {
		tracker.StopListening()
		_ = sink.Close()
		return err
	}

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, logger)
		defer stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	perf, err := c.Run(ctx)
	if err != nil {
		return fmt.Errorf("performance failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "decisions=%d held=%d events=%d final_speed=%.3f\n",
		len(perf.Decisions), perf.Held(), perf.EventsFired, c.Schedule().Speed())

	if opts.out == "" {
		return nil
	}
	r := render.NewRenderer(cfg.Performance.WindowSize, cfg.Render.DefaultDuration, uint8(cfg.Render.Velocity), logger)
	notes := r.Render(perf.PredictedTimings(), score.Pitches(soloPart))
	if err := render.WriteFile(opts.out, notes, render.WriteOptions{}); err != nil {
		return err
	}
	logger.Info("predicted timings written", "path", opts.out, "notes", len(notes))
	return nil
}
