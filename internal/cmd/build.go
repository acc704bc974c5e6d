package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chase3718/accompanist/internal/config"
	"github.com/chase3718/accompanist/internal/metrics"
	"github.com/chase3718/accompanist/internal/output"
	"github.com/chase3718/accompanist/internal/policy"
	"github.com/chase3718/accompanist/internal/score"
	"github.com/chase3718/accompanist/internal/solo"
)

func buildPolicy(cfg *config.Config, logger *slog.Logger) (*policy.SpeedPolicy, error) {
	switch cfg.Policy.Kind {
	case config.PolicyRatio:
		sup, err := policy.NewRatioSupplier(cfg.Policy.Smoothing)
		if err != nil {
			return nil, err
		}
		return policy.New(sup, logger), nil
	case config.PolicyRecurrent:
		sup, err := policy.NewRecurrentSupplier(policy.HeuristicParams(cfg.Performance.WindowSize, cfg.Policy.HiddenSize))
		if err != nil {
			return nil, err
		}
		return policy.New(sup, logger), nil
	default:
		return nil, fmt.Errorf("unknown policy %q", cfg.Policy.Kind)
	}
}

func openSink(cfg *config.Config, logger *slog.Logger) (output.Sink, error) {
	switch cfg.Output.Kind {
	case config.OutputMIDI:
		return output.OpenMIDISink(cfg.Output.Preferred, uint8(cfg.Output.Channel), logger)
	case config.OutputSerial:
		return output.OpenSerialSink(cfg.Output.SerialDevice, cfg.Output.Baud, logger)
	case config.OutputLog:
		return output.NewLogSink(logger), nil
	default:
		return nil, fmt.Errorf("unknown output %q", cfg.Output.Kind)
	}
}

// openTracker returns the solo input. Replay plays back soloPart itself.
func openTracker(cfg *config.Config, soloPart []score.Event, logger *slog.Logger) (solo.Tracker, error) {
	switch cfg.Input.Kind {
	case config.InputMIDI:
		return solo.NewMIDITracker(cfg.Input.Preferred, cfg.Input.Excluded, cfg.Performance.QueueSize, logger)
	case config.InputReplay:
		return solo.NewReplayTracker(soloPart, solo.ReplayOptions{
			Scale:     cfg.Input.ReplayScale,
			Poll:      cfg.Performance.PollInterval(),
			QueueSize: cfg.Performance.QueueSize,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown input %q", cfg.Input.Kind)
	}
}

// serveMetrics exposes /metrics on addr until the returned stop func is
// called.
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics: server failed", "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
