package config

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Selector values.
const (
	PolicyRatio     = "ratio"
	PolicyRecurrent = "recurrent"

	InputMIDI   = "midi"
	InputReplay = "replay"

	OutputMIDI   = "midi"
	OutputSerial = "serial"
	OutputLog    = "log"
)

// MaxPollIntervalMs is the longest any engine loop may sleep before
// rechecking its stop signal.
const MaxPollIntervalMs = 50

// ValidationError is a single validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every failure found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks c and returns every problem found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	p := c.Performance
	if p.WindowSize < 1 {
		add("performance.window_size", p.WindowSize, "must be at least 1")
	}
	if p.HoldTimeoutMs < 1 {
		add("performance.hold_timeout_ms", p.HoldTimeoutMs, "must be positive")
	}
	if p.PollIntervalMs < 1 || p.PollIntervalMs > MaxPollIntervalMs {
		add("performance.poll_interval_ms", p.PollIntervalMs, fmt.Sprintf("must be between 1 and %d", MaxPollIntervalMs))
	}
	if p.QueueSize < 1 {
		add("performance.queue_size", p.QueueSize, "must be at least 1")
	}
	if p.MelodyEpsilon < 0 {
		add("performance.melody_epsilon", p.MelodyEpsilon, "must not be negative")
	}

	if !slices.Contains([]string{PolicyRatio, PolicyRecurrent}, c.Policy.Kind) {
		add("policy.kind", c.Policy.Kind, "must be ratio or recurrent")
	}
	if c.Policy.Smoothing <= 0 || c.Policy.Smoothing > 1 {
		add("policy.smoothing", c.Policy.Smoothing, "must be in (0, 1]")
	}
	if c.Policy.Kind == PolicyRecurrent && c.Policy.HiddenSize < 1 {
		add("policy.hidden_size", c.Policy.HiddenSize, "must be at least 1")
	}

	if !slices.Contains([]string{InputMIDI, InputReplay}, c.Input.Kind) {
		add("input.kind", c.Input.Kind, "must be midi or replay")
	}
	if c.Input.ReplayScale <= 0 {
		add("input.replay_scale", c.Input.ReplayScale, "must be positive")
	}

	if !slices.Contains([]string{OutputMIDI, OutputSerial, OutputLog}, c.Output.Kind) {
		add("output.kind", c.Output.Kind, "must be midi, serial or log")
	}
	if c.Output.Channel < 0 || c.Output.Channel > 15 {
		add("output.channel", c.Output.Channel, "must be between 0 and 15")
	}
	if c.Output.Kind == OutputSerial {
		if c.Output.SerialDevice == "" {
			add("output.serial_device", c.Output.SerialDevice, "is required for serial output")
		}
		if c.Output.Baud < 1 {
			add("output.baud", c.Output.Baud, "must be positive")
		}
	}

	if c.Render.DefaultDuration <= 0 {
		add("render.default_duration", c.Render.DefaultDuration, "must be positive")
	}
	if c.Render.Velocity < 1 || c.Render.Velocity > 127 {
		add("render.velocity", c.Render.Velocity, "must be between 1 and 127")
	}
	if c.Render.MinInterval < 0 {
		add("render.min_interval", c.Render.MinInterval, "must not be negative")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		add("logging.level", c.Logging.Level, "must be debug, info, warn or error")
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Logging.Format)) {
		add("logging.format", c.Logging.Format, "must be text or json")
	}
	return errs
}

// WriteYAML writes c as a YAML config file.
func WriteYAML(w io.Writer, c *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return enc.Close()
}
