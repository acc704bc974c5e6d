// Package config loads accompanist settings from defaults, an optional YAML
// file and ACCOMPANIST_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// ACCOMPANIST_PERFORMANCE_WINDOW_SIZE.
const EnvPrefix = "ACCOMPANIST"

// Config is the complete accompanist configuration.
type Config struct {
	Performance PerformanceConfig `mapstructure:"performance" yaml:"performance"`
	Policy      PolicyConfig      `mapstructure:"policy" yaml:"policy"`
	Input       InputConfig       `mapstructure:"input" yaml:"input"`
	Output      OutputConfig      `mapstructure:"output" yaml:"output"`
	Render      RenderConfig      `mapstructure:"render" yaml:"render"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// PerformanceConfig controls the live conductor and scheduler.
type PerformanceConfig struct {
	// WindowSize is the number of past onsets in each observation (default: 10)
	WindowSize int `mapstructure:"window_size" yaml:"window_size"`
	// HoldTimeoutMs is how long without a solo onset before the conductor
	// reports a hold. The last factor is kept either way.
	HoldTimeoutMs int `mapstructure:"hold_timeout_ms" yaml:"hold_timeout_ms"`
	// PollIntervalMs bounds every wait in the engine (max 50)
	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	// QueueSize is the capacity of the solo onset queue
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
	// MelodyEpsilon merges solo onsets closer than this many seconds
	MelodyEpsilon float64 `mapstructure:"melody_epsilon" yaml:"melody_epsilon"`
}

// PolicyConfig selects the speed policy supplier.
type PolicyConfig struct {
	// Kind is "ratio" or "recurrent"
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Smoothing is the ratio supplier's EMA weight in (0, 1]
	Smoothing float64 `mapstructure:"smoothing" yaml:"smoothing"`
	// HiddenSize is the recurrent supplier's state width
	HiddenSize int `mapstructure:"hidden_size" yaml:"hidden_size"`
}

// InputConfig selects where solo onsets come from.
type InputConfig struct {
	// Kind is "midi" or "replay"
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Preferred lists substrings of MIDI input port names to try first
	Preferred []string `mapstructure:"preferred" yaml:"preferred"`
	// Excluded lists substrings of port names that are never opened
	Excluded []string `mapstructure:"excluded" yaml:"excluded"`
	// ReplayScale stretches replayed solo timing (2 = half speed)
	ReplayScale float64 `mapstructure:"replay_scale" yaml:"replay_scale"`
}

// OutputConfig selects where accompaniment events go.
type OutputConfig struct {
	// Kind is "midi", "serial" or "log"
	Kind      string   `mapstructure:"kind" yaml:"kind"`
	Preferred []string `mapstructure:"preferred" yaml:"preferred"`
	// Channel is the 0-based MIDI channel
	Channel      int    `mapstructure:"channel" yaml:"channel"`
	SerialDevice string `mapstructure:"serial_device" yaml:"serial_device"`
	Baud         int    `mapstructure:"baud" yaml:"baud"`
}

// RenderConfig controls the offline rendering of predicted timings.
type RenderConfig struct {
	// DefaultDuration is every rendered note's length in seconds
	DefaultDuration float64 `mapstructure:"default_duration" yaml:"default_duration"`
	Velocity        int     `mapstructure:"velocity" yaml:"velocity"`
	// MinInterval replaces non-positive intervals during rehearsal, where 0
	// keeps them as errors. A live performance uses it for held predictions
	// over such intervals and falls back to its own floor when 0.
	MinInterval float64 `mapstructure:"min_interval" yaml:"min_interval"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables it
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Performance: PerformanceConfig{
			WindowSize:     10,
			HoldTimeoutMs:  2000,
			PollIntervalMs: 20,
			QueueSize:      64,
			MelodyEpsilon:  0.03,
		},
		Policy: PolicyConfig{
			Kind:       PolicyRatio,
			Smoothing:  0.5,
			HiddenSize: 8,
		},
		Input: InputConfig{
			Kind:        InputMIDI,
			Excluded:    []string{"Midi Through", "Through Port", "Dummy"},
			ReplayScale: 1.0,
		},
		Output: OutputConfig{
			Kind:    OutputMIDI,
			Channel: 0,
			Baud:    115200,
		},
		Render: RenderConfig{
			DefaultDuration: 0.3,
			Velocity:        100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// PollInterval returns the configured poll interval as a duration.
func (c *PerformanceConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// HoldTimeout returns the configured hold timeout as a duration.
func (c *PerformanceConfig) HoldTimeout() time.Duration {
	return time.Duration(c.HoldTimeoutMs) * time.Millisecond
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("performance.window_size", d.Performance.WindowSize)
	v.SetDefault("performance.hold_timeout_ms", d.Performance.HoldTimeoutMs)
	v.SetDefault("performance.poll_interval_ms", d.Performance.PollIntervalMs)
	v.SetDefault("performance.queue_size", d.Performance.QueueSize)
	v.SetDefault("performance.melody_epsilon", d.Performance.MelodyEpsilon)

	v.SetDefault("policy.kind", d.Policy.Kind)
	v.SetDefault("policy.smoothing", d.Policy.Smoothing)
	v.SetDefault("policy.hidden_size", d.Policy.HiddenSize)

	v.SetDefault("input.kind", d.Input.Kind)
	v.SetDefault("input.preferred", d.Input.Preferred)
	v.SetDefault("input.excluded", d.Input.Excluded)
	v.SetDefault("input.replay_scale", d.Input.ReplayScale)

	v.SetDefault("output.kind", d.Output.Kind)
	v.SetDefault("output.preferred", d.Output.Preferred)
	v.SetDefault("output.channel", d.Output.Channel)
	v.SetDefault("output.serial_device", d.Output.SerialDevice)
	v.SetDefault("output.baud", d.Output.Baud)

	v.SetDefault("render.default_duration", d.Render.DefaultDuration)
	v.SetDefault("render.velocity", d.Render.Velocity)
	v.SetDefault("render.min_interval", d.Render.MinInterval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// NewViper returns a viper instance with defaults and environment overrides
// registered. path, when non-empty, names a YAML config file.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	return v
}

// Load reads the configuration. A missing path means defaults plus
// environment; a named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	return LoadViper(NewViper(path), path != "")
}

// LoadViper unmarshals a prepared viper instance, reading its config file
// first when readFile is set. Callers use it to bind command-line flags.
func LoadViper(v *viper.Viper, readFile bool) (*Config, error) {
	if readFile {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errs)
	}
	return &cfg, nil
}
