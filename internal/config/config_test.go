package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10, cfg.Performance.WindowSize)
	assert.Equal(t, 20*time.Millisecond, cfg.Performance.PollInterval())
	assert.Equal(t, 2*time.Second, cfg.Performance.HoldTimeout())
	assert.Equal(t, PolicyRatio, cfg.Policy.Kind)
	assert.Equal(t, 0.3, cfg.Render.DefaultDuration)
	assert.Equal(t, 100, cfg.Render.Velocity)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Performance, cfg.Performance)
	assert.Equal(t, Default().Output.Kind, cfg.Output.Kind)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accompanist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
performance:
  window_size: 4
output:
  kind: log
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Performance.WindowSize)
	assert.Equal(t, OutputLog, cfg.Output.Kind)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched keys keep their defaults
	assert.Equal(t, 20, cfg.Performance.PollIntervalMs)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ACCOMPANIST_PERFORMANCE_WINDOW_SIZE", "6")
	t.Setenv("ACCOMPANIST_POLICY_KIND", "recurrent")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Performance.WindowSize)
	assert.Equal(t, PolicyRecurrent, cfg.Policy.Kind)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("ACCOMPANIST_PERFORMANCE_POLL_INTERVAL_MS", "200")

	_, err := Load("")
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "performance.poll_interval_ms", verrs[0].Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero window", func(c *Config) { c.Performance.WindowSize = 0 }, "performance.window_size"},
		{"bad policy", func(c *Config) { c.Policy.Kind = "magic" }, "policy.kind"},
		{"smoothing above one", func(c *Config) { c.Policy.Smoothing = 1.5 }, "policy.smoothing"},
		{"bad input", func(c *Config) { c.Input.Kind = "osc" }, "input.kind"},
		{"channel", func(c *Config) { c.Output.Channel = 16 }, "output.channel"},
		{"serial without device", func(c *Config) { c.Output.Kind = OutputSerial }, "output.serial_device"},
		{"velocity", func(c *Config) { c.Render.Velocity = 0 }, "render.velocity"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	assert.Contains(t, errs.Error(), "2 validation errors")
	assert.Contains(t, errs.Error(), "b: worse (got: 2)")
	assert.Equal(t, "a: bad (got: 1)", errs[:1].Error())
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Performance.WindowSize = 7
	cfg.Output.Kind = OutputLog

	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, cfg))
	assert.Contains(t, buf.String(), "window_size: 7")

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Performance.WindowSize)
	assert.Equal(t, OutputLog, got.Output.Kind)
}
