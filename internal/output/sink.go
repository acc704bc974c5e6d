// Package output delivers accompaniment notes to whatever makes the sound:
// a MIDI output port, a microcontroller on a serial line, or just the log.
package output

import (
	"errors"
	"log/slog"

	"github.com/chase3718/accompanist/internal/score"
)

// DefaultVelocity is used for events that carry no velocity.
const DefaultVelocity = 100

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("output: sink closed")

// Sink plays accompaniment events. Emit is called from the playback
// goroutine only; Close releases the device and silences held notes.
type Sink interface {
	Emit(ev score.Event) error
	Close() error
}

// LogSink writes each event to the log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that only logs.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "output")}
}

// Emit implements Sink.
func (s *LogSink) Emit(ev score.Event) error {
	s.logger.Info("output: note",
		"index", ev.Index,
		"pitch", ev.Pitch,
		"name", score.PitchName(ev.Pitch),
		"duration", ev.Duration)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

func velocity(ev score.Event) uint8 {
	if ev.Velocity == 0 {
		return DefaultVelocity
	}
	return min(ev.Velocity, 127)
}
