package output

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/chase3718/accompanist/internal/device"
	"github.com/chase3718/accompanist/internal/score"
)

// MIDISink plays events on a MIDI output port. Each note-on schedules its
// own note-off; Close cancels the pending timers and sends the note-offs
// immediately so nothing hangs.
type MIDISink struct {
	mu      sync.Mutex
	send    func(midi.Message) error
	release func() error
	channel uint8
	pending map[uint8]*time.Timer
	closed  bool
	logger  *slog.Logger
}

// OpenMIDISink opens the output port whose name matches one of the
// preferred patterns (or the only non-virtual port).
func OpenMIDISink(preferred []string, channel uint8, logger *slog.Logger) (*MIDISink, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, &device.ResourceError{Device: "rtmidi", Err: err}
	}

	outs, err := drv.Outs()
	if err != nil {
		drv.Close()
		return nil, &device.ResourceError{Device: "rtmidi", Err: err}
	}
	var names []string
	byName := map[string]drivers.Out{}
	for _, o := range outs {
		names = append(names, o.String())
		byName[o.String()] = o
	}
	name, ok := device.Pick(device.Filter(names, device.DefaultExcluded), preferred)
	if !ok {
		drv.Close()
		return nil, &device.ResourceError{Device: "midi out", Err: fmt.Errorf("no matching port among %q", names)}
	}

	out := byName[name]
	if err := out.Open(); err != nil {
		drv.Close()
		return nil, &device.ResourceError{Device: name, Err: err}
	}
	send, err := midi.SendTo(out)
	if err != nil {
		_ = out.Close()
		drv.Close()
		return nil, &device.ResourceError{Device: name, Err: err}
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("output: midi port opened", "device", name, "channel", channel)
	return newMIDISink(send, func() error {
		err := out.Close()
		drv.Close()
		return err
	}, channel, logger), nil
}

func newMIDISink(send func(midi.Message) error, release func() error, channel uint8, logger *slog.Logger) *MIDISink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MIDISink{
		send:    send,
		release: release,
		channel: channel,
		pending: map[uint8]*time.Timer{},
		logger:  logger.With("component", "output"),
	}
}

// Emit implements Sink.
func (s *MIDISink) Emit(ev score.Event) error {
	key := uint8(min(max(ev.Pitch, 0), 127))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	// retriggering a sounding key ends the previous note first
	if t, ok := s.pending[key]; ok {
		t.Stop()
		delete(s.pending, key)
		if err := s.send(midi.NoteOff(s.channel, key)); err != nil {
			s.logger.Warn("output: note off failed", "key", key, "err", err)
		}
	}
	if err := s.send(midi.NoteOn(s.channel, key, velocity(ev))); err != nil {
		return fmt.Errorf("output: note on %d: %w", key, err)
	}

	var t *time.Timer
	t = time.AfterFunc(time.Duration(ev.Duration*float64(time.Second)), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.pending[key] != t {
			return
		}
		delete(s.pending, key)
		if err := s.send(midi.NoteOff(s.channel, key)); err != nil {
			s.logger.Warn("output: note off failed", "key", key, "err", err)
		}
	})
	s.pending[key] = t
	return nil
}

// Close implements Sink.
func (s *MIDISink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for key, t := range s.pending {
		t.Stop()
		_ = s.send(midi.NoteOff(s.channel, key))
	}
	s.pending = map[uint8]*time.Timer{}
	s.logger.Info("output: midi port closed")
	if s.release != nil {
		return s.release()
	}
	return nil
}
