package render

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// WriteOptions controls the written file. Zero values select the defaults:
// 960 ticks per quarter, 120 BPM, program 0 (Acoustic Grand Piano).
type WriteOptions struct {
	TicksPerQuarter uint16
	BPM             float64
	Program         uint8
	Channel         uint8
	TrackName       string
}

func (o WriteOptions) withDefaults() WriteOptions {
	if o.TicksPerQuarter == 0 {
		o.TicksPerQuarter = 960
	}
	if o.BPM <= 0 {
		o.BPM = 120
	}
	if o.TrackName == "" {
		o.TrackName = "accompanist"
	}
	return o
}

type tickedMessage struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// WriteSMF writes notes as a single-track format 1 MIDI file.
func WriteSMF(w io.Writer, notes []Note, opts WriteOptions) error {
	opts = opts.withDefaults()
	if opts.Channel > 15 {
		return fmt.Errorf("render: channel %d out of range", opts.Channel)
	}
	ticksPerSecond := float64(opts.TicksPerQuarter) * opts.BPM / 60
	toTicks := func(sec float64) uint32 {
		return uint32(math.Round(max(sec, 0) * ticksPerSecond))
	}

	msgs := make([]tickedMessage, 0, 2*len(notes))
	for _, n := range notes {
		if n.Pitch < 0 || n.Pitch > 127 {
			return fmt.Errorf("render: pitch %d out of range", n.Pitch)
		}
		key := uint8(n.Pitch)
		start, end := toTicks(n.Start), toTicks(n.End)
		if end <= start {
			end = start + 1
		}
		msgs = append(msgs,
			tickedMessage{tick: start, msg: midi.NoteOn(opts.Channel, key, n.Velocity)},
			tickedMessage{tick: end, off: true, msg: midi.NoteOff(opts.Channel, key)},
		)
	}
	// offs first at equal ticks so a repeated pitch is released before it
	// is struck again
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].tick != msgs[j].tick {
			return msgs[i].tick < msgs[j].tick
		}
		return msgs[i].off && !msgs[j].off
	})

	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName(opts.TrackName))
	tr.Add(0, smf.MetaTempo(opts.BPM))
	tr.Add(0, midi.ProgramChange(opts.Channel, opts.Program))
	var last uint32
	for _, m := range msgs {
		tr.Add(m.tick-last, m.msg)
		last = m.tick
	}
	tr.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(opts.TicksPerQuarter)
	if err := s.Add(tr); err != nil {
		return fmt.Errorf("render: add track: %w", err)
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("render: write: %w", err)
	}
	return nil
}

// WriteFile writes notes to path with WriteSMF.
func WriteFile(path string, notes []Note, opts WriteOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := WriteSMF(f, notes, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
