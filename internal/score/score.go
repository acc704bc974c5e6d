// Package score loads reference tracks from Standard MIDI Files into ordered
// note events with onsets in seconds.
package score

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/chase3718/accompanist/internal/timing"
)

// DefaultBPM applies until the file sets a tempo.
const DefaultBPM = 120.0

// minDuration keeps zero-length notes (note-off on the same tick) playable.
const minDuration = 0.001

// Event is one note of a reference track. Events are immutable once loaded.
type Event struct {
	OnsetTime float64 // seconds from the start of the file
	Pitch     int
	Duration  float64 // seconds, > 0
	Velocity  uint8
	Index     int
}

// ParseError reports malformed or unsupported score input.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("score: parse: %v", e.Err)
	}
	return fmt.Sprintf("score: parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrNoNotes is wrapped in a ParseError when a file holds no notes.
var ErrNoNotes = errors.New("no notes found")

// Parse reads a Standard MIDI File and returns its notes ordered by onset,
// plus the seconds per beat of the first tempo in the file.
func Parse(path string) ([]Event, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	events, spb, err := Read(f)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, 0, err
	}
	return events, spb, nil
}

type timedMessage struct {
	tick  uint64
	order int
	msg   smf.Message
}

type noteKey struct{ ch, key uint8 }

type openNote struct {
	start float64
	vel   uint8
}

// Read parses a Standard MIDI File from r. See Parse.
func Read(r io.Reader) ([]Event, float64, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, 0, &ParseError{Err: err}
	}
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, 0, &ParseError{Err: fmt.Errorf("unsupported time format %v", s.TimeFormat)}
	}

	// merge all tracks on absolute ticks so tempo changes in the conductor
	// track apply to notes in every other track
	var merged []timedMessage
	for _, tr := range s.Tracks {
		var abs uint64
		for _, ev := range tr {
			abs += uint64(ev.Delta)
			merged = append(merged, timedMessage{tick: abs, order: len(merged), msg: ev.Message})
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].tick < merged[j].tick })

	bpm := DefaultBPM
	firstBPM := 0.0
	var (
		lastTick uint64
		seconds  float64
		events   []Event
		open     = map[noteKey][]openNote{}
	)
	for _, tm := range merged {
		seconds += durationSeconds(ticks, bpm, tm.tick-lastTick)
		lastTick = tm.tick

		var tempo float64
		if tm.msg.GetMetaTempo(&tempo) {
			if tempo > 0 {
				bpm = tempo
				if firstBPM == 0 {
					firstBPM = tempo
				}
			}
			continue
		}

		msg := midi.Message(tm.msg)
		var ch, key, vel uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			k := noteKey{ch, key}
			open[k] = append(open[k], openNote{start: seconds, vel: vel})
		case msg.GetNoteEnd(&ch, &key):
			k := noteKey{ch, key}
			starts := open[k]
			if len(starts) == 0 {
				continue
			}
			on := starts[0]
			open[k] = starts[1:]
			events = append(events, Event{
				OnsetTime: on.start,
				Pitch:     int(key),
				Duration:  max(seconds-on.start, minDuration),
				Velocity:  on.vel,
			})
		}
	}
	// notes still sounding at the end of the file last until the final tick
	for k, starts := range open {
		for _, on := range starts {
			events = append(events, Event{
				OnsetTime: on.start,
				Pitch:     int(k.key),
				Duration:  max(seconds-on.start, minDuration),
				Velocity:  on.vel,
			})
		}
	}
	if len(events) == 0 {
		return nil, 0, &ParseError{Err: ErrNoNotes}
	}

	sortEvents(events)
	if firstBPM == 0 {
		firstBPM = DefaultBPM
	}
	return events, 60.0 / firstBPM, nil
}

func durationSeconds(ticks smf.MetricTicks, bpm float64, delta uint64) float64 {
	if delta == 0 {
		return 0
	}
	var d time.Duration
	for delta > 0 {
		step := min(delta, uint64(^uint32(0)))
		d += ticks.Duration(bpm, uint32(step))
		delta -= step
	}
	return d.Seconds()
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].OnsetTime != events[j].OnsetTime {
			return events[i].OnsetTime < events[j].OnsetTime
		}
		return events[i].Pitch < events[j].Pitch
	})
	for i := range events {
		events[i].Index = i
	}
}

// Melody collapses notes whose onsets fall within epsilon seconds of the
// first note of their group into that group's highest note. Solo lines must
// be monophonic for interval arithmetic to be meaningful.
func Melody(events []Event, epsilon float64) []Event {
	var out []Event
	for _, ev := range events {
		if n := len(out); n > 0 && ev.OnsetTime-out[n-1].OnsetTime <= epsilon {
			if ev.Pitch > out[n-1].Pitch {
				onset := out[n-1].OnsetTime
				out[n-1] = ev
				out[n-1].OnsetTime = onset
			}
			continue
		}
		out = append(out, ev)
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}

// Onsets returns the onset times in order.
func Onsets(events []Event) []float64 {
	out := make([]float64, len(events))
	for i, ev := range events {
		out[i] = ev.OnsetTime
	}
	return out
}

// RelativeOnsets returns onset times measured from the first event.
func RelativeOnsets(events []Event) []float64 {
	out := Onsets(events)
	if len(out) == 0 {
		return out
	}
	first := out[0]
	for i := range out {
		out[i] -= first
	}
	return out
}

// Pitches returns the pitches in order.
func Pitches(events []Event) []int {
	out := make([]int, len(events))
	for i, ev := range events {
		out[i] = ev.Pitch
	}
	return out
}

// Align pairs the i-th note of a recorded performance with the i-th note of
// its reference, truncating to the shorter of the two. It returns the aligned
// timing history and the reference pitches.
func Align(performance, reference []Event) (timing.History, []int) {
	n := min(len(performance), len(reference))
	h := timing.History{
		Solo:      RelativeOnsets(performance[:n]),
		Reference: RelativeOnsets(reference[:n]),
	}
	return h, Pitches(reference[:n])
}
