package render

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chase3718/accompanist/internal/logging"
	"github.com/chase3718/accompanist/internal/score"
)

func pitchRange(from, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = from + i
	}
	return out
}

func TestOnsets(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1.0, 1.5}, Onsets([]float64{0.5, 0.5, 0.5}))
	assert.Equal(t, []float64{0}, Onsets(nil))
}

func TestOnsets_NonDecreasing(t *testing.T) {
	onsets := Onsets([]float64{0.2, 0, 1.1, 0.05, 0, 0.3})
	for i := 1; i < len(onsets); i++ {
		assert.GreaterOrEqual(t, onsets[i], onsets[i-1])
	}
}

func TestRender_Basic(t *testing.T) {
	notes := append(pitchRange(40, 2), 60, 62, 64, 65)
	out, err := Render([]float64{0.5, 0.5, 0.5}, notes, 2, 0.3)

	var mm *SequenceLengthMismatch
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, 3, mm.Timings)
	assert.Equal(t, 4, mm.Pitches)

	require.Len(t, out, 4)
	for i, want := range []float64{0, 0.5, 1.0, 1.5} {
		assert.InDelta(t, want, out[i].Start, 1e-12)
		assert.InDelta(t, want+0.3, out[i].End, 1e-12)
		assert.Equal(t, notes[2+i], out[i].Pitch)
		assert.Equal(t, uint8(DefaultVelocity), out[i].Velocity)
	}
}

func TestRender_AlignedInputsHaveNoMismatch(t *testing.T) {
	out, err := Render([]float64{0.4, 0.4}, pitchRange(60, 5), 3, 0.3)
	assert.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRender_Count(t *testing.T) {
	tests := []struct {
		name      string
		predicted int
		notes     int
		window    int
		want      int
	}{
		{"more pitches", 3, 20, 10, 4},
		{"more timings", 30, 15, 10, 5},
		{"window swallows all", 5, 8, 10, 0},
		{"empty timings", 0, 12, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			predicted := make([]float64, tt.predicted)
			for i := range predicted {
				predicted[i] = 0.25
			}
			out, _ := Render(predicted, pitchRange(50, tt.notes), tt.window, 0.3)
			assert.Len(t, out, tt.want)
		})
	}
}

func TestRenderer_LogsAndAppliesVelocity(t *testing.T) {
	r := NewRenderer(1, 0.2, 80, logging.Discard())
	out := r.Render([]float64{1}, []int{10, 60, 62, 64})
	require.Len(t, out, 2)
	assert.Equal(t, uint8(80), out[0].Velocity)
}

func TestWriteSMF_RoundTrip(t *testing.T) {
	notes, _ := Render([]float64{0.5, 0.25, 1.0}, []int{1, 60, 62, 64, 65}, 1, 0.3)

	var buf bytes.Buffer
	require.NoError(t, WriteSMF(&buf, notes, WriteOptions{}))

	events, spb, err := score.Read(&buf)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, spb, 1e-9)
	require.Len(t, events, len(notes))
	for i, ev := range events {
		assert.Equal(t, notes[i].Pitch, ev.Pitch)
		assert.InDelta(t, notes[i].Start, ev.OnsetTime, 0.002)
		assert.InDelta(t, 0.3, ev.Duration, 0.002)
		assert.Equal(t, uint8(DefaultVelocity), ev.Velocity)
	}
}

func TestWriteSMF_RepeatedPitch(t *testing.T) {
	notes := []Note{
		{Pitch: 60, Velocity: 100, Start: 0, End: 0.5},
		{Pitch: 60, Velocity: 100, Start: 0.5, End: 1.0},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSMF(&buf, notes, WriteOptions{}))

	events, _, err := score.Read(&buf)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.InDelta(t, 0.5, events[0].Duration, 0.002)
	assert.InDelta(t, 0.5, events[1].OnsetTime, 0.002)
}

func TestWriteSMF_RejectsBadPitch(t *testing.T) {
	err := WriteSMF(&bytes.Buffer{}, []Note{{Pitch: 200, End: 1}}, WriteOptions{})
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mid")
	require.NoError(t, WriteFile(path, []Note{{Pitch: 72, Velocity: 100, Start: 0, End: 0.3}}, WriteOptions{}))

	events, _, err := score.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, 72, events[0].Pitch)

	err = WriteFile(filepath.Join(t.TempDir(), "missing", "out.mid"), nil, WriteOptions{})
	assert.Error(t, err)
}
