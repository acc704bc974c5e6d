package solo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chase3718/accompanist/internal/logging"
	"github.com/chase3718/accompanist/internal/score"
)

func replayEvents(step float64, n int) []score.Event {
	events := make([]score.Event, n)
	for i := range events {
		events[i] = score.Event{OnsetTime: 4 + float64(i)*step, Pitch: 70 + i, Duration: step, Velocity: 64, Index: i}
	}
	return events
}

func TestReplayTracker_Timing(t *testing.T) {
	r := NewReplayTracker(replayEvents(0.03, 4), ReplayOptions{Scale: 1, Poll: 2 * time.Millisecond}, nil)
	start := time.Now()
	require.NoError(t, r.StartListening(context.Background()))

	var got []Onset
	for o := range r.Onsets() {
		got = append(got, o)
	}
	require.Len(t, got, 4)
	for i, o := range got {
		assert.Equal(t, 70+i, o.Pitch)
		assert.WithinDuration(t, start.Add(time.Duration(i)*30*time.Millisecond), o.Time, 20*time.Millisecond)
	}
	r.StopListening()
}

func TestReplayTracker_Scale(t *testing.T) {
	r := NewReplayTracker(replayEvents(0.02, 2), ReplayOptions{Scale: 3, Poll: 2 * time.Millisecond}, nil)
	require.NoError(t, r.StartListening(context.Background()))

	first := <-r.Onsets()
	second := <-r.Onsets()
	assert.InDelta(t, 0.06, second.Time.Sub(first.Time).Seconds(), 0.02)
	r.StopListening()
}

func TestReplayTracker_StopClosesQueue(t *testing.T) {
	r := NewReplayTracker(replayEvents(10, 3), ReplayOptions{Poll: 5 * time.Millisecond}, nil)
	require.NoError(t, r.StartListening(context.Background()))
	<-r.Onsets()

	stopped := make(chan struct{})
	go func() {
		r.StopListening()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopListening blocked")
	}
	_, ok := <-r.Onsets()
	assert.False(t, ok)
}

func TestReplayTracker_StopWithoutStart(t *testing.T) {
	r := NewReplayTracker(replayEvents(1, 2), ReplayOptions{}, nil)
	r.StopListening()
	_, ok := <-r.Onsets()
	assert.False(t, ok)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := newQueue(1, logging.Discard())
	q.push(Onset{Pitch: 1})
	q.push(Onset{Pitch: 2})
	q.close()
	q.push(Onset{Pitch: 3})

	var got []int
	for o := range q.ch {
		got = append(got, o.Pitch)
	}
	assert.Equal(t, []int{1}, got)
}
