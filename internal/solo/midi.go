package solo

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/chase3718/accompanist/internal/device"
	"github.com/chase3718/accompanist/internal/score"
)

const midiRescanInterval = 1000 * time.Millisecond

// MIDITracker listens to a MIDI keyboard and reports every note-on as a solo
// onset. It handles hot-plug (a preferred device appears) and hot-unplug
// (the device disappears) while listening.
type MIDITracker struct {
	mu           sync.Mutex
	drv          *rtmididrv.Driver
	conn         *midiConn
	lastRescanAt time.Time

	preferred []string
	excluded  []string
	q         *queue
	logger    *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// midiConn is an open input port and its listener.
type midiConn struct {
	port   drivers.In
	name   string
	cancel func()
}

func (c *midiConn) close() {
	c.cancel()
	_ = c.port.Close()
}

// NewMIDITracker initialises the rtmidi driver. Port names matching
// preferred are connected first; names matching excluded never are.
func NewMIDITracker(preferred, excluded []string, queueSize int, logger *slog.Logger) (*MIDITracker, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, &device.ResourceError{Device: "rtmidi", Err: err}
	}
	if excluded == nil {
		excluded = device.DefaultExcluded
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "solo")
	return &MIDITracker{
		drv:       drv,
		preferred: preferred,
		excluded:  excluded,
		q:         newQueue(queueSize, logger),
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// StartListening connects to the first suitable input and keeps rescanning
// in the background until StopListening.
func (m *MIDITracker) StartListening(ctx context.Context) error {
	started := false
	m.startOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("solo: midi tracker already started")
	}
	m.tick()
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(midiRescanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
	return nil
}

// StopListening closes the input port and the driver.
func (m *MIDITracker) StopListening() {
	m.stopOnce.Do(func() {
		// a tracker that never started has no loop to wait for
		m.startOnce.Do(func() { close(m.done) })
		close(m.stop)
		select {
		case <-m.done:
		case <-time.After(midiRescanInterval):
		}
		m.mu.Lock()
		m.disconnect()
		m.drv.Close()
		m.mu.Unlock()
		m.q.close()
		m.logger.Info("midi: listening stopped")
	})
}

// Onsets implements Tracker.
func (m *MIDITracker) Onsets() <-chan Onset {
	return m.q.ch
}

// tick rescans the inputs. While connected it only watches for the device
// to disappear; otherwise it connects to the best candidate.
func (m *MIDITracker) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !m.lastRescanAt.IsZero() && now.Sub(m.lastRescanAt) < midiRescanInterval/2 {
		return
	}
	m.lastRescanAt = now

	names, ports := m.inputs()
	if m.conn != nil {
		if _, ok := ports[m.conn.name]; !ok {
			m.logger.Warn("midi: device disappeared", "device", m.conn.name)
			m.disconnect()
			m.lastRescanAt = time.Time{}
		}
		return
	}
	if len(names) == 0 {
		return
	}
	name, ok := device.Pick(names, m.preferred)
	if !ok {
		m.logger.Debug("midi: no preferred device", "available", strings.Join(names, ", "))
		return
	}
	conn, err := m.connect(ports[name])
	if err != nil {
		m.logger.Error("midi: connect failed", "device", name, "err", err)
		return
	}
	m.conn = conn
	m.logger.Info("midi: connected", "device", name)
}

// inputs returns the names of the usable input ports in driver order, and
// the ports by name.
func (m *MIDITracker) inputs() ([]string, map[string]drivers.In) {
	ins, err := m.drv.Ins()
	if err != nil {
		m.logger.Error("midi: list inputs failed", "err", err)
		return nil, nil
	}
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	kept := device.Filter(names, m.excluded)
	ports := make(map[string]drivers.In, len(kept))
	for _, in := range ins {
		if slices.Contains(kept, in.String()) {
			ports[in.String()] = in
		}
	}
	return kept, ports
}

func (m *MIDITracker) connect(port drivers.In) (*midiConn, error) {
	name := port.String()
	if err := port.Open(); err != nil {
		return nil, &device.ResourceError{Device: name, Err: err}
	}
	cancel, err := midi.ListenTo(port, m.onMessage, midi.HandleError(func(err error) {
		m.logger.Warn("midi: listener error", "device", name, "err", err)
		// the listener goroutine cannot take the lock itself
		go m.dropConn(name)
	}))
	if err != nil {
		_ = port.Close()
		return nil, &device.ResourceError{Device: name, Err: err}
	}
	return &midiConn{port: port, name: name, cancel: cancel}, nil
}

func (m *MIDITracker) onMessage(msg midi.Message, _ int32) {
	at := time.Now()
	var ch, key, vel uint8
	if !msg.GetNoteStart(&ch, &key, &vel) {
		return
	}
	m.logger.Debug("midi: note on", "ch", ch, "key", key, "name", score.PitchName(int(key)), "vel", vel)
	m.q.push(Onset{Time: at, Pitch: int(key), Velocity: int(vel)})
}

// dropConn disconnects name after a listener failure so the next tick can
// reconnect.
func (m *MIDITracker) dropConn(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil && m.conn.name == name {
		m.disconnect()
		m.lastRescanAt = time.Time{}
	}
}

func (m *MIDITracker) disconnect() {
	if m.conn == nil {
		return
	}
	m.conn.close()
	m.conn = nil
}
