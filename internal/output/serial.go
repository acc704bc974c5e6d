package output

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/chase3718/accompanist/internal/device"
	"github.com/chase3718/accompanist/internal/score"
)

// SerialSink sends each event as a NoteFrame over a serial line.
type SerialSink struct {
	mu     sync.Mutex
	port   io.WriteCloser
	seq    byte
	closed bool
	logger *slog.Logger
}

// OpenSerialSink opens the named serial device at the given baud rate.
func OpenSerialSink(name string, baud int, logger *slog.Logger) (*SerialSink, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, &device.ResourceError{Device: name, Err: err}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("output: serial port opened", "device", name, "baud", baud)
	return NewSerialSink(p, logger), nil
}

// NewSerialSink wraps an already open port.
func NewSerialSink(port io.WriteCloser, logger *slog.Logger) *SerialSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialSink{port: port, logger: logger.With("component", "output")}
}

// Emit implements Sink.
func (s *SerialSink) Emit(ev score.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	f := NoteFrame{
		Pitch:      byte(min(max(ev.Pitch, 0), 127)),
		Velocity:   velocity(ev),
		DurationCs: byte(min(max(int(ev.Duration*100+0.5), 1), 255)),
		Seq:        s.seq,
	}
	n, err := s.port.Write(f.Encode())
	if err != nil {
		return fmt.Errorf("output: serial write: %w", err)
	}
	s.seq++
	s.logger.Debug("output: frame sent", "bytes", n, "seq", f.Seq, "pitch", f.Pitch)
	return nil
}

// Close implements Sink.
func (s *SerialSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("output: closing serial port")
	return s.port.Close()
}
