package adc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/sweeney/battery-led/internal/logic"
)

// DefaultBaud is the rate the battery monitor firmware streams at.
const DefaultBaud = 9600

// StreamSource keeps the latest reading from a stream of newline-terminated
// decimal values, the way the converter register holds the latest conversion.
type StreamSource struct {
	rc  io.ReadCloser
	log logrus.FieldLogger

	mu        sync.Mutex
	latest    logic.RawValue
	have      bool
	err       error
	malformed int

	done chan struct{}
}

// OpenSerialSource opens a serial port and starts reading from it.
func OpenSerialSource(device string, baud int, log logrus.FieldLogger) (*StreamSource, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name: device,
		Baud: baud,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	return NewStreamSource(port, log), nil
}

// NewStreamSource starts a goroutine reading values from rc until it fails or
// is closed. A nil log uses the standard logger.
func NewStreamSource(rc io.ReadCloser, log logrus.FieldLogger) *StreamSource {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &StreamSource{
		rc:   rc,
		log:  log,
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *StreamSource) readLoop() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.rc)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseUint(line, 10, 16)
		if err != nil || logic.RawValue(v) > MaxRaw {
			s.mu.Lock()
			s.malformed++
			s.mu.Unlock()
			s.log.Debugf("adc: skipping malformed line %q", line)
			continue
		}
		s.mu.Lock()
		s.latest = logic.RawValue(v)
		s.have = true
		s.mu.Unlock()
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// ReadRaw returns the latest value received. After the stream ends, the
// stream error is returned.
func (s *StreamSource) ReadRaw() (logic.RawValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return 0, fmt.Errorf("adc stream: %w", s.err)
	}
	if !s.have {
		return 0, ErrNoSample
	}
	return s.latest, nil
}

// malformedLines returns the number of lines skipped.
func (s *StreamSource) malformedLines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.malformed
}

// Err returns the error that ended the stream, or nil while it is running.
// Lines longer than the scanner buffer end the stream with bufio.ErrTooLong.
func (s *StreamSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the read loop exits. The source does not reopen the
// stream; callers should treat it as lost.
func (s *StreamSource) Done() <-chan struct{} {
	return s.done
}

// Close closes the underlying stream; the read loop exits on its next read.
func (s *StreamSource) Close() error {
	return s.rc.Close()
}
