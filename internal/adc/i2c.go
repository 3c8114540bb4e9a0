package adc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sigurn/crc8"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/sweeney/battery-led/internal/logic"
)

const (
	// DefaultI2CAddress is the address of the battery monitor.
	DefaultI2CAddress = 0x25
	// DefaultRegister holds the latest conversion as hi, lo, crc.
	DefaultRegister = 0x10

	maxTxAttempts   = 3
	txRetryInterval = 50 * time.Millisecond
)

var errBadCRC = errors.New("bad crc")

// Polynomial 1 + x^4 + x^5 + x^8, as used by Sensirion parts.
var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

// I2CSource reads the latest conversion from a free-running converter on an
// I2C bus. Each read is a register write followed by a 3-byte frame.
type I2CSource struct {
	mu            sync.Mutex
	dev           *i2c.Dev
	register      byte
	closer        func() error
	retryInterval time.Duration
}

// NewI2CSource reads from the device at addr on an already opened bus.
func NewI2CSource(bus i2c.Bus, addr uint16, register byte) *I2CSource {
	return &I2CSource{
		dev:           &i2c.Dev{Bus: bus, Addr: addr},
		register:      register,
		retryInterval: txRetryInterval,
	}
}

// OpenI2CSource initialises the host drivers and opens the named bus
// ("" for the default bus).
func OpenI2CSource(busName string, addr uint16, register byte) (*I2CSource, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	// A missing device fails here at startup rather than on every cycle.
	if err := bus.Tx(addr, nil, nil); err != nil {
		bus.Close()
		return nil, fmt.Errorf("check i2c device %#x: %w", addr, err)
	}
	s := NewI2CSource(bus, addr, register)
	s.closer = bus.Close
	return s, nil
}

// ReadRaw reads and verifies one conversion frame.
func (s *I2CSource) ReadRaw() (logic.RawValue, error) {
	frame := make([]byte, 3)
	if err := s.tx([]byte{s.register}, frame); err != nil {
		return 0, fmt.Errorf("read register %#x: %w", s.register, err)
	}
	if got := Checksum(frame[:2]); got != frame[2] {
		return 0, fmt.Errorf("frame %x: %w (want %#x)", frame, errBadCRC, got)
	}

	raw := logic.RawValue(frame[0])<<8 | logic.RawValue(frame[1])
	if raw > MaxRaw {
		return 0, fmt.Errorf("reading %d exceeds converter range", raw)
	}
	return raw, nil
}

// Close releases the bus if this source opened it.
func (s *I2CSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *I2CSource) tx(write, read []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts := 0
	for {
		err := s.dev.Tx(write, read)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= maxTxAttempts {
			return err
		}
		time.Sleep(s.retryInterval)
	}
}

// Checksum returns the frame CRC for data.
func Checksum(data []byte) byte {
	return crc8.Checksum(data, crcTable)
}
