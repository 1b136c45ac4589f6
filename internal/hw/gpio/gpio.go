package gpio

import (
	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development off the bench.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// Write records a single WritePin call.
type Write struct {
	Pin   int
	Level Level
}

// MockDriver is a recording implementation for development off the bench.
// It logs actions, keeps the last level written per pin and the full write
// sequence, so tests can assert on step pulses and direction changes.
type MockDriver struct {
	levels map[int]Level
	Writes []Write
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
	m.Writes = append(m.Writes, Write{Pin: pin, Level: level})
	return nil
}

// ReadPin returns the last level written to the pin, Low if never written.
func (m *MockDriver) ReadPin(pin int) (Level, error) {
	level := m.levels[pin]
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}

// PinLevel reports the last level written to the pin.
func (m *MockDriver) PinLevel(pin int) Level {
	return m.levels[pin]
}

// WritesForPin returns the write sequence seen by one pin.
func (m *MockDriver) WritesForPin(pin int) []Write {
	var out []Write
	for _, w := range m.Writes {
		if w.Pin == pin {
			out = append(out, w)
		}
	}
	return out
}

// Reset clears the recorded writes, keeping current pin levels.
func (m *MockDriver) Reset() {
	m.Writes = nil
}
