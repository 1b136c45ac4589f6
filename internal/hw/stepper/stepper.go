package stepper

import (
	"fmt"
	"time"

	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
	"github.com/Skilledcamman/Automated-Microscopy/internal/hw/gpio"
)

// Config holds the hardware configuration for the focus stage motor.
type Config struct {
	StepPin       int
	DirPin        int
	EnablePin     int // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	StepsPerRev   int
	Microstepping int
}

// Stepper drives the focus stage motor through STEP/DIR pulses.
// Pulse timing is derived from a target RPM so the controller can switch
// between operating speed and a faster homing speed.
type Stepper struct {
	gpio  gpio.Driver
	cfg   Config
	delay time.Duration // delay per half-cycle of the STEP pulse
}

// NewStepper creates a new stepper motor controller running at the given RPM.
func NewStepper(g gpio.Driver, cfg Config, rpm int) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	s := &Stepper{
		gpio: g,
		cfg:  cfg,
	}
	s.SetRPM(rpm)

	// A4988 ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.Low) // enable by default
	}

	return s
}

// SetRPM changes the pulse timing to match the target shaft speed.
// Values <= 0 fall back to 1 RPM.
func (s *Stepper) SetRPM(rpm int) {
	if rpm <= 0 {
		rpm = 1
	}
	stepsPerRev := s.cfg.StepsPerRev
	if stepsPerRev <= 0 {
		stepsPerRev = 200
	}
	if s.cfg.Microstepping > 1 {
		stepsPerRev *= s.cfg.Microstepping
	}
	// One full step occupies two half-cycles of the STEP line.
	s.delay = time.Minute / time.Duration(rpm*stepsPerRev) / 2
	if s.delay <= 0 {
		s.delay = time.Microsecond
	}
	debug.Verbose("Stepper: speed set to %d RPM (half-cycle %v)", rpm, s.delay)
}

// MoveSteps moves the motor by a number of steps (positive or negative).
func (s *Stepper) MoveSteps(steps int64) error {
	if steps == 0 {
		return nil
	}

	var dirLevel gpio.Level
	var direction string
	if steps > 0 {
		dirLevel = gpio.High
		direction = "up"
	} else {
		dirLevel = gpio.Low
		direction = "down"
		steps = -steps
	}

	debug.Printf("Stepper: moving %d steps (%s) on pin %d", steps, direction, s.cfg.StepPin)

	if err := s.gpio.WritePin(s.cfg.DirPin, dirLevel); err != nil {
		return err
	}

	for i := int64(0); i < steps; i++ {
		if err := s.stepPulse(); err != nil {
			return fmt.Errorf("step %d of %d: %w", i+1, steps, err)
		}
	}
	return nil
}

func (s *Stepper) stepPulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

// Hold turns on the motor driver (A4988 ENABLE=LOW). The motor holds position.
func (s *Stepper) Hold() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Release turns off the motor driver (A4988 ENABLE=HIGH). The coils are
// de-energized: no holding torque, no heat. The step counter is unaffected.
func (s *Stepper) Release() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
