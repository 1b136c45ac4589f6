// Package controller implements the focus stage motion controller: an
// explicit state machine over homing, limited open-loop moves and throttled
// persistence. All actuator state is owned by a single Controller instance;
// command handlers mutate it through its methods only.
package controller

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
	"github.com/Skilledcamman/Automated-Microscopy/internal/store"
)

var (
	// ErrNotHomed rejects position-dependent commands before a homing cycle.
	ErrNotHomed = errors.New("not homed")
	// ErrInvalidArgument rejects out-of-range command arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Motor abstracts the physical stepper so the controller can run against the
// real STEP/DIR driver or a fake in tests.
type Motor interface {
	// MoveSteps moves by the signed number of steps, blocking for the full
	// motion. Positive steps move up (away from the home stop).
	MoveSteps(steps int64) error
	// SetRPM changes the motion speed.
	SetRPM(rpm int)
	// Release de-energizes the coils; Hold re-energizes them.
	Release() error
	Hold() error
}

// Config carries the tunable controller parameters.
type Config struct {
	StepsPerPress  int64         // magnitude used by U/D
	RPM            int           // operating speed
	HomeRPM        int           // speed used only while homing
	HomeSweepSteps int64         // fixed push toward the mechanical stop
	SettleDelay    time.Duration // pause after hitting the stop / raising
	WriteInterval  int           // accepted moves between durable position writes

	// DefaultObjectiveID applies when the store holds no objective record.
	DefaultObjectiveID int64
}

// positionUnknown is the position sentinel before homing.
const positionUnknown int64 = -1

// Controller owns all focus stage state. It is not safe for concurrent use:
// the serve loop executes one command at a time, including any blocking
// physical motion, before reading the next line.
type Controller struct {
	motor Motor
	store store.Store
	cfg   Config

	homed         bool
	position      int64
	maxLimit      int64
	objective     Objective
	stepsPerPress int64
	rpm           int
	homeRPM       int

	writeCounter int
}

// New creates a controller in the unhomed state. The objective selection (and
// only the objective selection) is restored from the store; the persisted
// position is deliberately ignored because the stage may have been moved
// while unpowered.
func New(motor Motor, st store.Store, cfg Config) (*Controller, error) {
	if cfg.StepsPerPress <= 0 {
		cfg.StepsPerPress = 250
	}
	if cfg.RPM <= 0 {
		cfg.RPM = 12
	}
	if cfg.HomeRPM <= 0 {
		cfg.HomeRPM = 18
	}
	if cfg.HomeSweepSteps <= 0 {
		cfg.HomeSweepSteps = 12000
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 250 * time.Millisecond
	}
	if cfg.WriteInterval <= 0 {
		cfg.WriteInterval = 25
	}
	if cfg.DefaultObjectiveID == 0 {
		cfg.DefaultObjectiveID = 40
	}

	c := &Controller{
		motor:         motor,
		store:         st,
		cfg:           cfg,
		homed:         false,
		position:      positionUnknown,
		stepsPerPress: cfg.StepsPerPress,
		rpm:           cfg.RPM,
		homeRPM:       cfg.HomeRPM,
	}

	id, limit, ok, err := st.ReadObjective()
	if err != nil {
		return nil, fmt.Errorf("restore objective: %w", err)
	}
	switch {
	case ok && id == 0 && limit > 0:
		c.objective = ObjectiveCustom
		c.maxLimit = limit
		debug.Info("Restored custom travel limit: %d steps", limit)
	case ok:
		if obj, presetLimit, known := presetByID(id); known {
			c.objective = obj
			c.maxLimit = presetLimit
			debug.Info("Restored objective %s (max limit %d)", obj, presetLimit)
			break
		}
		fallthrough
	default:
		obj, presetLimit, known := presetByID(cfg.DefaultObjectiveID)
		if !known {
			return nil, fmt.Errorf("unknown default objective id %d", cfg.DefaultObjectiveID)
		}
		c.objective = obj
		c.maxLimit = presetLimit
		debug.Info("Using default objective %s (max limit %d)", obj, presetLimit)
	}

	motor.SetRPM(c.rpm)
	return c, nil
}

// Homed reports whether a homing cycle has completed since boot.
func (c *Controller) Homed() bool { return c.homed }

// Home drives the stage into the lower mechanical end stop to establish an
// absolute zero, optionally raises the stage, and marks the controller homed
// with position 0. The hard push deliberately ignores maxLimit: it is meant
// to end against the physical stop. The raised offset becomes the new zero
// reference.
func (c *Controller) Home(raiseSteps int64) error {
	if raiseSteps < 0 {
		return fmt.Errorf("%w: raise steps must be >= 0, got %d", ErrInvalidArgument, raiseSteps)
	}

	debug.Info("Homing: sweeping %d steps toward the end stop at %d RPM", c.cfg.HomeSweepSteps, c.homeRPM)
	c.motor.SetRPM(c.homeRPM)

	if err := c.motor.MoveSteps(-c.cfg.HomeSweepSteps); err != nil {
		c.motor.SetRPM(c.rpm)
		return fmt.Errorf("homing sweep: %w", err)
	}
	time.Sleep(c.cfg.SettleDelay)

	if raiseSteps > 0 {
		debug.Verbose("Homing: raising %d steps off the stop", raiseSteps)
		if err := c.motor.MoveSteps(raiseSteps); err != nil {
			c.motor.SetRPM(c.rpm)
			return fmt.Errorf("homing raise: %w", err)
		}
		time.Sleep(c.cfg.SettleDelay)
	}

	c.motor.SetRPM(c.rpm)

	// The raised offset is the new zero, regardless of raiseSteps.
	c.position = 0
	c.homed = true
	c.writeCounter = 0
	if err := c.store.WritePosition(0); err != nil {
		return fmt.Errorf("persist home position: %w", err)
	}

	debug.Info("Homing complete, position 0")
	return nil
}

// MoveResult describes one executed (or absorbed) bounded move.
type MoveResult struct {
	Requested int64
	Actual    int64 // steps physically moved after clamping
	Position  int64 // position after the move
	Limited   bool  // the clamp changed the requested move
}

// Move executes a bounded signed move: the target is clamped to
// [0, maxLimit], so no command can push the stage outside the travel range.
// A move fully absorbed by the clamp performs no motion and no state change.
func (c *Controller) Move(requested int64) (MoveResult, error) {
	if !c.homed {
		return MoveResult{}, ErrNotHomed
	}

	target := clamp(saturatingAdd(c.position, requested), 0, c.maxLimit)
	actual := target - c.position
	res := MoveResult{
		Requested: requested,
		Actual:    actual,
		Position:  target,
		Limited:   actual != requested,
	}

	if actual == 0 {
		if res.Limited {
			debug.Verbose("Move %d absorbed by limit at position %d", requested, c.position)
		}
		res.Position = c.position
		return res, nil
	}

	if err := c.motor.MoveSteps(actual); err != nil {
		return MoveResult{}, fmt.Errorf("move %d steps: %w", actual, err)
	}
	c.position = target
	debug.Move(requested, actual, c.position)

	// Durable writes are throttled to bound flash wear; staleness is bounded
	// to WriteInterval accepted moves.
	c.writeCounter++
	if c.writeCounter >= c.cfg.WriteInterval {
		if err := c.store.WritePosition(c.position); err != nil {
			return res, fmt.Errorf("persist position: %w", err)
		}
		c.writeCounter = 0
	}

	return res, nil
}

// StepUp moves up by the configured steps-per-press.
func (c *Controller) StepUp() (MoveResult, error) { return c.Move(c.stepsPerPress) }

// StepDown moves down by the configured steps-per-press.
func (c *Controller) StepDown() (MoveResult, error) { return c.Move(-c.stepsPerPress) }

// SetSpeed sets the operating speed in RPM.
func (c *Controller) SetSpeed(rpm int64) error {
	if rpm <= 0 {
		return fmt.Errorf("%w: speed must be > 0 RPM, got %d", ErrInvalidArgument, rpm)
	}
	c.rpm = int(rpm)
	c.motor.SetRPM(c.rpm)
	return nil
}

// SetStepsPerPress sets the magnitude used by U/D.
func (c *Controller) SetStepsPerPress(n int64) error {
	if n <= 0 {
		return fmt.Errorf("%w: steps-per-press must be > 0, got %d", ErrInvalidArgument, n)
	}
	c.stepsPerPress = n
	return nil
}

// SelectObjective selects a preset travel limit by objective identifier and
// persists the selection immediately. Unlike the position, the objective is
// restored at the next boot.
func (c *Controller) SelectObjective(id int64) error {
	obj, limit, ok := presetByID(id)
	if !ok {
		return fmt.Errorf("%w: unknown objective id %d", ErrInvalidArgument, id)
	}
	if c.homed && c.position > limit {
		return fmt.Errorf("%w: position %d is above the %s limit %d; move down first",
			ErrInvalidArgument, c.position, obj, limit)
	}
	c.objective = obj
	c.maxLimit = limit
	if err := c.store.WriteObjective(id, limit); err != nil {
		return fmt.Errorf("persist objective: %w", err)
	}
	debug.Info("Objective %s selected (max limit %d)", obj, limit)
	return nil
}

// SetCustomLimit sets the travel limit directly and marks the objective as
// Custom. Persisted immediately, like SelectObjective.
func (c *Controller) SetCustomLimit(limit int64) error {
	if limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0, got %d", ErrInvalidArgument, limit)
	}
	if c.homed && c.position > limit {
		return fmt.Errorf("%w: position %d is above the requested limit %d; move down first",
			ErrInvalidArgument, c.position, limit)
	}
	c.objective = ObjectiveCustom
	c.maxLimit = limit
	if err := c.store.WriteObjective(0, limit); err != nil {
		return fmt.Errorf("persist custom limit: %w", err)
	}
	debug.Info("Custom travel limit set: %d steps", limit)
	return nil
}

// SetPosition overwrites the position counter without moving the stage.
func (c *Controller) SetPosition(pos int64) error {
	if !c.homed {
		return ErrNotHomed
	}
	if pos < 0 || pos > c.maxLimit {
		return fmt.Errorf("%w: position must be within [0, %d], got %d", ErrInvalidArgument, c.maxLimit, pos)
	}
	c.position = pos
	return nil
}

// Persist writes the position durably right now and resets the throttle
// counter, regardless of the write interval.
func (c *Controller) Persist() error {
	if !c.homed {
		return ErrNotHomed
	}
	if err := c.store.WritePosition(c.position); err != nil {
		return fmt.Errorf("persist position: %w", err)
	}
	c.writeCounter = 0
	return nil
}

// Position returns the current position; fails before homing.
func (c *Controller) Position() (int64, error) {
	if !c.homed {
		return 0, ErrNotHomed
	}
	return c.position, nil
}

// Release de-energizes the motor coils. The position counter is retained: the
// stage holds by friction, and any slippage is the operator's risk until the
// next homing.
func (c *Controller) Release() error {
	if !c.homed {
		return ErrNotHomed
	}
	return c.motor.Release()
}

// Report is a snapshot of the controller state for the Q command.
type Report struct {
	Homed           bool
	Position        int64 // meaningless unless Homed
	Objective       Objective
	MaxLimit        int64
	StepsPerPress   int64
	RPM             int
	HomeRPM         int
	WriteInterval   int
	MovesSinceWrite int
}

// Snapshot returns the current state report.
func (c *Controller) Snapshot() Report {
	return Report{
		Homed:           c.homed,
		Position:        c.position,
		Objective:       c.objective,
		MaxLimit:        c.maxLimit,
		StepsPerPress:   c.stepsPerPress,
		RPM:             c.rpm,
		HomeRPM:         c.homeRPM,
		WriteInterval:   c.cfg.WriteInterval,
		MovesSinceWrite: c.writeCounter,
	}
}

// saturatingAdd adds two step counts without wrapping, so extreme move
// arguments clamp to the travel limits instead of inverting direction.
func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if b > 0 && sum < a {
		return math.MaxInt64
	}
	if b < 0 && sum > a {
		return math.MinInt64
	}
	return sum
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
