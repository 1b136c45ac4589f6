// Package serialclient drives the focus stage controller over its
// line-oriented serial protocol from the host side.
package serialclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
)

// ErrTimeout is returned when the controller does not answer in time.
// The protocol has no retries: a timeout means the link or the firmware
// is wedged and the caller should abort.
var ErrTimeout = errors.New("timed out waiting for controller response")

// ErrCommandFailed wraps an ERROR advisory from the controller.
var ErrCommandFailed = errors.New("controller rejected command")

// Client talks to one controller. The protocol is half duplex: one command
// is sent, its advisory response lines are read to completion, then the
// next command may go out. Client methods must not be called concurrently.
type Client struct {
	rw    io.ReadWriteCloser
	lines chan string
	rerr  error // read loop exit cause, valid once lines is closed

	// Per-command response deadlines. Moves and homing block for the
	// physical motion, so they get longer budgets.
	Timeout     time.Duration
	MoveTimeout time.Duration
	HomeTimeout time.Duration
}

// Open connects to a controller on a serial device.
func Open(device string, baud int) (*Client, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	debug.Info("Opened serial port %s at %d baud", device, baud)
	return New(port), nil
}

// New wraps an already-open transport (a serial port, or a pipe in tests).
func New(rw io.ReadWriteCloser) *Client {
	c := &Client{
		rw:          rw,
		lines:       make(chan string, 64),
		Timeout:     5 * time.Second,
		MoveTimeout: 60 * time.Second,
		HomeTimeout: 90 * time.Second,
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	scan := bufio.NewScanner(c.rw)
	for scan.Scan() {
		line := strings.TrimRight(scan.Text(), "\r")
		debug.Serial("<-", line)
		c.lines <- line
	}
	c.rerr = scan.Err()
	close(c.lines)
}

// Close tears down the transport; any blocked command fails.
func (c *Client) Close() error {
	return c.rw.Close()
}

func (c *Client) send(cmd string) error {
	debug.Serial("->", cmd)
	if _, err := fmt.Fprintf(c.rw, "%s\n", cmd); err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	return nil
}

// collect reads response lines until done reports the terminal line, the
// controller reports an error, or the deadline expires. All lines read are
// returned either way.
func (c *Client) collect(timeout time.Duration, done func(string) bool) ([]string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var got []string
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				if c.rerr != nil {
					return got, fmt.Errorf("controller stream closed: %w", c.rerr)
				}
				return got, fmt.Errorf("controller stream closed: %w", io.EOF)
			}
			got = append(got, line)
			if msg, isErr := strings.CutPrefix(line, "ERROR: "); isErr {
				return got, fmt.Errorf("%w: %s", ErrCommandFailed, msg)
			}
			if done(line) {
				return got, nil
			}
		case <-timer.C:
			return got, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
	}
}

// exec sends one command and waits for its terminal response line.
func (c *Client) exec(cmd string, timeout time.Duration, done func(string) bool) ([]string, error) {
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	lines, err := c.collect(timeout, done)
	if err != nil {
		return lines, fmt.Errorf("%s: %w", cmd, err)
	}
	return lines, nil
}

func contains(sub string) func(string) bool {
	return func(line string) bool { return strings.Contains(line, sub) }
}

// parsePosition extracts the step count from a "Position: <n>" line.
func parsePosition(line string) (int64, error) {
	rest, ok := strings.CutPrefix(line, "Position: ")
	if !ok {
		return 0, fmt.Errorf("not a position line: %q", line)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse position from %q: %w", line, err)
	}
	return n, nil
}

// lastPosition finds the final "Position: <n>" line in a response.
func lastPosition(lines []string) (int64, error) {
	for i := len(lines) - 1; i >= 0; i-- {
		if pos, err := parsePosition(lines[i]); err == nil {
			return pos, nil
		}
	}
	return 0, fmt.Errorf("no position in response %q", lines)
}

// Home runs a homing cycle with an optional raise and waits for completion.
func (c *Client) Home(raiseSteps int64) error {
	cmd := "Z"
	if raiseSteps > 0 {
		cmd = fmt.Sprintf("Z%d", raiseSteps)
	}
	_, err := c.exec(cmd, c.HomeTimeout, contains("Homing complete."))
	return err
}

// MoveSigned moves by the given signed step count and returns the confirmed
// position reported by the controller. The controller clamps the move at
// the travel limits, so the confirmed position is authoritative.
func (c *Client) MoveSigned(steps int64) (int64, error) {
	lines, err := c.exec(fmt.Sprintf("G%d", steps), c.MoveTimeout, contains("Position: "))
	if err != nil {
		return 0, err
	}
	return lastPosition(lines)
}

// StepUp jogs up by the controller's steps-per-press.
func (c *Client) StepUp() (int64, error) {
	lines, err := c.exec("U", c.MoveTimeout, contains("Position: "))
	if err != nil {
		return 0, err
	}
	return lastPosition(lines)
}

// StepDown jogs down by the controller's steps-per-press.
func (c *Client) StepDown() (int64, error) {
	lines, err := c.exec("D", c.MoveTimeout, contains("Position: "))
	if err != nil {
		return 0, err
	}
	return lastPosition(lines)
}

// Position reads the current position.
func (c *Client) Position() (int64, error) {
	lines, err := c.exec("P", c.Timeout, contains("Position: "))
	if err != nil {
		return 0, err
	}
	return lastPosition(lines)
}

// SetPosition redefines the current position without moving.
func (c *Client) SetPosition(pos int64) error {
	_, err := c.exec(fmt.Sprintf("H%d", pos), c.Timeout, contains("Position: "))
	return err
}

// SetSpeed sets the cruise speed in RPM.
func (c *Client) SetSpeed(rpm int64) error {
	_, err := c.exec(fmt.Sprintf("V%d", rpm), c.Timeout, contains("Speed set"))
	return err
}

// SetStepsPerPress sets the U/D jog increment.
func (c *Client) SetStepsPerPress(steps int64) error {
	_, err := c.exec(fmt.Sprintf("S%d", steps), c.Timeout, contains("Steps-per-press"))
	return err
}

// SelectObjective activates an objective preset and returns its max limit.
func (c *Client) SelectObjective(id int64) (int64, error) {
	lines, err := c.exec(fmt.Sprintf("O%d", id), c.Timeout, contains("Max limit: "))
	if err != nil {
		return 0, err
	}
	return parseMaxLimit(lines)
}

// SetCustomLimit sets a custom travel limit and returns it as confirmed.
func (c *Client) SetCustomLimit(limit int64) (int64, error) {
	lines, err := c.exec(fmt.Sprintf("M%d", limit), c.Timeout, contains("Max limit: "))
	if err != nil {
		return 0, err
	}
	return parseMaxLimit(lines)
}

func parseMaxLimit(lines []string) (int64, error) {
	for i := len(lines) - 1; i >= 0; i-- {
		if idx := strings.Index(lines[i], "Max limit: "); idx >= 0 {
			rest := strings.TrimSpace(lines[i][idx+len("Max limit: "):])
			n, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse max limit from %q: %w", lines[i], err)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("no max limit in response %q", lines)
}

// Persist forces an immediate durable write of the position.
func (c *Client) Persist() error {
	_, err := c.exec("E", c.Timeout, contains("Position saved."))
	return err
}

// Release de-energizes the motor coils.
func (c *Client) Release() error {
	_, err := c.exec("R", c.Timeout, contains("Coils released."))
	return err
}

// Query returns the controller's full status report lines.
func (c *Client) Query() ([]string, error) {
	return c.exec("Q", c.Timeout, contains("Write interval"))
}

// Raw sends an arbitrary command line and returns whatever response lines
// arrive before the link goes idle. Used by the interactive console, where
// the terminal line of a response is not known up front.
func (c *Client) Raw(cmd string, idle time.Duration) ([]string, error) {
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	if idle <= 0 {
		idle = 300 * time.Millisecond
	}

	var got []string
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return got, nil
			}
			got = append(got, line)
		case <-time.After(idle):
			return got, nil
		}
	}
}
