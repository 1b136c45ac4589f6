package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
	"github.com/Skilledcamman/Automated-Microscopy/internal/protocol"
)

// Serve runs the controller's command loop over a line-oriented transport
// (serial port, stdio, or an in-memory pipe in tests). It reads one full line
// at a time and executes the command to completion, including any blocking
// physical motion, before reading the next line. There is no queueing and no
// preemption: while the stage moves, no new command is accepted.
//
// All failures of individual commands are advisory text on the same channel;
// the loop itself only returns on transport failure or context cancellation.
func Serve(ctx context.Context, c *Controller, rw io.ReadWriter) error {
	// A blocked read holds the loop open past cancellation, so close the
	// transport when the context ends. Transports without a Close (stdio
	// composites in tests) only notice cancellation after the next line.
	if closer, ok := rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = closer.Close() })
		defer stop()
	}

	scan := bufio.NewScanner(rw)
	out := bufio.NewWriter(rw)

	for scan.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scan.Text()
		debug.Serial("<-", line)

		for _, reply := range Dispatch(c, line) {
			debug.Serial("->", reply)
			if _, err := fmt.Fprintf(out, "%s\r\n", reply); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("flush response: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("read command: %w", err)
	}
	return nil
}

// Dispatch parses and executes one command line and returns the response
// lines. It never mutates state on a parse or validation failure.
func Dispatch(c *Controller, line string) []string {
	cmd, err := protocol.Parse(line)
	if err != nil {
		var unknownErr *protocol.UnknownCommandError
		if errors.As(err, &unknownErr) {
			return append([]string{unknownErr.Error()}, protocol.Help()...)
		}
		return []string{"ERROR: " + err.Error()}
	}

	switch cmd.Op {
	case protocol.OpHome:
		var raise int64
		if cmd.HasArg {
			raise = cmd.Arg
		}
		if err := c.Home(raise); err != nil {
			return errorLines(err)
		}
		return []string{"Homing complete. Position: 0"}

	case protocol.OpQuery:
		return reportLines(c.Snapshot())

	case protocol.OpHelp:
		return protocol.Help()

	case protocol.OpSetSpeed:
		if err := c.SetSpeed(cmd.Arg); err != nil {
			return errorLines(err)
		}
		return []string{fmt.Sprintf("Speed set to %d RPM", cmd.Arg)}

	case protocol.OpSetStepsPerPress:
		if err := c.SetStepsPerPress(cmd.Arg); err != nil {
			return errorLines(err)
		}
		return []string{fmt.Sprintf("Steps-per-press set to %d", cmd.Arg)}

	case protocol.OpSelectObjective:
		if err := c.SelectObjective(cmd.Arg); err != nil {
			return errorLines(err)
		}
		r := c.Snapshot()
		return []string{fmt.Sprintf("Objective %s selected. Max limit: %d", r.Objective, r.MaxLimit)}

	case protocol.OpSetMaxLimit:
		if err := c.SetCustomLimit(cmd.Arg); err != nil {
			return errorLines(err)
		}
		return []string{fmt.Sprintf("Custom limit set. Max limit: %d", cmd.Arg)}

	case protocol.OpStepUp:
		res, err := c.StepUp()
		if err != nil {
			return errorLines(err)
		}
		return moveLines(res)

	case protocol.OpStepDown:
		res, err := c.StepDown()
		if err != nil {
			return errorLines(err)
		}
		return moveLines(res)

	case protocol.OpMoveSigned:
		res, err := c.Move(cmd.Arg)
		if err != nil {
			return errorLines(err)
		}
		return moveLines(res)

	case protocol.OpSetPosition:
		if err := c.SetPosition(cmd.Arg); err != nil {
			return errorLines(err)
		}
		return []string{fmt.Sprintf("Position: %d", cmd.Arg)}

	case protocol.OpPersist:
		if err := c.Persist(); err != nil {
			return errorLines(err)
		}
		return []string{"Position saved."}

	case protocol.OpReadPosition:
		pos, err := c.Position()
		if err != nil {
			return errorLines(err)
		}
		return []string{fmt.Sprintf("Position: %d", pos)}

	case protocol.OpRelease:
		if err := c.Release(); err != nil {
			return errorLines(err)
		}
		return []string{"Coils released."}
	}

	// Unreachable while protocol.Parse and this switch cover the same set.
	return []string{fmt.Sprintf("unknown command %q", line)}
}

func moveLines(res MoveResult) []string {
	switch {
	case res.Limited && res.Actual == 0:
		return []string{
			"Limit reached, no movement.",
			fmt.Sprintf("Position: %d", res.Position),
		}
	case res.Limited:
		return []string{
			fmt.Sprintf("Limit reached, moved %d of %d steps.", res.Actual, res.Requested),
			fmt.Sprintf("Position: %d", res.Position),
		}
	default:
		return []string{
			fmt.Sprintf("Moved %d steps.", res.Actual),
			fmt.Sprintf("Position: %d", res.Position),
		}
	}
}

func reportLines(r Report) []string {
	position := "undefined"
	status := "not homed"
	if r.Homed {
		position = fmt.Sprintf("%d", r.Position)
		status = "homed"
	}
	return []string{
		"Status: " + status,
		"Position: " + position,
		"Objective: " + r.Objective.String(),
		fmt.Sprintf("Max limit: %d", r.MaxLimit),
		fmt.Sprintf("Steps-per-press: %d", r.StepsPerPress),
		fmt.Sprintf("Speed: %d RPM", r.RPM),
		fmt.Sprintf("Home speed: %d RPM", r.HomeRPM),
		fmt.Sprintf("Write interval: %d moves (%d since last write)", r.WriteInterval, r.MovesSinceWrite),
	}
}

func errorLines(err error) []string {
	if errors.Is(err, ErrNotHomed) {
		return []string{"ERROR: not homed. Send Z to home first."}
	}
	return []string{"ERROR: " + err.Error()}
}
