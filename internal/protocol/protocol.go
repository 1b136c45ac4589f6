// Package protocol defines the line-oriented serial command set shared by the
// focusd controller and its host-side clients: a single-letter case-insensitive
// opcode followed by an optional signed decimal argument (e.g. "G-250", "Z",
// "O40"). The parser produces a tagged Command and distinguishes "no argument"
// from "argument failed to parse"; an unparsable argument is always an error,
// never treated as zero.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Opcode identifies a controller command.
type Opcode byte

const (
	OpHome             Opcode = 'Z' // hard-home, optional raise steps
	OpQuery            Opcode = 'Q' // full state report
	OpHelp             Opcode = '?' // help text
	OpSetSpeed         Opcode = 'V' // set operating speed (RPM)
	OpSetStepsPerPress Opcode = 'S' // set steps-per-press magnitude
	OpSelectObjective  Opcode = 'O' // select objective preset
	OpSetMaxLimit      Opcode = 'M' // set custom max travel limit
	OpStepUp           Opcode = 'U' // step up by steps-per-press
	OpStepDown         Opcode = 'D' // step down by steps-per-press
	OpMoveSigned       Opcode = 'G' // move exactly n signed steps
	OpSetPosition      Opcode = 'H' // set position counter without moving
	OpPersist          Opcode = 'E' // force-persist position now
	OpReadPosition     Opcode = 'P' // read current position
	OpRelease          Opcode = 'R' // release motor coils
)

// Command is the parsed representation of one protocol line.
// HasArg reports whether an argument was supplied; Arg is only
// meaningful when HasArg is true.
type Command struct {
	Op     Opcode
	Arg    int64
	HasArg bool
}

type argRule int

const (
	argNone argRule = iota
	argOptional
	argRequired
)

type opSpec struct {
	arg         argRule
	usage       string
	description string
}

// specs defines argument rules and help text per opcode; the order of Opcodes
// below drives the help listing.
var specs = map[Opcode]opSpec{
	OpHome:             {argOptional, "Z[n] (n >= 0)", "Hard-home against the end stop; optionally raise n steps. Sets position to 0."},
	OpQuery:            {argNone, "Q", "Report full controller state."},
	OpHelp:             {argNone, "?", "Show this help text."},
	OpSetSpeed:         {argRequired, "V<rpm> (rpm > 0)", "Set operating speed in RPM."},
	OpSetStepsPerPress: {argRequired, "S<n> (n > 0)", "Set steps moved by U/D."},
	OpSelectObjective:  {argRequired, "O<id> (4, 10 or 40)", "Select objective preset and its travel limit."},
	OpSetMaxLimit:      {argRequired, "M<n> (n > 0)", "Set custom max travel limit."},
	OpStepUp:           {argNone, "U", "Step up by steps-per-press. Requires homing."},
	OpStepDown:         {argNone, "D", "Step down by steps-per-press. Requires homing."},
	OpMoveSigned:       {argRequired, "G<n>", "Move exactly n signed steps. Requires homing."},
	OpSetPosition:      {argRequired, "H<n> (n >= 0)", "Set position counter without moving. Requires homing."},
	OpPersist:          {argNone, "E", "Persist position to storage now. Requires homing."},
	OpReadPosition:     {argNone, "P", "Read current position. Requires homing."},
	OpRelease:          {argNone, "R", "Release motor coils. Requires homing."},
}

// Opcodes lists all opcodes in help/report order.
var Opcodes = []Opcode{
	OpHome, OpQuery, OpHelp,
	OpSetSpeed, OpSetStepsPerPress, OpSelectObjective, OpSetMaxLimit,
	OpStepUp, OpStepDown, OpMoveSigned, OpSetPosition,
	OpPersist, OpReadPosition, OpRelease,
}

// UnknownCommandError reports an unrecognized opcode.
type UnknownCommandError struct {
	Input string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Input)
}

// ArgumentError reports a missing, malformed or out-of-range argument.
type ArgumentError struct {
	Op     Opcode
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s. Usage: %s", string(e.Op), e.Reason, Usage(e.Op))
}

// Usage returns the usage string for an opcode ("" for unknown opcodes).
func Usage(op Opcode) string {
	return specs[op].usage
}

// Help returns the full help text, one command per line.
func Help() []string {
	lines := make([]string, 0, len(Opcodes)+1)
	lines = append(lines, "Commands:")
	for _, op := range Opcodes {
		s := specs[op]
		lines = append(lines, fmt.Sprintf("  %-22s %s", s.usage, s.description))
	}
	return lines
}

// Parse parses one protocol line into a Command.
// Whitespace around the line and between opcode and argument is tolerated;
// the opcode is case-insensitive. An unrecognized opcode yields
// *UnknownCommandError; a missing required argument or a malformed argument
// yields *ArgumentError.
func Parse(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{}, &UnknownCommandError{Input: line}
	}

	op := Opcode(unicode.ToUpper(rune(trimmed[0])))
	spec, ok := specs[op]
	if !ok {
		return Command{}, &UnknownCommandError{Input: trimmed}
	}

	rest := strings.TrimSpace(trimmed[1:])
	cmd := Command{Op: op}

	switch spec.arg {
	case argNone:
		if rest != "" {
			return Command{}, &ArgumentError{Op: op, Reason: "takes no argument"}
		}
	case argOptional:
		if rest == "" {
			return cmd, nil
		}
		fallthrough
	case argRequired:
		if rest == "" {
			return Command{}, &ArgumentError{Op: op, Reason: "missing argument"}
		}
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return Command{}, &ArgumentError{Op: op, Reason: fmt.Sprintf("invalid argument %q", rest)}
		}
		cmd.Arg = n
		cmd.HasArg = true
	}

	return cmd, nil
}
