// Package sweep implements the autofocus search: drive the stage through
// its travel in fixed chunks, score a frame at every stop, and return to
// the sharpest position.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Skilledcamman/Automated-Microscopy/internal/capture"
	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
	"github.com/Skilledcamman/Automated-Microscopy/internal/focus"
)

// ErrNoFrames is returned when every capture in a sweep failed.
var ErrNoFrames = errors.New("no frames scored during sweep")

// Stage is the subset of the controller client the sweep needs.
type Stage interface {
	Home(raiseSteps int64) error
	MoveSigned(steps int64) (int64, error)
	Position() (int64, error)
}

// FrameSink receives the JPEG bytes of every scored frame. The video writer
// implements it.
type FrameSink interface {
	WriteFrame(jpegData []byte) error
}

// Record is one scored stop of the sweep.
type Record struct {
	Requested int64   // cumulative requested travel from the homed zero
	Actual    int64   // confirmed absolute position read back from the stage
	Score     float64 // focus metric of the frame grabbed there
}

// Config tunes one sweep.
type Config struct {
	TotalSteps int64 // requested travel of the whole sweep
	StepChunk  int64 // travel between scoring stops
	RaiseSteps int64 // lift off the end stop during homing
	Settle     time.Duration
}

// Summary aggregates the scores of a sweep.
type Summary struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// Result is the outcome of a completed sweep.
type Result struct {
	Records       []Record
	BestIndex     int
	BestPosition  int64 // confirmed position of the sharpest stop
	FinalPosition int64 // confirmed position after the return move
	Skipped       int   // stops whose capture failed
	Scores        Summary
}

// Engine runs autofocus sweeps. Metric defaults to the Tenengrad score.
type Engine struct {
	stage  Stage
	source capture.FrameSource
	sink   FrameSink // optional
	Metric func(image.Image) float64
}

// New returns an engine; sink may be nil to skip recording.
func New(stage Stage, source capture.FrameSource, sink FrameSink) *Engine {
	return &Engine{stage: stage, source: source, sink: sink, Metric: focus.Tenengrad}
}

// Run homes the stage, sweeps upward scoring a frame after every chunk, and
// moves back to the sharpest position. The requested schedule always
// advances by full chunks until the cumulative request reaches TotalSteps;
// the stage may clip moves at its travel limit, which is why the return
// move is computed from confirmed positions, not from the schedule.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.TotalSteps <= 0 || cfg.StepChunk <= 0 {
		return nil, fmt.Errorf("invalid sweep: total %d steps in chunks of %d", cfg.TotalSteps, cfg.StepChunk)
	}

	debug.Info("Sweep: homing, then %d steps in chunks of %d", cfg.TotalSteps, cfg.StepChunk)
	if err := e.stage.Home(cfg.RaiseSteps); err != nil {
		return nil, fmt.Errorf("home before sweep: %w", err)
	}

	res := &Result{}
	var cumulative int64
	for cumulative < cfg.TotalSteps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pos, err := e.stage.MoveSigned(cfg.StepChunk)
		if err != nil {
			return nil, fmt.Errorf("sweep move at %d: %w", cumulative, err)
		}
		cumulative += cfg.StepChunk

		if cfg.Settle > 0 {
			select {
			case <-time.After(cfg.Settle):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		frame, err := e.source.Grab(ctx)
		if err != nil {
			// A missed frame is not fatal: the stop goes unscored and the
			// schedule keeps advancing.
			debug.Error(fmt.Errorf("capture at %d: %w", pos, err))
			res.Skipped++
			continue
		}

		score := e.Metric(frame.Image)
		res.Records = append(res.Records, Record{Requested: cumulative, Actual: pos, Score: score})
		debug.Frame(len(res.Records)-1, cumulative, score)

		if e.sink != nil {
			if err := e.sink.WriteFrame(frame.JPEG); err != nil {
				return nil, fmt.Errorf("record frame at %d: %w", pos, err)
			}
		}
	}

	if len(res.Records) == 0 {
		return nil, ErrNoFrames
	}

	scores := make([]float64, len(res.Records))
	for i, r := range res.Records {
		scores[i] = r.Score
	}
	// MaxIdx returns the first index on ties, so equal peaks resolve to the
	// earliest (lowest) position.
	res.BestIndex = floats.MaxIdx(scores)
	res.BestPosition = res.Records[res.BestIndex].Actual
	res.Scores = Summary{
		Mean: stat.Mean(scores, nil),
		Min:  floats.Min(scores),
		Max:  floats.Max(scores),
	}
	if len(scores) > 1 {
		res.Scores.Std = stat.StdDev(scores, nil)
	}

	final, err := e.stage.Position()
	if err != nil {
		return nil, fmt.Errorf("read position after sweep: %w", err)
	}

	delta := res.BestPosition - final
	if delta != 0 {
		confirmed, err := e.stage.MoveSigned(delta)
		if err != nil {
			return nil, fmt.Errorf("return to best position: %w", err)
		}
		final = confirmed
	}
	res.FinalPosition = final

	if res.FinalPosition != res.BestPosition {
		return res, fmt.Errorf("return move ended at %d, want %d", res.FinalPosition, res.BestPosition)
	}

	debug.Summary("Sweep done: best score %.1f at position %d (%d stops, %d skipped)",
		res.Records[res.BestIndex].Score, res.BestPosition, len(res.Records), res.Skipped)
	return res, nil
}
