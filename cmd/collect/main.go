// Command collect grabs a focus-bracketed snapshot triple for dataset
// building: one frame at the current position, one a jog above it and one
// the same distance below, then returns the stage to where it started.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Skilledcamman/Automated-Microscopy/internal/capture"
	"github.com/Skilledcamman/Automated-Microscopy/internal/config"
	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
	"github.com/Skilledcamman/Automated-Microscopy/internal/serialclient"
)

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	outDir := flag.String("out", "snapshots", "directory for captured frames")
	stepSize := flag.Int64("steps", 50, "bracket distance in steps")
	home := flag.Bool("home", false, "run a homing cycle before collecting")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *stepSize <= 0 {
		log.Fatalf("steps must be > 0, got %d", *stepSize)
	}

	debug.Init(cfg.Defaults.DebugLevel)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	if cfg.Serial.Mode != "port" {
		log.Fatalf("collect needs serial.mode \"port\"")
	}
	client, err := serialclient.Open(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		log.Fatalf("connect to stage failed: %v", err)
	}
	defer client.Close()

	source := capture.NewMJPEGStream(cfg.Camera.StreamURL)
	defer source.Close()

	if *home {
		debug.Info("Homing before collection")
		if err := client.Home(int64(cfg.Motion.HomeRaiseSteps)); err != nil {
			log.Fatalf("homing failed: %v", err)
		}
	}

	if err := collectTriple(ctx, client, source, *outDir, *stepSize, cfg.SnapshotDelay()); err != nil {
		log.Fatalf("collect failed: %v", err)
	}
	debug.Info("Done.")
}

// collectTriple captures the normal / above / below frames and restores the
// starting position. Jogs go through the firmware's steps-per-press so the
// bracket distance survives clamping symmetrically.
func collectTriple(ctx context.Context, client *serialclient.Client, source capture.FrameSource, outDir string, steps int64, settle time.Duration) error {
	start, err := client.Position()
	if err != nil {
		return fmt.Errorf("read start position (home the stage first?): %w", err)
	}
	debug.Info("Collecting bracket of %d steps around position %d", steps, start)

	if err := snapshot(ctx, source, outDir, "normal", start, settle); err != nil {
		return err
	}

	if err := client.SetStepsPerPress(steps); err != nil {
		return err
	}
	above, err := client.StepUp()
	if err != nil {
		return fmt.Errorf("move above: %w", err)
	}
	if err := snapshot(ctx, source, outDir, fmt.Sprintf("plus%d", steps), above, settle); err != nil {
		return err
	}

	if err := client.SetStepsPerPress(2 * steps); err != nil {
		return err
	}
	below, err := client.StepDown()
	if err != nil {
		return fmt.Errorf("move below: %w", err)
	}
	if err := snapshot(ctx, source, outDir, fmt.Sprintf("minus%d", steps), below, settle); err != nil {
		return err
	}

	// Return exactly to the start even if a jog was clamped.
	if _, err := client.MoveSigned(start - below); err != nil {
		return fmt.Errorf("return to start: %w", err)
	}
	return nil
}

func snapshot(ctx context.Context, source capture.FrameSource, outDir, label string, position int64, settle time.Duration) error {
	if settle > 0 {
		select {
		case <-time.After(settle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	frame, err := source.Grab(ctx)
	if err != nil {
		return fmt.Errorf("grab %s frame: %w", label, err)
	}

	name := fmt.Sprintf("snapshot_%s_pos%d_%s.jpg", label, position, time.Now().Format("20060102_150405"))
	path := filepath.Join(outDir, name)
	if err := os.WriteFile(path, frame.JPEG, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	debug.Info("Saved: %s", path)
	return nil
}
