// Command autofocus drives the focus stage through a scored sweep from the
// host side: it homes the stage over the serial link, scores camera frames
// at every stop, records the sweep video, and leaves the stage at the
// sharpest position. With -web it serves a dashboard instead of running
// once.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/Skilledcamman/Automated-Microscopy/internal/capture"
	"github.com/Skilledcamman/Automated-Microscopy/internal/config"
	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
	"github.com/Skilledcamman/Automated-Microscopy/internal/history"
	"github.com/Skilledcamman/Automated-Microscopy/internal/serialclient"
	"github.com/Skilledcamman/Automated-Microscopy/internal/sweep"
	"github.com/Skilledcamman/Automated-Microscopy/internal/video"
	"github.com/Skilledcamman/Automated-Microscopy/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	totalSteps := flag.Int64("total_steps", 0, "override sweep travel in steps")
	stepChunk := flag.Int64("step_chunk", 0, "override steps between scoring stops")
	raiseSteps := flag.Int64("raise_steps", 0, "override homing raise in steps")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := validateCLIOverrides(*totalSteps, *stepChunk, *raiseSteps); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Step(1, "Connecting to focus stage")
	if cfg.Serial.Mode != "port" {
		log.Fatalf("autofocus needs serial.mode \"port\" (the stdio transport is for bench use of focusd)")
	}
	client, err := serialclient.Open(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		log.Fatalf("connect to stage failed: %v", err)
	}
	defer client.Close()

	debug.Step(2, "Opening camera stream")
	debug.Value("Stream URL", cfg.Camera.StreamURL)
	source := capture.NewMJPEGStream(cfg.Camera.StreamURL)
	defer source.Close()

	var runs *history.DB
	if cfg.Sweep.HistoryDB != "" {
		debug.Step(3, "Opening run history")
		runs, err = history.Open(cfg.Sweep.HistoryDB)
		if err != nil {
			log.Fatalf("open run history failed: %v", err)
		}
		defer runs.Close()
	}

	runAutofocus := func(ctx context.Context, overrides web.Overrides) (*sweep.Result, error) {
		return executeSweep(ctx, cfg, client, source, runs, overrides)
	}

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		handlers := web.NewHandlers(
			broadcaster,
			runAutofocus,
			func(cmd string) ([]string, error) { return client.Raw(cmd, 0) },
			runLister(runs),
			web.FormConfig{
				TotalSteps: int64(cfg.Sweep.TotalSteps),
				StepChunk:  int64(cfg.Sweep.StepChunk),
				RaiseSteps: int64(cfg.Motion.HomeRaiseSteps),
			},
			nil,
		)
		srv := web.NewServer(webAddr, handlers)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	res, err := runAutofocus(ctx, web.Overrides{
		TotalSteps: *totalSteps,
		StepChunk:  *stepChunk,
		RaiseSteps: *raiseSteps,
	})
	if err != nil {
		log.Fatalf("autofocus failed: %v", err)
	}

	debug.Section("Autofocus Complete")
	debug.Value("Best position", res.BestPosition)
	debug.Value("Best score", fmt.Sprintf("%.1f", res.Records[res.BestIndex].Score))
	debug.Value("Stops scored", len(res.Records))
	debug.Value("Stops skipped", res.Skipped)
	debug.Value("Score mean", fmt.Sprintf("%.1f", res.Scores.Mean))
}

// executeSweep runs one sweep with overrides applied over the config
// defaults, recording the video and the run history.
func executeSweep(
	ctx context.Context,
	cfg *config.Config,
	client *serialclient.Client,
	source capture.FrameSource,
	runs *history.DB,
	overrides web.Overrides,
) (*sweep.Result, error) {
	sweepCfg := sweep.Config{
		TotalSteps: int64(cfg.Sweep.TotalSteps),
		StepChunk:  int64(cfg.Sweep.StepChunk),
		RaiseSteps: int64(cfg.Motion.HomeRaiseSteps),
		Settle:     cfg.SnapshotDelay(),
	}
	if overrides.TotalSteps > 0 {
		sweepCfg.TotalSteps = overrides.TotalSteps
	}
	if overrides.StepChunk > 0 {
		sweepCfg.StepChunk = overrides.StepChunk
	}
	if overrides.RaiseSteps > 0 {
		sweepCfg.RaiseSteps = overrides.RaiseSteps
	}

	vid, err := video.Create(cfg.Sweep.VideoPath)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	engine := sweep.New(client, source, vid)
	res, err := engine.Run(ctx, sweepCfg)
	if closeErr := vid.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}

	if runs != nil {
		if _, err := runs.RecordRun(ctx, started, sweepCfg, res, cfg.Sweep.VideoPath); err != nil {
			// The stage is already in focus; losing the log entry is not
			// worth failing the run over.
			debug.Error(fmt.Errorf("record run: %w", err))
		}
	}
	return res, nil
}

// validateCLIOverrides checks that non-zero CLI overrides are usable.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(total, chunk, raise int64) error {
	if total < 0 {
		return fmt.Errorf("total_steps must be > 0, got %d", total)
	}
	if chunk < 0 {
		return fmt.Errorf("step_chunk must be > 0, got %d", chunk)
	}
	if total > 0 && chunk > total {
		return fmt.Errorf("step_chunk %d exceeds total_steps %d", chunk, total)
	}
	if raise < 0 {
		return fmt.Errorf("raise_steps must be >= 0, got %d", raise)
	}
	return nil
}

// runLister adapts a possibly-nil history DB to the handler interface
// without producing a typed-nil interface value.
func runLister(runs *history.DB) web.RunLister {
	if runs == nil {
		return nil
	}
	return runs
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
