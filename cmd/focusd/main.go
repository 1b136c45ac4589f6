// Command focusd runs the focus stage controller: it owns the stepper
// hardware and the persisted stage state, and serves the line-oriented
// command protocol on a serial port or on stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.bug.st/serial"

	"github.com/Skilledcamman/Automated-Microscopy/internal/config"
	"github.com/Skilledcamman/Automated-Microscopy/internal/controller"
	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
	"github.com/Skilledcamman/Automated-Microscopy/internal/hw/gpio"
	"github.com/Skilledcamman/Automated-Microscopy/internal/hw/stepper"
	"github.com/Skilledcamman/Automated-Microscopy/internal/store"
)

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	mock := flag.Bool("mock", false, "force mock GPIO regardless of config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *mock {
		cfg.Defaults.MockGPIO = true
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Value("State file", cfg.Persistence.Path)

	debug.Step(1, "Opening state file")
	st, err := store.OpenFile(cfg.Persistence.Path)
	if err != nil {
		log.Fatalf("open state file failed: %v", err)
	}
	defer st.Close()

	debug.Step(2, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(3, "Initializing stepper motor")
	motor := stepper.NewStepper(gpioDriver, stepper.Config{
		StepPin:       cfg.Stepper.StepPin,
		DirPin:        cfg.Stepper.DirPin,
		EnablePin:     cfg.Stepper.EnablePin,
		StepsPerRev:   cfg.Stepper.StepsPerRev,
		Microstepping: cfg.Stepper.Microstepping,
	}, cfg.Motion.SpeedRPM)
	debug.PrintStruct("Stepper config", cfg.Stepper)

	debug.Step(4, "Creating controller")
	ctrl, err := controller.New(motor, st, controller.Config{
		StepsPerPress:      int64(cfg.Motion.StepsPerPress),
		RPM:                cfg.Motion.SpeedRPM,
		HomeRPM:            cfg.Motion.HomeSpeedRPM,
		HomeSweepSteps:     int64(cfg.Motion.HomeSweepSteps),
		SettleDelay:        cfg.SettleDelay(),
		WriteInterval:      cfg.Persistence.WriteInterval,
		DefaultObjectiveID: int64(cfg.Defaults.ObjectiveID),
	})
	if err != nil {
		log.Fatalf("create controller failed: %v", err)
	}

	rw, closeTransport, err := openTransport(cfg)
	if err != nil {
		log.Fatalf("open transport failed: %v", err)
	}
	defer closeTransport()

	debug.Section("Serving Commands")
	if err := controller.Serve(ctx, ctrl, rw); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("command loop ended: %v", err)
	}

	// A clean shutdown saves the position so diagnostics can read it; the
	// next boot still requires homing.
	if ctrl.Homed() {
		if err := ctrl.Persist(); err != nil {
			log.Printf("persist on shutdown failed: %v", err)
		}
	}
}

// openTransport returns the command transport per config: a real serial
// port, or stdin/stdout for bench use.
func openTransport(cfg *config.Config) (io.ReadWriter, func(), error) {
	if cfg.Serial.Mode == "stdio" {
		debug.Value("Transport", "stdio")
		rw := struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}
		return rw, func() {}, nil
	}

	port, err := serial.Open(cfg.Serial.Port, &serial.Mode{BaudRate: cfg.Serial.Baud})
	if err != nil {
		return nil, nil, err
	}
	debug.Value("Transport", cfg.Serial.Port)
	debug.Value("Baud rate", cfg.Serial.Baud)
	return port, func() { port.Close() }, nil
}
