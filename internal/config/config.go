package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// ValidateConfigPath checks a user-supplied config path before it is opened:
// it must end in .yaml, live directly under a configs/ directory, and must
// not traverse upward once cleaned. Used by the web console, where the path
// comes from a request.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path must end in .yaml, got %q", path)
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if strings.Contains(abs, "..") {
		return fmt.Errorf("config path %q escapes its directory", path)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must live under a configs/ directory", path)
	}
	return nil
}

// StepperConfig holds the focus stage motor wiring and geometry.
type StepperConfig struct {
	StepPin       int `yaml:"step_pin"`
	DirPin        int `yaml:"dir_pin"`
	EnablePin     int `yaml:"enable_pin"` // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	StepsPerRev   int `yaml:"steps_per_rev"`
	Microstepping int `yaml:"microstepping"`
}

// SerialConfig describes the command transport of the stage controller.
// Mode "port" opens a real serial device, "stdio" serves on stdin/stdout.
type SerialConfig struct {
	Mode string `yaml:"mode"` // "port" or "stdio"
	Port string `yaml:"port"` // e.g., "/dev/ttyUSB0"
	Baud int    `yaml:"baud"`
}

// MotionConfig contains the stage motion defaults.
type MotionConfig struct {
	SpeedRPM       int `yaml:"speed_rpm"`        // cruise speed
	HomeSpeedRPM   int `yaml:"home_speed_rpm"`   // speed of the homing sweep
	StepsPerPress  int `yaml:"steps_per_press"`  // jog increment for U/D
	HomeSweepSteps int `yaml:"home_sweep_steps"` // hard push into the end stop
	HomeRaiseSteps int `yaml:"home_raise_steps"` // lift off the stop after homing
	SettleDelayMs  int `yaml:"settle_delay_ms"`  // vibration settle after homing moves
}

// PersistenceConfig controls the durable state file.
type PersistenceConfig struct {
	Path          string `yaml:"path"`           // state file location
	WriteInterval int    `yaml:"write_interval"` // accepted moves between position writes
}

// CameraConfig describes the frame source used by the autofocus host.
type CameraConfig struct {
	StreamURL  string `yaml:"stream_url"`  // MJPEG stream endpoint
	SnapshotMs int    `yaml:"snapshot_ms"` // settle time before grabbing a frame
}

// SweepConfig contains the autofocus search defaults.
type SweepConfig struct {
	TotalSteps int    `yaml:"total_steps"` // full sweep travel
	StepChunk  int    `yaml:"step_chunk"`  // steps per scoring stop
	VideoPath  string `yaml:"video_path"`  // sweep recording output
	HistoryDB  string `yaml:"history_db"`  // sqlite run log, "" disables
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	ObjectiveID int  `yaml:"objective_id"` // boot objective when none is persisted (4, 10 or 40)
	DebugLevel  int  `yaml:"debug_level"`  // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO    bool `yaml:"mock_gpio"`    // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration. The daemon reads
// Stepper/Serial/Motion/Persistence; the autofocus host reads
// Serial/Camera/Sweep. Both honor Defaults.
type Config struct {
	Stepper     StepperConfig     `yaml:"stepper"`
	Serial      SerialConfig      `yaml:"serial"`
	Motion      MotionConfig      `yaml:"motion"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Camera      CameraConfig      `yaml:"camera"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s is %d bytes, max %d", path, info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if cfg.Serial.Mode == "" {
		cfg.Serial.Mode = "stdio"
	}
	if cfg.Serial.Mode != "stdio" && cfg.Serial.Mode != "port" {
		return nil, fmt.Errorf("serial.mode must be \"stdio\" or \"port\", got %q", cfg.Serial.Mode)
	}
	if cfg.Serial.Mode == "port" && cfg.Serial.Port == "" {
		return nil, fmt.Errorf("serial.port is required when serial.mode is \"port\"")
	}
	if cfg.Serial.Baud <= 0 {
		cfg.Serial.Baud = 115200
	}

	if cfg.Motion.SpeedRPM <= 0 {
		cfg.Motion.SpeedRPM = 12
	}
	if cfg.Motion.HomeSpeedRPM <= 0 {
		cfg.Motion.HomeSpeedRPM = 18
	}
	if cfg.Motion.StepsPerPress <= 0 {
		cfg.Motion.StepsPerPress = 250
	}
	if cfg.Motion.HomeSweepSteps <= 0 {
		cfg.Motion.HomeSweepSteps = 12000
	}
	if cfg.Motion.HomeRaiseSteps < 0 {
		return nil, fmt.Errorf("motion.home_raise_steps must be >= 0, got %d", cfg.Motion.HomeRaiseSteps)
	}
	if cfg.Motion.SettleDelayMs <= 0 {
		cfg.Motion.SettleDelayMs = 250
	}

	if cfg.Persistence.Path == "" {
		cfg.Persistence.Path = "focus-stage.state"
	}
	if cfg.Persistence.WriteInterval <= 0 {
		cfg.Persistence.WriteInterval = 25
	}

	if cfg.Sweep.TotalSteps <= 0 {
		cfg.Sweep.TotalSteps = 2000
	}
	if cfg.Sweep.StepChunk <= 0 {
		cfg.Sweep.StepChunk = 50
	}
	if cfg.Sweep.StepChunk > cfg.Sweep.TotalSteps {
		return nil, fmt.Errorf("sweep.step_chunk (%d) must not exceed sweep.total_steps (%d)",
			cfg.Sweep.StepChunk, cfg.Sweep.TotalSteps)
	}
	if cfg.Sweep.VideoPath == "" {
		cfg.Sweep.VideoPath = "sweep.mjpeg"
	}

	switch cfg.Defaults.ObjectiveID {
	case 0:
		cfg.Defaults.ObjectiveID = 40
	case 4, 10, 40:
	default:
		return nil, fmt.Errorf("defaults.objective_id must be 4, 10 or 40, got %d", cfg.Defaults.ObjectiveID)
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("defaults.debug_level must be 0-4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// SettleDelay returns the post-homing settle duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Motion.SettleDelayMs) * time.Millisecond
}

// SnapshotDelay returns the settle time before a frame grab.
func (c *Config) SnapshotDelay() time.Duration {
	return time.Duration(c.Camera.SnapshotMs) * time.Millisecond
}
