package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	// Create a real configs/ directory so filepath.Abs resolves correctly.
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Should not panic; error or success is OS-dependent, but must not crash.
	_ = ValidateConfigPath(long)
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
stepper:
  step_pin: 17
  dir_pin: 27
  enable_pin: 5
  steps_per_rev: 200
  microstepping: 16
serial:
  mode: "port"
  port: "/dev/ttyUSB0"
  baud: 115200
motion:
  speed_rpm: 12
  home_speed_rpm: 18
  steps_per_press: 250
  home_sweep_steps: 12000
  home_raise_steps: 120
  settle_delay_ms: 250
persistence:
  path: "/var/lib/focusd/stage.state"
  write_interval: 25
camera:
  stream_url: "http://127.0.0.1:8080/stream"
  snapshot_ms: 150
sweep:
  total_steps: 2000
  step_chunk: 50
  video_path: "sweep.mjpeg"
  history_db: "runs.db"
defaults:
  objective_id: 40
  debug_level: 0
  mock_gpio: true
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stepper.StepPin != 17 || cfg.Stepper.StepsPerRev != 200 || cfg.Stepper.Microstepping != 16 {
		t.Errorf("stepper = %+v", cfg.Stepper)
	}
	if cfg.Serial.Mode != "port" || cfg.Serial.Port != "/dev/ttyUSB0" || cfg.Serial.Baud != 115200 {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if cfg.Motion.HomeRaiseSteps != 120 {
		t.Errorf("motion.home_raise_steps = %d, want 120", cfg.Motion.HomeRaiseSteps)
	}
	if cfg.Persistence.Path != "/var/lib/focusd/stage.state" || cfg.Persistence.WriteInterval != 25 {
		t.Errorf("persistence = %+v", cfg.Persistence)
	}
	if cfg.Camera.StreamURL != "http://127.0.0.1:8080/stream" {
		t.Errorf("camera.stream_url = %q", cfg.Camera.StreamURL)
	}
	if cfg.Sweep.TotalSteps != 2000 || cfg.Sweep.StepChunk != 50 {
		t.Errorf("sweep = %+v", cfg.Sweep)
	}
	if cfg.Defaults.ObjectiveID != 40 || !cfg.Defaults.MockGPIO {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Serial.Mode != "stdio" {
		t.Errorf("serial.mode default = %q, want stdio", cfg.Serial.Mode)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("serial.baud default = %d, want 115200", cfg.Serial.Baud)
	}
	if cfg.Motion.SpeedRPM != 12 || cfg.Motion.HomeSpeedRPM != 18 {
		t.Errorf("motion speed defaults = %d/%d, want 12/18", cfg.Motion.SpeedRPM, cfg.Motion.HomeSpeedRPM)
	}
	if cfg.Motion.StepsPerPress != 250 {
		t.Errorf("steps_per_press default = %d, want 250", cfg.Motion.StepsPerPress)
	}
	if cfg.Motion.HomeSweepSteps != 12000 {
		t.Errorf("home_sweep_steps default = %d, want 12000", cfg.Motion.HomeSweepSteps)
	}
	if cfg.Motion.SettleDelayMs != 250 {
		t.Errorf("settle_delay_ms default = %d, want 250", cfg.Motion.SettleDelayMs)
	}
	if cfg.Persistence.WriteInterval != 25 {
		t.Errorf("write_interval default = %d, want 25", cfg.Persistence.WriteInterval)
	}
	if cfg.Sweep.TotalSteps != 2000 || cfg.Sweep.StepChunk != 50 {
		t.Errorf("sweep defaults = %+v", cfg.Sweep)
	}
	if cfg.Defaults.ObjectiveID != 40 {
		t.Errorf("objective_id default = %d, want 40", cfg.Defaults.ObjectiveID)
	}
}

func TestLoad_PortModeRequiresPort(t *testing.T) {
	yaml := `
serial:
  mode: "port"
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for port mode without a port, got nil")
	}
}

func TestLoad_UnknownSerialMode(t *testing.T) {
	yaml := `
serial:
  mode: "telepathy"
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for unknown serial mode, got nil")
	}
}

func TestLoad_NegativeRaiseSteps(t *testing.T) {
	yaml := `
motion:
  home_raise_steps: -5
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for negative home_raise_steps, got nil")
	}
}

func TestLoad_ChunkLargerThanTotal(t *testing.T) {
	yaml := `
sweep:
  total_steps: 50
  step_chunk: 80
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for step_chunk > total_steps, got nil")
	}
}

func TestLoad_BadObjectiveID(t *testing.T) {
	yaml := `
defaults:
  objective_id: 7
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for objective_id 7, got nil")
	}
}

func TestLoad_BadDebugLevel(t *testing.T) {
	yaml := `
defaults:
  debug_level: 9
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for debug_level 9, got nil")
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "{{{{invalid yaml!!!!")); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
unknown_section:
  foo: bar
`
	if _, err := Load(writeConfig(t, yaml)); err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "nonexistent.yaml")); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

// ---------- Helper methods ----------

func TestConfig_SettleDelay(t *testing.T) {
	cfg := &Config{Motion: MotionConfig{SettleDelayMs: 250}}
	if got, want := cfg.SettleDelay(), 250*time.Millisecond; got != want {
		t.Errorf("SettleDelay() = %v, want %v", got, want)
	}
}

func TestConfig_SnapshotDelay(t *testing.T) {
	cfg := &Config{Camera: CameraConfig{SnapshotMs: 150}}
	if got, want := cfg.SnapshotDelay(), 150*time.Millisecond; got != want {
		t.Errorf("SnapshotDelay() = %v, want %v", got, want)
	}
}
