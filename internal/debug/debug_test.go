package debug

import (
	"bytes"
	"strings"
	"testing"
)

func capture(t *testing.T, debugLevel int, fn func()) string {
	t.Helper()
	Init(debugLevel)
	var buf bytes.Buffer
	SetOutput(&buf)
	fn()
	Init(LevelOff)
	return buf.String()
}

func TestSummaryFormatsArguments(t *testing.T) {
	out := capture(t, LevelInfo, func() {
		Summary("best score %.1f at position %d (%d stops, %d skipped)",
			512.5, int64(3200), 40, 2)
	})
	if !strings.Contains(out, "best score 512.5 at position 3200 (40 stops, 2 skipped)") {
		t.Errorf("summary output = %q", out)
	}
}

func TestSummaryPlainTitle(t *testing.T) {
	out := capture(t, LevelInfo, func() {
		Summary("Homing complete")
	})
	if !strings.Contains(out, "Homing complete") {
		t.Errorf("summary output = %q", out)
	}
}

func TestLevelGating(t *testing.T) {
	out := capture(t, LevelInfo, func() {
		Live("move %d", 100)
		Verbose("clamp")
		Trace("pulse")
	})
	if out != "" {
		t.Errorf("expected no output below level, got %q", out)
	}
}

func TestOffProducesNothing(t *testing.T) {
	out := capture(t, LevelOff, func() {
		Summary("quiet %d", 1)
		Info("quiet")
	})
	if out != "" {
		t.Errorf("expected no output at level off, got %q", out)
	}
}
