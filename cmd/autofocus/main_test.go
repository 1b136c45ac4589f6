package main

import (
	"testing"
)

// ---------- validateCLIOverrides ----------

func TestValidateCLIOverrides_AllZero(t *testing.T) {
	if err := validateCLIOverrides(0, 0, 0); err != nil {
		t.Errorf("all zeros should be valid (use config defaults), got: %v", err)
	}
}

func TestValidateCLIOverrides_Valid(t *testing.T) {
	cases := []struct {
		name                string
		total, chunk, raise int64
	}{
		{"total_only", 2000, 0, 0},
		{"chunk_only", 0, 50, 0},
		{"raise_only", 0, 0, 120},
		{"full_set", 2000, 50, 120},
		{"chunk_equals_total", 100, 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.total, tc.chunk, tc.raise); err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
		})
	}
}

func TestValidateCLIOverrides_Invalid(t *testing.T) {
	cases := []struct {
		name                string
		total, chunk, raise int64
	}{
		{"negative_total", -1, 0, 0},
		{"negative_chunk", 0, -1, 0},
		{"negative_raise", 0, 0, -1},
		{"chunk_exceeds_total", 50, 80, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.total, tc.chunk, tc.raise); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_Default(t *testing.T) {
	f := &webPortFlag{defaultPort: 8080}
	if f.port() != 0 {
		t.Errorf("unset flag port = %d, want 0 (disabled)", f.port())
	}
}

func TestWebPortFlag_EmptyUsesDefault(t *testing.T) {
	f := &webPortFlag{defaultPort: 8080}
	if err := f.Set(""); err != nil {
		t.Fatalf("Set(\"\"): %v", err)
	}
	if f.port() != 8080 {
		t.Errorf("port = %d, want 8080", f.port())
	}
}

func TestWebPortFlag_CustomPort(t *testing.T) {
	f := &webPortFlag{defaultPort: 8080}
	if err := f.Set("8980"); err != nil {
		t.Fatalf("Set(\"8980\"): %v", err)
	}
	if f.port() != 8980 {
		t.Errorf("port = %d, want 8980", f.port())
	}
}

func TestWebPortFlag_Invalid(t *testing.T) {
	for _, s := range []string{"abc", "-1", "0", "65536"} {
		f := &webPortFlag{defaultPort: 8080}
		if err := f.Set(s); err == nil {
			t.Errorf("Set(%q) accepted an invalid port", s)
		}
	}
}

func TestWebPortFlag_String(t *testing.T) {
	f := &webPortFlag{defaultPort: 8080}
	if f.String() != "0" {
		t.Errorf("String() = %q, want \"0\"", f.String())
	}
	f.Set("9000")
	if f.String() != "9000" {
		t.Errorf("String() = %q, want \"9000\"", f.String())
	}
}
