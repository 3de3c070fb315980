package debug

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"strings"
	"testing"
)

func withCategories(t *testing.T, s string) {
	t.Helper()
	orig := enabled
	enabled = parseCategories(s)
	t.Cleanup(func() { enabled = orig })
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", []string{}},
		{"single", "sandbox", []string{"sandbox"}},
		{"multiple", "sandbox,mcp", []string{"mcp", "sandbox"}},
		{"spaces and case", " Sandbox , MCP ", []string{"mcp", "sandbox"}},
		{"empty segments", "sandbox,,auth,", []string{"auth", "sandbox"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withCategories(t, tt.input)
			if got := Categories(); !slices.Equal(got, tt.want) {
				t.Errorf("Categories() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		categories string
		check      string
		want       bool
	}{
		{"sandbox,storage", "sandbox", true},
		{"sandbox,storage", "storage", true},
		{"sandbox,storage", "mcp", false},
		{"sandbox,storage", "all", false},
		{"all", "anything", true},
		{"", "sandbox", false},
	}

	for _, tt := range tests {
		t.Run(tt.categories+"/"+tt.check, func(t *testing.T) {
			withCategories(t, tt.categories)
			if got := Enabled(tt.check); got != tt.want {
				t.Errorf("Enabled(%q) = %v, want %v", tt.check, got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestInit_EnvOverridesConfig(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })
	withCategories(t, "")

	t.Setenv(EnvCategories, "mcp")
	t.Setenv(EnvLevel, "DEBUG")
	Init("sandbox", "ERROR")

	if !Enabled("mcp") || Enabled("sandbox") {
		t.Errorf("categories = %v, want [mcp]", Categories())
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected DEBUG to be enabled from the environment")
	}

	t.Setenv(EnvCategories, "")
	t.Setenv(EnvLevel, "")
	Init("sandbox", "ERROR")

	if !Enabled("sandbox") {
		t.Errorf("categories = %v, want [sandbox]", Categories())
	}
	if slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("expected WARN to be filtered at ERROR level")
	}
}

func TestLog(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	var buf bytes.Buffer
	slog.SetDefault(NewLogger(&buf, LevelTrace))
	withCategories(t, "sandbox")

	Log("sandbox", "invoking", "tool", "executeCode")
	Log("mcp", "hidden")
	Trace("sandbox", "payload", "body", "{}")

	out := buf.String()
	if !strings.Contains(out, "category=sandbox") || !strings.Contains(out, "tool=executeCode") {
		t.Errorf("missing debug record: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("disabled category was logged: %s", out)
	}
	if !strings.Contains(out, "level=TRACE") {
		t.Errorf("trace level not labelled: %s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("print(1)", 20); got != "print(1)" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("import numpy as np", 6); got != "import..." {
		t.Errorf("Truncate long = %q", got)
	}
}
