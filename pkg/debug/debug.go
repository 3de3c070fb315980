// Package debug configures process logging and adds category-scoped debug
// output on top of log/slog.
//
// Categories select WHAT is logged (PYSANDBOX_DEBUG, comma separated);
// the level selects HOW MUCH (PYSANDBOX_LOG_LEVEL: ERROR, WARN, INFO, DEBUG,
// TRACE). Known categories: sandbox, tools, mcp, auth, storage, config, all.
//
//	debug.Log("sandbox", "invoking", "tool", name)
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Environment variables read by Init. They take precedence over config.
const (
	EnvCategories = "PYSANDBOX_DEBUG"
	EnvLevel      = "PYSANDBOX_LOG_LEVEL"
)

// LevelTrace sits below slog.LevelDebug. Trace output includes full
// payloads.
const LevelTrace = slog.LevelDebug - 4

// enabled is written by Init at startup and only read afterwards.
var enabled = parseCategories(os.Getenv(EnvCategories))

// Init installs the default slog handler and the enabled categories.
// Environment values win over the configured ones.
func Init(configCategories, configLevel string) {
	enabled = parseCategories(firstNonEmpty(os.Getenv(EnvCategories), configCategories))
	level := ParseLevel(firstNonEmpty(os.Getenv(EnvLevel), configLevel))
	slog.SetDefault(NewLogger(os.Stderr, level))
}

// NewLogger returns a text logger writing to w at level. TRACE records are
// labelled as such instead of "DEBUG-4".
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}))
}

// Enabled reports whether category (or "all") is on.
func Enabled(category string) bool {
	return enabled["all"] || enabled[category]
}

// Log writes a debug record tagged with category when it is enabled.
func Log(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"category", category}, args...)...)
}

// Trace is Log at LevelTrace.
func Trace(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"category", category}, args...)...)
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories, sorted.
func Categories() []string {
	out := make([]string, 0, len(enabled))
	for k := range enabled {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Truncate shortens s to maxLen bytes and marks the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for cat := range strings.SplitSeq(s, ",") {
		if cat = strings.ToLower(strings.TrimSpace(cat)); cat != "" {
			m[cat] = true
		}
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
