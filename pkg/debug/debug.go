// Package debug provides category-gated diagnostic logging for chorus.
//
// Two orthogonal knobs: CHORUS_DEBUG selects the categories that emit
// (comma-separated, "all" for everything), CHORUS_LOG_LEVEL selects the
// verbosity (ERROR, WARN, INFO, DEBUG, TRACE). Both can also come from
// the config file; the environment wins.
//
//	debug.Log("providers", "backend request", "url", url)
//	if debug.TraceIsEnabled("providers") { debug.Raw("providers", body) }
//
// Categories: providers, dispatch, streaming, credential, cache,
// fanout, auth, transport, config, all.
package debug

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// LevelTrace sits below slog.LevelDebug. At TRACE, full untruncated
// wire payloads are emitted.
const LevelTrace = slog.LevelDebug - 4

// categories is written once by Init and read everywhere after.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv("CHORUS_DEBUG"))
}

// Init applies the configured categories and log level. Environment
// variables override the config values.
func Init(configCategories, configLevel string) {
	cats := os.Getenv("CHORUS_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	categories = parseCategories(cats)

	level := os.Getenv("CHORUS_LOG_LEVEL")
	if level == "" {
		level = configLevel
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})))
}

// Enabled reports whether the category emits debug output.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message when the category is enabled.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits at TRACE level when the category is enabled.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(nil, LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE output would actually be
// emitted for the category. Guard expensive payload formatting with it.
func TraceIsEnabled(category string) bool {
	return Enabled(category) && slog.Default().Enabled(nil, LevelTrace)
}

// Raw writes plain text straight to stderr, bypassing slog formatting,
// for copy-paste-ready payload dumps. Active only at TRACE.
func Raw(category string, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(os.Stderr, text)
}

// ParseLevel converts a level name to a slog.Level. Unknown names
// fall back to INFO.
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

// Categories lists the enabled categories in sorted order.
func Categories() []string {
	out := make([]string, 0, len(categories))
	for k := range categories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Truncate caps s at maxLen characters, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
