package ui

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ari/llm-ledger/internal/tracker"
	"github.com/dustin/go-humanize"
)

// ANSI color codes
const (
	ColorReset   = "\033[0m"
	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
	ColorBold    = "\033[1m"
)

// FormatLatency formats milliseconds, switching to seconds at 1s
func FormatLatency(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

// FormatTokens formats token count with K/M suffix
func FormatTokens(tokens int) string {
	if tokens >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(tokens)/1_000_000)
	}
	if tokens >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1_000)
	}
	return fmt.Sprintf("%d", tokens)
}

// FormatCount formats an integer with thousands separators
func FormatCount(n int) string {
	return humanize.Comma(int64(n))
}

// FormatCost formats cost with $ prefix. Amounts under a dollar keep four
// decimals.
func FormatCost(cost float64) string {
	sign := ""
	if cost < 0 {
		sign = "-"
		cost = math.Abs(cost)
	}
	if cost > 0 && cost < 1 {
		return fmt.Sprintf("%s$%.4f", sign, cost)
	}
	whole := int64(cost)
	cents := int64(math.Round((cost - float64(whole)) * 100))
	if cents == 100 {
		whole++
		cents = 0
	}
	return fmt.Sprintf("%s$%s.%02d", sign, humanize.Comma(whole), cents)
}

// FormatPercent formats a 0..1 ratio as a percentage
func FormatPercent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatSince formats a time relative to now ("3 minutes ago")
func FormatSince(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// DisplaySummary prints a cost summary under title
func DisplaySummary(w io.Writer, title string, s tracker.CostSummary) {
	fmt.Fprintf(w, "\n%s%s%s%s\n", ColorBold, ColorMagenta, title, ColorReset)
	fmt.Fprintf(w, "  Calls:         %s (ok: %s, failed: %s)\n",
		FormatCount(s.TotalCalls),
		FormatCount(s.SuccessfulCalls),
		FormatCount(s.FailedCalls))
	fmt.Fprintf(w, "  Tokens:        %s (prompt: %s, completion: %s)\n",
		FormatTokens(s.TotalTokens),
		FormatTokens(s.TotalPromptTokens),
		FormatTokens(s.TotalCompletionTokens))
	fmt.Fprintf(w, "  Cost:          %s\n", FormatCost(s.TotalCostUSD))
	fmt.Fprintf(w, "  Total latency: %s\n", FormatLatency(s.TotalDurationMs))
}

// DisplayObservability prints one row per agent, ordered by name
func DisplayObservability(w io.Writer, report tracker.ObservabilityReport) {
	fmt.Fprintf(w, "\n%s%sPer-Agent Observability%s\n", ColorBold, ColorBlue, ColorReset)
	if len(report) == 0 {
		fmt.Fprintf(w, "  %sNo calls recorded%s\n", ColorYellow, ColorReset)
		return
	}

	fmt.Fprintf(w, "  %-20s %8s %8s %10s %10s %9s %9s %9s %9s\n",
		"Agent", "Calls", "Errors", "Tokens", "Cost", "Avg", "P50", "P95", "Max")
	fmt.Fprintf(w, "  %s\n", strings.Repeat("-", 100))

	for _, a := range report.Sorted() {
		errCol := FormatCount(a.ErrorCount)
		if a.ErrorCount > 0 {
			errCol = fmt.Sprintf("%s%8s%s", ColorRed, errCol, ColorReset)
		} else {
			errCol = fmt.Sprintf("%8s", errCol)
		}
		fmt.Fprintf(w, "  %-20s %8s %s %10s %10s %9s %9s %9s %9s\n",
			a.AgentName,
			FormatCount(a.CallCount),
			errCol,
			FormatTokens(a.TotalTokens),
			FormatCost(a.TotalCostUSD),
			FormatLatency(a.AvgLatencyMs),
			FormatLatency(a.P50LatencyMs),
			FormatLatency(a.P95LatencyMs),
			FormatLatency(a.MaxLatencyMs))
	}
}

// DisplayReport prints the session summary followed by the per-agent table
func DisplayReport(w io.Writer, s tracker.CostSummary, report tracker.ObservabilityReport) {
	fmt.Fprintln(w, "\nLLM Call Ledger")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	DisplaySummary(w, "Session", s)
	DisplayObservability(w, report)
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
}

// Error displays an error message
func Error(msg string) {
	fmt.Fprintf(os.Stderr, "%sError: %s%s\n", ColorRed, msg, ColorReset)
}

// Warn displays a warning message
func Warn(msg string) {
	fmt.Fprintf(os.Stderr, "%sWarning: %s%s\n", ColorYellow, msg, ColorReset)
}
