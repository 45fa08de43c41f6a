package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ari/llm-ledger/internal/tracker"
)

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{0, "0ms"},
		{12.4, "12ms"},
		{999, "999ms"},
		{1000, "1.00s"},
		{30000, "30.00s"},
		{1250, "1.25s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatLatency(tt.input)
			if result != tt.expected {
				t.Errorf("FormatLatency(%v) = %s; want %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		input    int
		expected string
	}{
		{0, "0"},
		{500, "500"},
		{1000, "1.0K"},
		{1500, "1.5K"},
		{1000000, "1.0M"},
		{1500000, "1.5M"},
		{2500000, "2.5M"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatTokens(tt.input)
			if result != tt.expected {
				t.Errorf("FormatTokens(%d) = %s; want %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatCost(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{0, "$0.00"},
		{0.000165, "$0.0002"},
		{0.5, "$0.5000"},
		{1.0, "$1.00"},
		{10.5, "$10.50"},
		{100.25, "$100.25"},
		{1234.5, "$1,234.50"},
		{2.999, "$3.00"},
		{-0.5, "-$0.5000"},
		{-1.25, "-$1.25"},
		{-1234.5, "-$1,234.50"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatCost(tt.input)
			if result != tt.expected {
				t.Errorf("FormatCost(%v) = %s; want %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatCount(t *testing.T) {
	if got := FormatCount(1234567); got != "1,234,567" {
		t.Errorf("FormatCount(1234567) = %s; want 1,234,567", got)
	}
	if got := FormatPercent(0.125); got != "12.5%" {
		t.Errorf("FormatPercent(0.125) = %s; want 12.5%%", got)
	}
}

func TestFormatSince(t *testing.T) {
	if got := FormatSince(time.Time{}); got != "-" {
		t.Errorf("FormatSince(zero) = %s; want -", got)
	}
	if got := FormatSince(time.Now().Add(-3 * time.Hour)); got != "3 hours ago" {
		t.Errorf("FormatSince(-3h) = %s; want 3 hours ago", got)
	}
}

func TestDisplayReport(t *testing.T) {
	var buf bytes.Buffer
	summary := tracker.CostSummary{
		TotalCalls:      3,
		SuccessfulCalls: 2,
		FailedCalls:     1,
		TotalTokens:     1500,
		TotalCostUSD:    0.0125,
	}
	report := tracker.ObservabilityReport{
		"zeta":  {AgentName: "zeta", CallCount: 1, P50LatencyMs: 10},
		"alpha": {AgentName: "alpha", CallCount: 2, ErrorCount: 1, P95LatencyMs: 1500},
	}

	DisplayReport(&buf, summary, report)
	out := buf.String()

	for _, want := range []string{"Session", "3 (ok: 2, failed: 1)", "1.5K", "$0.0125", "1.50s"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "alpha") > strings.Index(out, "zeta") {
		t.Error("agents not sorted by name")
	}
}

func TestDisplayObservabilityEmpty(t *testing.T) {
	var buf bytes.Buffer
	DisplayObservability(&buf, tracker.ObservabilityReport{})
	if !strings.Contains(buf.String(), "No calls recorded") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}
