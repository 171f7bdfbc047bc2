package util

import (
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateANSI(t *testing.T) {
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	tests := []struct {
		name     string
		input    string
		maxWidth int
		want     string
	}{
		{"short plain unchanged", "hello", 10, "hello"},
		{"plain truncated", "hello world", 8, "hello..."},
		{"tiny width", "hello", 3, "..."},
		{"negative width", "hello", -1, "..."},
		{"styled unchanged", red.Render("hi"), 10, red.Render("hi")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateANSI(tt.input, tt.maxWidth); got != tt.want {
				t.Errorf("TruncateANSI(%q, %d) = %q, want %q", tt.input, tt.maxWidth, got, tt.want)
			}
		})
	}

	long := red.Render("agreement across every planner finding")
	if got := TruncateANSI(long, 12); lipgloss.Width(got) > 12 {
		t.Errorf("TruncateANSI() width = %d, want <= 12", lipgloss.Width(got))
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("\n  \n  Use Redis  \nsecond"); got != "Use Redis" {
		t.Errorf("FirstLine() = %q", got)
	}
	if got := FirstLine("   "); got != "" {
		t.Errorf("FirstLine(blank) = %q", got)
	}
}

func TestFormatters(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatPercent(82.456), "82.5%"},
		{FormatPercent(0), "0.0%"},
		{FormatCost(1.5), "$1.50"},
		{FormatCost(0.0042), "$0.0042"},
		{FormatCost(0), "$0.00"},
		{FormatTokens(950), "950"},
		{FormatTokens(12_300), "12.3k"},
		{FormatTokens(2_500_000), "2.5M"},
		{FormatDuration(1500 * time.Millisecond), "2s"},
		{FormatDuration(250 * time.Millisecond), "250ms"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{50 * time.Hour, "2d ago"},
	}
	for _, tt := range tests {
		if got := FormatAge(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("FormatAge(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}
