package util

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateANSI(t *testing.T) {
	redStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	tests := []struct {
		name     string
		input    string
		maxWidth int
		want     string
	}{
		{"short plain string unchanged", "hello", 10, "hello"},
		{"exact width unchanged", "hello", 5, "hello"},
		{"plain string truncated", "app --open file.txt", 10, "app --o..."},
		{"tiny width returns ellipsis", "hello", 3, "..."},
		{"zero width returns ellipsis", "hello", 0, "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateANSI(tt.input, tt.maxWidth); got != tt.want {
				t.Errorf("TruncateANSI(%q, %d) = %q, want %q", tt.input, tt.maxWidth, got, tt.want)
			}
		})
	}

	t.Run("styled string respects width", func(t *testing.T) {
		got := TruncateANSI(redStyle.Render("forwarded arguments"), 8)
		if w := lipgloss.Width(got); w > 8 {
			t.Errorf("result width %d exceeds 8", w)
		}
	})

	t.Run("wide characters respect width", func(t *testing.T) {
		got := TruncateANSI("日本語のファイル名.txt", 9)
		if w := lipgloss.Width(got); w > 9 {
			t.Errorf("result width %d exceeds 9", w)
		}
	})
}

func TestFitLines(t *testing.T) {
	in := "short\nthis line is far too long\n"

	if got := FitLines(in, 0); got != in {
		t.Errorf("FitLines(width=0) = %q, want input unchanged", got)
	}

	got := FitLines(in, 10)
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("FitLines() produced %d lines, want 3", len(lines))
	}
	if lines[0] != "short" || lines[1] != "this li..." || lines[2] != "" {
		t.Errorf("FitLines() = %q", got)
	}
}
