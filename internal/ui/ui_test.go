package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/chronodiff/chronodiff/internal/schema"
)

func TestColorEnabled(t *testing.T) {
	var buf bytes.Buffer
	if !ColorEnabled(ColorAlways, &buf) {
		t.Error("ColorEnabled(always) = false")
	}
	if ColorEnabled(ColorNever, &buf) {
		t.Error("ColorEnabled(never) = true")
	}
	if ColorEnabled(ColorAuto, &buf) {
		t.Error("ColorEnabled(auto) = true for a buffer, which is never a terminal")
	}
}

// TestRenderNoColor verifies that the Ascii profile strips all escapes.
func TestRenderNoColor(t *testing.T) {
	Init(ColorNever, &bytes.Buffer{})
	if got := RenderPass("ok"); got != "ok" {
		t.Errorf("RenderPass() = %q", got)
	}
	if got := RenderAdded(3); got != "+3" {
		t.Errorf("RenderAdded(3) = %q", got)
	}
	if got := RenderRemoved(2); got != "-2" {
		t.Errorf("RenderRemoved(2) = %q", got)
	}
}

func TestFormatting(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"zero time", RelativeTime(time.Time{}, now), "never"},
		{"minutes", RelativeTime(now.Add(-3*time.Minute), now), "3 minutes ago"},
		{"negative bytes", Bytes(-5), "0 B"},
		{"kibibyte", Bytes(1024), "1.0 KiB"},
		{"count", Count(12345), "12,345"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestRenderTimeline(t *testing.T) {
	Init(ColorNever, &bytes.Buffer{})

	var buf bytes.Buffer
	err := RenderTimeline(&buf, []schema.TimelineEntry{
		{RecordID: "3f9a1c0b7e21", Timestamp: time.Now(), Files: 2, LinesAdded: 5, LinesRemoved: 1, DurationMS: 70},
	})
	if err != nil {
		t.Fatalf("RenderTimeline() failed: %v", err)
	}

	out := buf.String()
	want := append(append([]string(nil), TimelineHeaders...), "3f9a1c0b7e21", "+5", "70ms")
	for _, s := range want {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
	if lines := strings.Count(strings.TrimSpace(out), "\n") + 1; lines != 2 {
		t.Errorf("output has %d lines, want 2:\n%s", lines, out)
	}
}

func TestWriteEncoders(t *testing.T) {
	v := map[string]int{"files": 2}

	var js bytes.Buffer
	if err := WriteJSON(&js, v); err != nil {
		t.Fatalf("WriteJSON() failed: %v", err)
	}
	if want := "{\n  \"files\": 2\n}\n"; js.String() != want {
		t.Errorf("WriteJSON() = %q, want %q", js.String(), want)
	}

	var ym bytes.Buffer
	if err := WriteYAML(&ym, v); err != nil {
		t.Fatalf("WriteYAML() failed: %v", err)
	}
	if ym.String() != "files: 2\n" {
		t.Errorf("WriteYAML() = %q", ym.String())
	}
}
