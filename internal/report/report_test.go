package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"typewitness/internal/analysis"
	"typewitness/internal/playback"
	"typewitness/internal/recorder"
)

func sampleAnalysis() *analysis.SessionAnalysis {
	events := []recorder.Event{
		{ID: "a", Type: recorder.TypeTextInput, Source: recorder.SourceDOM, Timestamp: 0,
			Meta: recorder.Meta{HTML: "<p>H</p>", DOMInput: &recorder.DOMInput{Data: "H"}}},
		{ID: "c", Type: recorder.TypeCopy, Timestamp: 500,
			Meta: recorder.Meta{HTML: "<p>H</p>", Clipboard: &recorder.ClipboardMeta{Text: "H"}}},
		{ID: "p1", Type: recorder.TypePaste, Timestamp: 900,
			Meta: recorder.Meta{HTML: "<p>HH</p>", PastePayload: &recorder.PastePayload{Text: "H"}}},
		{ID: "p2", Type: recorder.TypePaste, Timestamp: 9000,
			Meta: recorder.Meta{HTML: "<p>HH imported text</p>", PastePayload: &recorder.PastePayload{Text: " imported text"}}},
	}
	return analysis.Analyze(events, "<p>HH imported text</p>")
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, Header{SessionID: "sess-1", Source: "session.json", EventCount: 4}, sampleAnalysis())
	output := buf.String()

	sections := []string{
		"WRITING SESSION ANALYSIS",
		"File:           session.json",
		"Session:        sess-1",
		"Events:         4",
		"SIGNALS",
		"Pause cadence:",
		"Paste cleanliness:",
		"PAUSE HISTOGRAM",
		"REVISIONS",
		"PASTE LEDGER",
		"Copied from: c",
		"[!!!] Unmatched paste",
		"VERDICT: NEEDS-REVIEW (risk 1)",
		analysis.ReasonHealthyPauses,
		analysis.ReasonUnmatchedPaste,
	}
	for _, section := range sections {
		if !strings.Contains(output, section) {
			t.Errorf("output should contain %q\n%s", section, output)
		}
	}
}

func TestPrintNil(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, Header{}, nil)
	if !strings.Contains(buf.String(), "No analysis available") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestPrintEmptySession(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, Header{}, analysis.Analyze(nil, ""))
	output := buf.String()

	if strings.Contains(output, "PASTE LEDGER") {
		t.Error("paste section should be omitted without pastes")
	}
	if !strings.Contains(output, "LIKELY-AUTHENTIC") {
		t.Error("empty session should read likely authentic")
	}
	if !strings.Contains(output, analysis.ReasonInsufficient) {
		t.Error("fallback reasoning missing")
	}
}

func TestPrintPlayback(t *testing.T) {
	snaps := []playback.Snapshot{
		{ID: "a", Label: "1. text-input", ElapsedMs: 0, DurationMs: 100, Diff: &playback.Diff{Added: "Hello"}},
		{ID: "b", Label: "2. paste", ElapsedMs: 100, DurationMs: 600, SkippedGapMs: 9400,
			EventType: recorder.TypePaste, Classification: playback.PasteExternal, Diff: &playback.Diff{Added: "world"}},
		{ID: "c", Label: "3. delete", ElapsedMs: 700, DurationMs: 500, Diff: &playback.Diff{Removed: "world"}},
	}

	var buf bytes.Buffer
	PrintPlayback(&buf, snaps)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `+"Hello"`) {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "[external paste]") || !strings.Contains(lines[1], "skipped 9.4 seconds idle") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], `-"world"`) {
		t.Errorf("line 2 = %q", lines[2])
	}
	if lines[3] != "Total: 0:01.200 across 3 snapshots" {
		t.Errorf("total line = %q", lines[3])
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0 seconds"},
		{250 * time.Millisecond, "250 ms"},
		{5500 * time.Millisecond, "5.5 seconds"},
		{61 * time.Second, "1 minute, 1 second"},
		{125 * time.Second, "2 minutes, 5 seconds"},
		{time.Hour + 2*time.Minute, "1 hour, 2 minutes"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	tests := map[int64]string{
		-5:     "0:00.000",
		0:      "0:00.000",
		1200:   "0:01.200",
		61_005: "1:01.005",
	}
	for ms, want := range tests {
		if got := FormatClock(ms); got != want {
			t.Errorf("FormatClock(%d) = %q, want %q", ms, got, want)
		}
	}
}

func TestFormatMetricBar(t *testing.T) {
	tests := []struct {
		value, min, max float64
		width           int
		want            string
	}{
		{0.5, 0, 1, 10, "[#####-----]"},
		{-1, 0, 1, 4, "[----]"},
		{2, 0, 1, 4, "[####]"},
		{1, 1, 1, 3, "[---]"},
		{1, 0, 1, 0, ""},
	}
	for _, tt := range tests {
		if got := FormatMetricBar(tt.value, tt.min, tt.max, tt.width); got != tt.want {
			t.Errorf("FormatMetricBar(%v, %v, %v, %d) = %q, want %q", tt.value, tt.min, tt.max, tt.width, got, tt.want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("  a \n b ", 10); got != "a b" {
		t.Errorf("got %q", got)
	}
	if got := Preview("abcdefghij", 6); got != "abc..." {
		t.Errorf("got %q", got)
	}
	if got := Preview("abcdef", 2); got != "ab" {
		t.Errorf("got %q", got)
	}
}
