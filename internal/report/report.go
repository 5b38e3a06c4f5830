// Package report renders analyses and playback sequences as plain text.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"typewitness/internal/analysis"
	"typewitness/internal/plaintext"
	"typewitness/internal/playback"
)

const ruleWidth = 72

// Header identifies the session a report describes.
type Header struct {
	SessionID  string
	Source     string
	EventCount int
}

// Print writes a formatted session analysis to w.
func Print(w io.Writer, h Header, a *analysis.SessionAnalysis) {
	if a == nil {
		fmt.Fprintln(w, "No analysis available")
		return
	}

	// Header
	fmt.Fprintln(w, strings.Repeat("=", ruleWidth))
	fmt.Fprintln(w, "                    WRITING SESSION ANALYSIS")
	fmt.Fprintln(w, strings.Repeat("=", ruleWidth))
	fmt.Fprintln(w)

	if h.Source != "" {
		fmt.Fprintf(w, "File:           %s\n", h.Source)
	}
	if h.SessionID != "" {
		fmt.Fprintf(w, "Session:        %s\n", h.SessionID)
	}
	fmt.Fprintf(w, "Events:         %d\n", h.EventCount)
	fmt.Fprintf(w, "Segments:       %d\n", len(a.Segments))
	if n := len(a.ProcessProductTimeline); n > 0 {
		elapsed := a.ProcessProductTimeline[n-1].ElapsedMs
		fmt.Fprintf(w, "Active Time:    %s\n", FormatDuration(time.Duration(elapsed)*time.Millisecond))
	}
	fmt.Fprintln(w)

	section(w, "SIGNALS")
	for _, m := range a.Metrics {
		fmt.Fprintf(w, "%-20s %10s  %s\n", m.Label+":", m.Value, FormatMetricBar(m.Score, 0, 1, 20))
		if m.HelperText != "" {
			fmt.Fprintf(w, "  -> %s%s\n", m.HelperText, trendMarker(m.Trend))
		}
	}
	fmt.Fprintln(w)

	section(w, "PAUSE HISTOGRAM")
	maxCount := 0
	for _, b := range a.PauseHistogram {
		maxCount = max(maxCount, b.Count)
	}
	for _, b := range a.PauseHistogram {
		fmt.Fprintf(w, "%-14s %5d  %s\n", b.Label, b.Count, FormatMetricBar(float64(b.Count), 0, float64(maxCount), 20))
	}
	fmt.Fprintln(w)

	rs := a.RevisionSummary
	section(w, "REVISIONS")
	fmt.Fprintf(w, "Text Inputs:    %d\n", rs.TextInputs)
	fmt.Fprintf(w, "Deletions:      %d\n", rs.Deletions)
	fmt.Fprintf(w, "Produced Chars: %d\n", rs.ProducedChars)
	fmt.Fprintf(w, "Deleted Chars:  %d\n", rs.DeletedChars)
	fmt.Fprintf(w, "Bursts:         %d (avg %.1f events, longest %d chars)\n",
		a.BurstSummary.TotalBursts, a.BurstSummary.AverageEventsPerBurst, a.BurstSummary.LongestBurstChars)
	fmt.Fprintln(w)

	if len(a.Pastes) > 0 {
		section(w, "PASTE LEDGER")
		for i, p := range a.Pastes {
			marker := " i "
			if p.Suspicious {
				marker = "!!!"
			} else if p.Classification == analysis.PasteUnmatched {
				marker = " ! "
			}
			fmt.Fprintf(w, "%d. [%s] %s: %d chars after %s idle\n",
				i+1, marker, p.Label, p.PayloadLength, FormatDuration(time.Duration(p.IdleBeforeMs)*time.Millisecond))
			if p.LedgerMatch != nil && p.LedgerMatch.CopyEventID != "" {
				fmt.Fprintf(w, "   Copied from: %s", p.LedgerMatch.CopyEventID)
				if p.LedgerMatch.AgeMs != nil {
					fmt.Fprintf(w, " (%s earlier)", FormatDuration(time.Duration(*p.LedgerMatch.AgeMs)*time.Millisecond))
				}
				fmt.Fprintln(w)
			}
			if preview := Preview(p.PayloadText, 60); preview != "" {
				fmt.Fprintf(w, "   %q\n", preview)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, strings.Repeat("=", ruleWidth))
	fmt.Fprintf(w, "VERDICT: %s (risk %d)\n", strings.ToUpper(string(a.Verdict)), a.RiskScore)
	for _, r := range a.VerdictReasoning {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	fmt.Fprintln(w, strings.Repeat("=", ruleWidth))
}

// PrintPlayback writes one line per snapshot.
func PrintPlayback(w io.Writer, snapshots []playback.Snapshot) {
	for _, s := range snapshots {
		at := FormatClock(s.ElapsedMs)
		line := fmt.Sprintf("%s  %-22s", at, s.Label)
		if s.Diff != nil {
			if s.Diff.Added != "" {
				line += fmt.Sprintf(" +%q", Preview(s.Diff.Added, 40))
			}
			if s.Diff.Removed != "" {
				line += fmt.Sprintf(" -%q", Preview(s.Diff.Removed, 40))
			}
		}
		if s.SkippedGapMs > 0 {
			line += fmt.Sprintf(" (skipped %s idle)", FormatDuration(time.Duration(s.SkippedGapMs)*time.Millisecond))
		}
		if s.Classification == playback.PasteExternal {
			line += " [external paste]"
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	fmt.Fprintf(w, "Total: %s across %d snapshots\n", FormatClock(playback.TotalDuration(snapshots)), len(snapshots))
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w, strings.Repeat("-", ruleWidth))
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("-", ruleWidth))
	fmt.Fprintln(w)
}

func trendMarker(t analysis.Trend) string {
	switch t {
	case analysis.TrendPositive:
		return " (+)"
	case analysis.TrendNegative:
		return " (-)"
	default:
		return ""
	}
}

// FormatDuration produces a human-readable duration (e.g., "2 minutes, 5 seconds").
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0 seconds"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%s, %s", plural(hours, "hour"), plural(minutes, "minute"))
	}
	if minutes > 0 {
		return fmt.Sprintf("%s, %s", plural(minutes, "minute"), plural(seconds, "second"))
	}
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1f seconds", d.Seconds())
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatClock renders milliseconds as m:ss.mmm.
func FormatClock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

// FormatMetricBar produces ASCII progress bar for metric visualization.
func FormatMetricBar(value, min, max float64, width int) string {
	if width <= 0 {
		return ""
	}
	if max <= min {
		return "[" + strings.Repeat("-", width) + "]"
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	filled := int(normalized * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// Preview collapses whitespace and shortens s to n runes, marking the cut.
func Preview(s string, n int) string {
	s = plaintext.Collapse(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return plaintext.Truncate(s, n)
	}
	return plaintext.Truncate(s, n-3) + "..."
}
