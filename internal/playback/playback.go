// Package playback rebuilds a scrubbable sequence of document snapshots from a
// correlated event stream.
package playback

import (
	"fmt"
	"sort"

	"typewitness/internal/analysis"
	"typewitness/internal/clipboard"
	"typewitness/internal/correlate"
	"typewitness/internal/plaintext"
	"typewitness/internal/recorder"
)

const (
	// MaxDiffPreview bounds Diff.Added and Diff.Removed, in characters.
	MaxDiffPreview = 80

	// FinalSnapshotMs is the display duration of the last snapshot.
	FinalSnapshotMs int64 = 500
)

// Classification flags paste snapshots for playback UIs.
type Classification string

const (
	PasteInternal Classification = "paste-internal"
	PasteExternal Classification = "paste-external"
)

// Diff is the changed middle of two consecutive plain-text renderings.
type Diff struct {
	Added   string `json:"added,omitempty"`
	Removed string `json:"removed,omitempty"`
}

// Snapshot is one step of a playback sequence.
type Snapshot struct {
	ID             string             `json:"id"`
	HTML           string             `json:"html"`
	Label          string             `json:"label"`
	Timestamp      int64              `json:"timestamp"`
	DurationMs     int64              `json:"durationMs"`
	Selection      recorder.Selection `json:"selection"`
	Source         recorder.Source    `json:"source"`
	ElapsedMs      int64              `json:"elapsedMs"`
	SkippedGapMs   int64              `json:"skippedGapMs,omitempty"`
	EventType      recorder.EventType `json:"eventType"`
	Diff           *Diff              `json:"diff,omitempty"`
	Classification Classification     `json:"classification,omitempty"`
}

// FromEvents correlates raw events against ledger (a fresh one when nil) and
// reconstructs their playback.
func FromEvents(events []recorder.Event, editorHTML string, ledger *clipboard.Ledger) []Snapshot {
	return Reconstruct(correlate.New(ledger).Correlate(events), editorHTML)
}

// Reconstruct derives snapshots from correlated events. DOM edits are
// preferred over their linked transaction duplicates, and a transaction step
// directly after a delete is dropped as the echo of that delete. Without
// events the result is a single snapshot of editorHTML.
func Reconstruct(correlated []recorder.Event, editorHTML string) []Snapshot {
	events := correlate.ForPlayback(recorder.Ordered(correlated))
	if len(events) == 0 {
		return []Snapshot{{
			ID:         "current",
			HTML:       editorHTML,
			Label:      "Current",
			DurationMs: FinalSnapshotMs,
			Source:     recorder.SourceTransaction,
			EventType:  recorder.TypeTransaction,
		}}
	}

	kept := make([]recorder.Event, 0, len(events))
	for i, ev := range events {
		if ev.Type == recorder.TypeTransaction && i > 0 && events[i-1].Type == recorder.TypeDelete {
			continue
		}
		kept = append(kept, ev)
	}

	snapshots := make([]Snapshot, 0, len(kept))
	var elapsed int64
	prevText := ""
	for i, ev := range kept {
		duration, skipped := FinalSnapshotMs, int64(0)
		if i+1 < len(kept) {
			gap := kept[i+1].Timestamp - ev.Timestamp
			if gap > analysis.IdleGapMs {
				duration, skipped = analysis.CompressGap(gap)
			} else {
				duration = max(gap, recorder.MinEventDurationMs)
			}
		}

		text := plaintext.FromHTML(ev.Meta.HTML)
		snapshots = append(snapshots, Snapshot{
			ID:             ev.ID,
			HTML:           ev.Meta.HTML,
			Label:          fmt.Sprintf("%d. %s", i+1, ev.Type),
			Timestamp:      ev.Timestamp,
			DurationMs:     duration,
			Selection:      ev.Meta.Selection,
			Source:         ev.Source,
			ElapsedMs:      elapsed,
			SkippedGapMs:   skipped,
			EventType:      ev.Type,
			Diff:           SummarizeDiff(prevText, text),
			Classification: classify(ev),
		})
		elapsed += duration
		prevText = text
	}
	return snapshots
}

func classify(ev recorder.Event) Classification {
	if ev.Type != recorder.TypePaste || ev.Meta.PastePayload == nil {
		return ""
	}
	if ev.LedgerMatched() {
		return PasteInternal
	}
	return PasteExternal
}

// SummarizeDiff strips the common prefix and suffix of two texts and returns
// the differing middles, whitespace-collapsed and truncated. It returns nil
// when nothing visible changed.
func SummarizeDiff(prev, next string) *Diff {
	if prev == next {
		return nil
	}
	a, b := []rune(prev), []rune(next)

	start := 0
	for start < len(a) && start < len(b) && a[start] == b[start] {
		start++
	}
	endA, endB := len(a), len(b)
	for endA > start && endB > start && a[endA-1] == b[endB-1] {
		endA--
		endB--
	}

	d := Diff{
		Added:   plaintext.Truncate(plaintext.Collapse(string(b[start:endB])), MaxDiffPreview),
		Removed: plaintext.Truncate(plaintext.Collapse(string(a[start:endA])), MaxDiffPreview),
	}
	if d.Added == "" && d.Removed == "" {
		return nil
	}
	return &d
}

// TotalDuration is the summed display duration of snapshots.
func TotalDuration(snapshots []Snapshot) int64 {
	var total int64
	for _, s := range snapshots {
		total += s.DurationMs
	}
	return total
}

// At returns the index of the snapshot showing at elapsed time t: the last
// whose ElapsedMs is at most t. Times outside the sequence clamp to its ends.
// It returns -1 for an empty sequence.
func At(snapshots []Snapshot, t int64) int {
	if len(snapshots) == 0 {
		return -1
	}
	i := sort.Search(len(snapshots), func(i int) bool {
		return snapshots[i].ElapsedMs > t
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

// NextAlert returns the index of the first external paste at or after index
// from, or -1.
func NextAlert(snapshots []Snapshot, from int) int {
	for i := max(from, 0); i < len(snapshots); i++ {
		if snapshots[i].EventType == recorder.TypePaste && snapshots[i].Classification == PasteExternal {
			return i
		}
	}
	return -1
}
