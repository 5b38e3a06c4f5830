package playback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typewitness/internal/recorder"
)

func ev(id string, typ recorder.EventType, src recorder.Source, ts int64, html string) recorder.Event {
	return recorder.Event{ID: id, Type: typ, Source: src, Timestamp: ts, Meta: recorder.Meta{HTML: html}}
}

func ids(snapshots []Snapshot) []string {
	out := make([]string, len(snapshots))
	for i, s := range snapshots {
		out[i] = s.ID
	}
	return out
}

func TestReconstructEmpty(t *testing.T) {
	snaps := Reconstruct(nil, "<p>draft</p>")
	require.Len(t, snaps, 1)
	s := snaps[0]
	assert.Equal(t, "current", s.ID)
	assert.Equal(t, "<p>draft</p>", s.HTML)
	assert.Equal(t, FinalSnapshotMs, s.DurationMs)
	assert.Equal(t, recorder.TypeTransaction, s.EventType)
	assert.Equal(t, recorder.SourceTransaction, s.Source)
	assert.Zero(t, s.ElapsedMs)
}

func TestReconstructDurations(t *testing.T) {
	events := []recorder.Event{
		ev("a", recorder.TypeTextInput, recorder.SourceDOM, 1000, "<p>a</p>"),
		ev("b", recorder.TypeTextInput, recorder.SourceDOM, 1005, "<p>ab</p>"),
		ev("c", recorder.TypeTextInput, recorder.SourceDOM, 1300, "<p>abc</p>"),
		ev("d", recorder.TypeTextInput, recorder.SourceDOM, 11300, "<p>abcd</p>"),
	}
	snaps := FromEvents(events, "<p>abcd</p>", nil)
	require.Len(t, snaps, 4)

	assert.Equal(t, int64(16), snaps[0].DurationMs, "short gaps floor at 16ms")
	assert.Equal(t, int64(295), snaps[1].DurationMs)
	assert.Equal(t, int64(600), snaps[2].DurationMs, "idle gap is compressed")
	assert.Equal(t, int64(9400), snaps[2].SkippedGapMs)
	assert.Equal(t, FinalSnapshotMs, snaps[3].DurationMs)

	assert.Equal(t, []int64{0, 16, 311, 911}, []int64{snaps[0].ElapsedMs, snaps[1].ElapsedMs, snaps[2].ElapsedMs, snaps[3].ElapsedMs})
	assert.Equal(t, int64(16+295+600+500), TotalDuration(snaps))
	assert.Equal(t, "1. text-input", snaps[0].Label)
}

func TestReconstructPrefersDOMEdits(t *testing.T) {
	events := []recorder.Event{
		ev("dom-1", recorder.TypeTextInput, recorder.SourceDOM, 1000, "<p>a</p>"),
		ev("txn-1", recorder.TypeTextInput, recorder.SourceTransaction, 1003, "<p>a</p>"),
		ev("txn-2", recorder.TypeTextInput, recorder.SourceTransaction, 2000, "<p>ab</p>"),
	}
	snaps := FromEvents(events, "<p>ab</p>", nil)
	assert.Equal(t, []string{"dom-1", "txn-2"}, ids(snaps))
}

func TestReconstructDropsTransactionAfterDelete(t *testing.T) {
	events := []recorder.Event{
		ev("t1", recorder.TypeTextInput, recorder.SourceDOM, 0, "<p>ab</p>"),
		ev("d1", recorder.TypeDelete, recorder.SourceDOM, 500, "<p>a</p>"),
		ev("x1", recorder.TypeTransaction, recorder.SourceTransaction, 505, "<p>a</p>"),
		ev("x2", recorder.TypeTransaction, recorder.SourceTransaction, 900, "<p>a</p>"),
	}
	snaps := Reconstruct(events, "<p>a</p>")
	assert.Equal(t, []string{"t1", "d1", "x2"}, ids(snaps))
	assert.Equal(t, int64(400), snaps[1].DurationMs)
}

func TestReconstructDiffs(t *testing.T) {
	events := []recorder.Event{
		ev("a", recorder.TypeTextInput, recorder.SourceDOM, 0, "<p>Hello</p>"),
		ev("b", recorder.TypeTextInput, recorder.SourceDOM, 100, "<p>Hello world</p>"),
		ev("c", recorder.TypeSelectionChange, recorder.SourceDOM, 200, "<p>Hello world</p>"),
		ev("d", recorder.TypeDelete, recorder.SourceDOM, 300, "<p>Hello</p>"),
	}
	snaps := Reconstruct(events, "<p>Hello</p>")
	require.Len(t, snaps, 4)

	require.NotNil(t, snaps[0].Diff)
	assert.Equal(t, "Hello", snaps[0].Diff.Added)
	require.NotNil(t, snaps[1].Diff)
	assert.Equal(t, "world", snaps[1].Diff.Added)
	assert.Nil(t, snaps[2].Diff)
	require.NotNil(t, snaps[3].Diff)
	assert.Equal(t, "world", snaps[3].Diff.Removed)
	assert.Empty(t, snaps[3].Diff.Added)
}

func TestSummarizeDiff(t *testing.T) {
	tests := []struct {
		name string
		prev string
		next string
		want *Diff
	}{
		{"identical", "same", "same", nil},
		{"append", "abc", "abcdef", &Diff{Added: "def"}},
		{"prepend", "world", "hello world", &Diff{Added: "hello"}},
		{"replace middle", "the cat sat", "the dog sat", &Diff{Added: "dog", Removed: "cat"}},
		{"whitespace only", "a b", "a  b", nil},
		{"multibyte", "café", "cafés", &Diff{Added: "s"}},
		{"truncated", "", strings.Repeat("x", 200), &Diff{Added: strings.Repeat("x", MaxDiffPreview)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SummarizeDiff(tt.prev, tt.next))
		})
	}
}

func TestPasteClassification(t *testing.T) {
	events := []recorder.Event{
		{ID: "copy", Type: recorder.TypeCopy, Timestamp: 0, Meta: recorder.Meta{Clipboard: &recorder.ClipboardMeta{Text: "reused"}}},
		{ID: "p-int", Type: recorder.TypePaste, Timestamp: 100, Meta: recorder.Meta{HTML: "<p>reused</p>", PastePayload: &recorder.PastePayload{Text: "reused"}}},
		{ID: "p-ext", Type: recorder.TypePaste, Timestamp: 200, Meta: recorder.Meta{HTML: "<p>reused imported</p>", PastePayload: &recorder.PastePayload{Text: "imported"}}},
		{ID: "p-dom", Type: recorder.TypePaste, Source: recorder.SourceDOM, Timestamp: 201, Meta: recorder.Meta{HTML: "<p>reused imported</p>"}},
	}
	snaps := FromEvents(events, "<p>reused imported</p>", nil)
	require.Equal(t, []string{"copy", "p-int", "p-ext"}, ids(snaps))

	assert.Empty(t, snaps[0].Classification)
	assert.Equal(t, PasteInternal, snaps[1].Classification)
	assert.Equal(t, PasteExternal, snaps[2].Classification)

	assert.Equal(t, 2, NextAlert(snaps, 0))
	assert.Equal(t, 2, NextAlert(snaps, 2))
	assert.Equal(t, -1, NextAlert(snaps, 3))
}

func TestAt(t *testing.T) {
	snaps := []Snapshot{{ElapsedMs: 0}, {ElapsedMs: 100}, {ElapsedMs: 250}}

	tests := []struct {
		t    int64
		want int
	}{
		{-10, 0},
		{0, 0},
		{99, 0},
		{100, 1},
		{249, 1},
		{250, 2},
		{10_000, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, At(snaps, tt.t), "t=%d", tt.t)
	}
	assert.Equal(t, -1, At(nil, 0))
}

func TestReconstructDoesNotMutateInput(t *testing.T) {
	events := []recorder.Event{
		ev("b", recorder.TypeTextInput, recorder.SourceDOM, 200, "<p>ab</p>"),
		ev("a", recorder.TypeTextInput, recorder.SourceDOM, 100, "<p>a</p>"),
	}
	snaps := Reconstruct(events, "")
	assert.Equal(t, []string{"a", "b"}, ids(snaps))
	assert.Equal(t, "b", events[0].ID)
}
