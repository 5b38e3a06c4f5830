package analysis

import (
	"fmt"
	"unicode/utf8"

	"typewitness/internal/plaintext"
	"typewitness/internal/recorder"
)

const (
	// MicroPauseMs is the shortest gap emitted as a pause segment.
	MicroPauseMs int64 = 200

	// MacroPauseMs is the shortest gap graded as a macro pause. Macro pauses
	// close the open burst.
	MacroPauseMs int64 = 2000

	// IdleGapMs is the longest gap credited in full on compressed timelines.
	IdleGapMs int64 = 4000

	// CompressedGapMs is the elapsed time credited for a gap over IdleGapMs.
	CompressedGapMs int64 = 600
)

// Suspicious paste thresholds.
const (
	suspiciousLength      = 64
	suspiciousIdleMs      = 5000
	suspiciousShortLength = 24
	suspiciousShortIdleMs = 3000
)

// CompressGap returns the elapsed time credited for a raw gap and the idle
// time skipped. Negative gaps credit nothing.
func CompressGap(gap int64) (credited, skipped int64) {
	if gap <= 0 {
		return 0, 0
	}
	if gap > IdleGapMs {
		return CompressedGapMs, gap - CompressedGapMs
	}
	return gap, 0
}

// NewPauseHistogram returns the four fixed pause buckets with zero counts.
// The lt-200 bucket is never populated because shorter gaps are not pauses.
func NewPauseHistogram() []PauseHistogramBin {
	bound := func(v int64) *int64 { return &v }
	return []PauseHistogramBin{
		{Key: "lt-200", Label: "< 200 ms", RangeMs: Range{Min: 0, Max: bound(MicroPauseMs)}},
		{Key: "200-1000", Label: "200 ms - 1 s", RangeMs: Range{Min: MicroPauseMs, Max: bound(1000)}},
		{Key: "1000-2000", Label: "1 s - 2 s", RangeMs: Range{Min: 1000, Max: bound(MacroPauseMs)}},
		{Key: "gt-2000", Label: "> 2 s", RangeMs: Range{Min: MacroPauseMs}},
	}
}

// timeline is the state carried through the single segmentation pass.
type timeline struct {
	segments []TimelineSegment
	bursts   []BurstStat
	open     *BurstStat
	laneEnd  map[SegmentType]int64

	histogram []PauseHistogramBin
	pastes    []PasteInsight
	points    []ProcessProductPoint

	producedChars   int
	deletedChars    int
	textInputs      int
	deletes         int
	pasteCount      int
	suspiciousCount int
	macroPauses     int
	macroPauseTotal int64

	lastEnd     *int64
	lastStart   *int64
	lastDocSize int
	seeded      bool
	elapsed     int64
	lastDur     int64
}

func newTimeline() *timeline {
	return &timeline{
		laneEnd:   make(map[SegmentType]int64),
		histogram: NewPauseHistogram(),
	}
}

// segment appends a segment to its lane. Starts are clamped to the lane's
// previous end so segments of one type never overlap.
func (tl *timeline) segment(typ SegmentType, label string, start, end int64, meta map[string]any) {
	if prev, ok := tl.laneEnd[typ]; ok && start < prev {
		start = prev
	}
	if end < start {
		end = start
	}
	tl.laneEnd[typ] = end
	tl.segments = append(tl.segments, TimelineSegment{
		ID:         fmt.Sprintf("%s-%d", typ, len(tl.segments)+1),
		Type:       typ,
		Label:      label,
		Start:      start,
		End:        end,
		DurationMs: end - start,
		Metadata:   meta,
	})
}

func (tl *timeline) pause(from, to int64) {
	gap := to - from
	severity, label := PauseMicro, "Pause"
	if gap >= MacroPauseMs {
		severity, label = PauseMacro, "Macro pause"
	}

	tl.laneEnd[SegmentPause] = to
	tl.segments = append(tl.segments, TimelineSegment{
		ID:         fmt.Sprintf("%s-%d", SegmentPause, len(tl.segments)+1),
		Type:       SegmentPause,
		Label:      label,
		Start:      from,
		End:        to,
		DurationMs: gap,
		Severity:   severity,
	})

	for i := range tl.histogram {
		if tl.histogram[i].RangeMs.Contains(gap) {
			tl.histogram[i].Count++
			break
		}
	}

	if severity == PauseMacro {
		tl.macroPauses++
		tl.macroPauseTotal += gap
		tl.closeBurst()
	}
}

func (tl *timeline) extendBurst(start, end, duration int64, chars int) {
	if tl.open == nil {
		if n := len(tl.bursts); n > 0 && start < tl.bursts[n-1].End {
			start = tl.bursts[n-1].End
		}
		tl.open = &BurstStat{Start: start, End: start}
	}
	if end > tl.open.End {
		tl.open.End = end
	}
	tl.open.DurationMs += duration
	tl.open.CharCount += chars
	tl.open.EventCount++
}

func (tl *timeline) closeBurst() {
	if tl.open == nil {
		return
	}
	tl.bursts = append(tl.bursts, *tl.open)
	tl.open = nil
}

// charDelta is the number of characters an edit inserted or removed: the
// DOM-reported data when present, else the document size change clamped at 0.
func (tl *timeline) charDelta(ev recorder.Event) int {
	if data := ev.DOMData(); data != "" {
		return utf8.RuneCountInString(data)
	}
	delta := ev.Meta.DocSize - tl.lastDocSize
	if ev.Type == recorder.TypeDelete {
		delta = -delta
	}
	return max(delta, 0)
}

// seed sets the document size before the first event, so a session that
// opens on an existing document does not count that document as produced.
// Without DOM data or a paste payload the first event is assumed to leave
// the size unchanged.
func (tl *timeline) seed(ev recorder.Event) {
	tl.seeded = true
	size := ev.Meta.DocSize
	switch ev.Type {
	case recorder.TypeTextInput:
		size -= utf8.RuneCountInString(ev.DOMData())
	case recorder.TypeDelete:
		size += utf8.RuneCountInString(ev.DOMData())
	case recorder.TypePaste:
		size -= ev.PasteLength()
	}
	tl.lastDocSize = max(size, 0)
}

// add processes one event of the ordered, deduplicated stream.
func (tl *timeline) add(ev recorder.Event) {
	if !tl.seeded {
		tl.seed(ev)
	}
	duration := ev.Duration()
	start := ev.Timestamp
	end := start + duration

	var idle int64
	if tl.lastEnd != nil {
		gap := start - *tl.lastEnd
		if gap >= MicroPauseMs {
			tl.pause(*tl.lastEnd, start)
		}
		if gap > 0 {
			idle = gap
		}
	}

	switch ev.Type {
	case recorder.TypeTextInput:
		chars := tl.charDelta(ev)
		tl.textInputs++
		tl.producedChars += chars
		tl.extendBurst(start, end, duration, chars)
		tl.segment(SegmentTyping, "Typing", start, end, map[string]any{"charCount": chars})

	case recorder.TypeDelete:
		chars := tl.charDelta(ev)
		tl.deletes++
		tl.deletedChars += chars
		tl.closeBurst()
		tl.segment(SegmentRevision, "Revision", start, end, map[string]any{"deleted": chars})

	case recorder.TypePaste:
		tl.closeBurst()
		tl.paste(ev, start, end, idle)

	case recorder.TypeCopy, recorder.TypeCut, recorder.TypeSelectionChange,
		recorder.TypeTransaction, recorder.TypeUnknown:
		tl.closeBurst()

	default:
		tl.closeBurst()
	}

	tl.sample(ev, duration)
	tl.lastDocSize = ev.Meta.DocSize
	tl.lastEnd = &end
}

func (tl *timeline) paste(ev recorder.Event, start, end, idle int64) {
	length := ev.PasteLength()
	tl.pasteCount++
	tl.producedChars += length

	insight := PasteInsight{
		ID:            ev.ID,
		Timestamp:     ev.Timestamp,
		PayloadText:   ev.PasteText(),
		PayloadLength: length,
		IdleBeforeMs:  idle,
	}

	if ev.LedgerMatched() {
		p := ev.Meta.PastePayload
		insight.Classification = PasteInternalCopy
		insight.Label = "Internal paste"
		insight.LedgerMatch = &LedgerMatch{CopyEventID: p.MatchedCopyID}
		if p.LedgerAgeMs != nil {
			age := *p.LedgerAgeMs
			insight.LedgerMatch.AgeMs = &age
		}
	} else {
		insight.Classification = PasteUnmatched
		insight.Label = "Unmatched paste"
		insight.Suspicious = length >= suspiciousLength ||
			idle >= suspiciousIdleMs ||
			(length >= suspiciousShortLength && idle >= suspiciousShortIdleMs)
	}

	if insight.Suspicious {
		tl.suspiciousCount++
	}
	tl.pastes = append(tl.pastes, insight)

	tl.segment(SegmentPaste, insight.Label, start, end, map[string]any{
		"payloadLength":  length,
		"idleBeforeMs":   idle,
		"classification": string(insight.Classification),
		"suspicious":     insight.Suspicious,
	})
}

// sample appends a process-product point for ev. Elapsed time advances by the
// compressed start-to-start gap.
func (tl *timeline) sample(ev recorder.Event, duration int64) {
	if tl.lastStart != nil {
		credited, _ := CompressGap(ev.Timestamp - *tl.lastStart)
		tl.elapsed += credited
	}
	ts := ev.Timestamp
	tl.lastStart = &ts
	tl.lastDur = duration

	tl.points = append(tl.points, ProcessProductPoint{
		Timestamp:     ev.Timestamp,
		ElapsedMs:     tl.elapsed,
		ProducedChars: tl.producedChars,
		DocumentChars: plaintext.Length(ev.Meta.HTML),
	})
}

// finish closes the open burst and appends the closing point for the final
// document when the last sample does not already describe it.
func (tl *timeline) finish(finalChars int) {
	tl.closeBurst()

	if len(tl.points) == 0 {
		tl.points = append(tl.points, ProcessProductPoint{
			ProducedChars: tl.producedChars,
			DocumentChars: finalChars,
		})
		return
	}

	last := tl.points[len(tl.points)-1]
	if last.DocumentChars == finalChars && last.ProducedChars == tl.producedChars {
		return
	}
	tl.points = append(tl.points, ProcessProductPoint{
		Timestamp:     last.Timestamp + tl.lastDur,
		ElapsedMs:     last.ElapsedMs + tl.lastDur,
		ProducedChars: tl.producedChars,
		DocumentChars: finalChars,
	})
}
