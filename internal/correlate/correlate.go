// Package correlate reconciles the two recorder sources of a session.
//
// The editor emits a DOM input event and a transaction event for most
// keystrokes. Correlation links each transaction edit to the DOM event that
// describes the same keystroke, traces pastes back to in-session copies
// through a clipboard ledger, and exposes the filtered views consumed by
// analysis and playback. Inputs are never modified: every function works on
// deep copies.
package correlate

import (
	"typewitness/internal/clipboard"
	"typewitness/internal/recorder"
)

// LinkWindowMs is the maximum distance between a transaction edit and the
// DOM event it duplicates.
const LinkWindowMs int64 = 150

// Correlator links duplicate events and classifies pastes.
type Correlator struct {
	ledger *clipboard.Ledger
}

// New returns a Correlator that records copies into and matches pastes
// against ledger. A nil ledger gets a fresh default one.
func New(ledger *clipboard.Ledger) *Correlator {
	if ledger == nil {
		ledger = clipboard.NewLedger()
	}
	return &Correlator{ledger: ledger}
}

// Ledger returns the clipboard ledger the correlator uses.
func (c *Correlator) Ledger() *clipboard.Ledger {
	return c.ledger
}

// Correlate returns the events ordered by (timestamp, index), with
// transaction edits linked to their DOM twins and pastes tagged with ledger
// provenance. Running it on its own output yields the same result.
func (c *Correlator) Correlate(events []recorder.Event) []recorder.Event {
	ordered := recorder.Ordered(events)
	Link(ordered)
	c.tagPastes(ordered)
	return ordered
}

// tagPastes walks the ordered stream, feeding copies and cuts into the ledger
// and resolving each paste payload against it.
func (c *Correlator) tagPastes(events []recorder.Event) {
	for i := range events {
		ev := &events[i]

		if action, ok := clipboard.ActionFor(ev.Type); ok {
			c.ledger.RecordAt(ev.ID, action, clipboardText(*ev), ev.Meta.Selection, ev.Timestamp)
			continue
		}
		if ev.Type != recorder.TypePaste {
			continue
		}

		// A paste known only through its DOM data still gets a payload to
		// carry its provenance.
		if ev.Meta.PastePayload == nil {
			if ev.PasteText() == "" {
				continue
			}
			ev.Meta.PastePayload = &recorder.PastePayload{}
		}

		payload := ev.Meta.PastePayload
		if payload.Source == recorder.PasteFromLedger {
			continue
		}
		if match := c.ledger.MatchAt(ev.PasteText(), ev.Timestamp); match != nil {
			age := ev.Timestamp - match.Timestamp
			payload.Source = recorder.PasteFromLedger
			payload.MatchedCopyID = match.ID
			payload.LedgerAgeMs = &age
			continue
		}
		if payload.Source == "" {
			payload.Source = recorder.PasteFromExternal
		}
	}
}

// clipboardText returns the text a copy or cut placed on the clipboard.
func clipboardText(ev recorder.Event) string {
	if cb := ev.Meta.Clipboard; cb != nil {
		if cb.Text != "" {
			return cb.Text
		}
		return cb.Preview
	}
	return ev.DOMData()
}

// linkKey buckets DOM edits by type and LinkWindowMs-wide time slot.
type linkKey struct {
	typ    recorder.EventType
	bucket int64
}

func bucketOf(ts int64) int64 {
	b := ts / LinkWindowMs
	if ts < 0 && ts%LinkWindowMs != 0 {
		b--
	}
	return b
}

// Link sets Meta.CorrelatedDOMEventID on transaction edits in place. events
// must already be ordered. DOM edits are indexed by (type, time bucket); each
// transaction edit then claims the most recent unconsumed DOM edit of the
// same type within LinkWindowMs. A DOM event is claimed at most once, and
// links already present are kept.
func Link(events []recorder.Event) {
	index := make(map[linkKey][]int)
	byID := make(map[string]int)
	for i, ev := range events {
		if ev.Source != recorder.SourceDOM || !ev.IsEdit() {
			continue
		}
		key := linkKey{typ: ev.Type, bucket: bucketOf(ev.Timestamp)}
		index[key] = append(index[key], i)
		byID[ev.ID] = i
	}

	consumed := make(map[int]bool)
	for _, ev := range events {
		if ev.Source != recorder.SourceTransaction || !ev.IsEdit() {
			continue
		}
		if id := ev.Meta.CorrelatedDOMEventID; id != "" {
			if i, ok := byID[id]; ok {
				consumed[i] = true
			}
		}
	}

	for i := range events {
		ev := &events[i]
		if ev.Source != recorder.SourceTransaction || !ev.IsEdit() || ev.Meta.CorrelatedDOMEventID != "" {
			continue
		}

		best := -1
		b := bucketOf(ev.Timestamp)
		for _, bucket := range [...]int64{b - 1, b, b + 1} {
			for _, j := range index[linkKey{typ: ev.Type, bucket: bucket}] {
				if consumed[j] {
					continue
				}
				delta := ev.Timestamp - events[j].Timestamp
				if delta < -LinkWindowMs || delta > LinkWindowMs {
					continue
				}
				if best < 0 || events[j].Timestamp > events[best].Timestamp ||
					(events[j].Timestamp == events[best].Timestamp && j > best) {
					best = j
				}
			}
		}

		if best >= 0 {
			consumed[best] = true
			ev.Meta.CorrelatedDOMEventID = events[best].ID
		}
	}
}

// ForAnalysis drops the duplicates that would double-count edits: transaction
// edits linked to a DOM event, and DOM pastes, whose transaction counterpart
// carries the authoritative payload.
func ForAnalysis(events []recorder.Event) []recorder.Event {
	out := make([]recorder.Event, 0, len(events))
	for _, ev := range events {
		if ev.Source == recorder.SourceTransaction && ev.IsEdit() && ev.Meta.CorrelatedDOMEventID != "" {
			continue
		}
		if ev.Source == recorder.SourceDOM && ev.Type == recorder.TypePaste {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// ForPlayback prefers DOM edits over their transaction duplicates and keeps
// transaction edits that have no DOM twin. DOM pastes give way to their
// transaction counterpart as in ForAnalysis.
func ForPlayback(events []recorder.Event) []recorder.Event {
	return ForAnalysis(events)
}
