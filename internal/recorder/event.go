// Package recorder defines the editor event model produced by session recorders.
//
// A recorded writing session is a chronological stream of Events. Each event
// is emitted either by the low-level DOM input listener or by the rich-text
// transaction hook, and both sources frequently describe the same logical edit.
// Events are treated as immutable once recorded; consumers that need to attach
// metadata work on copies (see Event.Clone).
package recorder

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// MinEventDurationMs is the duration floor applied to events that declare no
// duration, or a shorter one.
const MinEventDurationMs int64 = 16

// EventType identifies the kind of edit an event records.
type EventType int

const (
	// TypeUnknown is any event type this package does not recognize.
	TypeUnknown EventType = iota
	TypeTextInput
	TypeDelete
	TypePaste
	TypeCopy
	TypeCut
	TypeSelectionChange
	TypeTransaction
)

var eventTypeNames = map[EventType]string{
	TypeTextInput:       "text-input",
	TypeDelete:          "delete",
	TypePaste:           "paste",
	TypeCopy:            "copy",
	TypeCut:             "cut",
	TypeSelectionChange: "selection-change",
	TypeTransaction:     "transaction",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseEventType maps a wire name to an EventType. Unrecognized names yield
// TypeUnknown and ok=false.
func ParseEventType(s string) (EventType, bool) {
	for t, name := range eventTypeNames {
		if name == s {
			return t, true
		}
	}
	return TypeUnknown, false
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode to
// TypeUnknown rather than failing, so newer recorders stay readable.
func (t *EventType) UnmarshalText(b []byte) error {
	*t, _ = ParseEventType(string(b))
	return nil
}

// Source identifies which recorder produced an event.
type Source int

const (
	SourceTransaction Source = iota
	SourceDOM
)

func (s Source) String() string {
	if s == SourceDOM {
		return "dom"
	}
	return "transaction"
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	switch string(b) {
	case "dom":
		*s = SourceDOM
	case "transaction", "":
		*s = SourceTransaction
	default:
		return fmt.Errorf("recorder: unknown event source %q", string(b))
	}
	return nil
}

// PasteSource records where a paste payload was traced to.
type PasteSource string

const (
	PasteFromLedger   PasteSource = "ledger"
	PasteFromExternal PasteSource = "external"
)

// Selection is a document selection range.
type Selection struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// DOMInput carries the raw DOM input event detail.
type DOMInput struct {
	InputType string `json:"inputType"`
	Data      string `json:"data,omitempty"`
}

// PastePayload carries the clipboard payload of a paste.
type PastePayload struct {
	Text          string      `json:"text,omitempty"`
	Length        int         `json:"length"`
	Preview       string      `json:"preview,omitempty"`
	Source        PasteSource `json:"source,omitempty"`
	MatchedCopyID string      `json:"matchedCopyId,omitempty"`
	LedgerAgeMs   *int64      `json:"ledgerAgeMs,omitempty"`
}

// ClipboardMeta describes a copy or cut.
type ClipboardMeta struct {
	Action  string `json:"action"`
	Length  int    `json:"length"`
	Preview string `json:"preview,omitempty"`
	Hash    string `json:"hash,omitempty"`
	// Text is the full copied text when the recorder captured it.
	Text string `json:"text,omitempty"`
}

// Meta is the per-event detail bag. Every field is optional on the wire.
type Meta struct {
	DocSize              int            `json:"docSize"`
	StepTypes            []string       `json:"stepTypes,omitempty"`
	Selection            Selection      `json:"selection"`
	DocChanged           bool           `json:"docChanged"`
	HTML                 string         `json:"html"`
	DurationMs           *int64         `json:"durationMs,omitempty"`
	DOMInput             *DOMInput      `json:"domInput,omitempty"`
	PastePayload         *PastePayload  `json:"pastePayload,omitempty"`
	Clipboard            *ClipboardMeta `json:"clipboard,omitempty"`
	CorrelatedDOMEventID string         `json:"correlatedDomEventId,omitempty"`
}

// Event is a single recorded editor event. Timestamp is wall-clock milliseconds.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Source    Source    `json:"source"`
	Meta      Meta      `json:"meta"`
}

// Duration returns the declared duration floored at MinEventDurationMs.
func (e Event) Duration() int64 {
	if e.Meta.DurationMs == nil || *e.Meta.DurationMs < MinEventDurationMs {
		return MinEventDurationMs
	}
	return *e.Meta.DurationMs
}

// DOMData returns the DOM-reported inserted/deleted text, or "".
func (e Event) DOMData() string {
	if e.Meta.DOMInput == nil {
		return ""
	}
	return e.Meta.DOMInput.Data
}

// IsEdit reports whether the event is a typing or deletion event, the two
// kinds both recorders emit for the same keystroke.
func (e Event) IsEdit() bool {
	return e.Type == TypeTextInput || e.Type == TypeDelete
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	c := e
	if e.Meta.StepTypes != nil {
		c.Meta.StepTypes = append([]string(nil), e.Meta.StepTypes...)
	}
	if e.Meta.DurationMs != nil {
		d := *e.Meta.DurationMs
		c.Meta.DurationMs = &d
	}
	if e.Meta.DOMInput != nil {
		in := *e.Meta.DOMInput
		c.Meta.DOMInput = &in
	}
	if e.Meta.PastePayload != nil {
		p := *e.Meta.PastePayload
		if p.LedgerAgeMs != nil {
			age := *p.LedgerAgeMs
			p.LedgerAgeMs = &age
		}
		c.Meta.PastePayload = &p
	}
	if e.Meta.Clipboard != nil {
		cb := *e.Meta.Clipboard
		c.Meta.Clipboard = &cb
	}
	return c
}

// PasteText returns the best available text of a paste: the payload text,
// then its preview, then the DOM data.
func (e Event) PasteText() string {
	if p := e.Meta.PastePayload; p != nil {
		if p.Text != "" {
			return p.Text
		}
		if p.Preview != "" {
			return p.Preview
		}
	}
	return e.DOMData()
}

// PasteLength returns the paste payload length, falling back from the
// explicit payload length to the payload text and then the DOM data.
func (e Event) PasteLength() int {
	if p := e.Meta.PastePayload; p != nil {
		if p.Length > 0 {
			return p.Length
		}
		if p.Text != "" {
			return utf8.RuneCountInString(p.Text)
		}
	}
	return utf8.RuneCountInString(e.DOMData())
}

// LedgerMatched reports whether the paste was traced to an in-session copy.
func (e Event) LedgerMatched() bool {
	return e.Meta.PastePayload != nil && e.Meta.PastePayload.Source == PasteFromLedger
}

// Ordered returns deep copies of events sorted by (timestamp, original index).
// The input slice is not modified.
func Ordered(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// ClassifyDOMInput maps a DOM InputEvent.inputType to an event type.
// Input types the recorder does not track return ok=false.
func ClassifyDOMInput(inputType string) (EventType, bool) {
	switch inputType {
	case "insertText", "insertReplacementText", "insertCompositionText":
		return TypeTextInput, true
	case "insertFromPaste", "insertFromPasteAsQuotation":
		return TypePaste, true
	case "deleteContentBackward", "deleteContentForward", "deleteWordBackward",
		"deleteWordForward", "deleteByCut", "deleteSoftLineBackward", "deleteSoftLineForward":
		return TypeDelete, true
	}
	return TypeUnknown, false
}
