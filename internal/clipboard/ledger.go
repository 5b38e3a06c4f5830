// Package clipboard keeps a bounded record of recent in-session copy and cut
// payloads so later pastes can be traced back to them.
//
// The ledger fingerprints whitespace-normalized text with a fast
// non-cryptographic hash. A paste matches only when both the fingerprint and
// the normalized length agree, so matching is exact-content, never fuzzy.
package clipboard

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"typewitness/internal/plaintext"
	"typewitness/internal/recorder"
)

const (
	// DefaultCapacity is the maximum number of entries retained.
	DefaultCapacity = 50

	// DefaultTTL is how long an entry remains matchable.
	DefaultTTL = 10 * time.Minute

	// PreviewLength bounds Entry.Preview.
	PreviewLength = 200
)

// Action is the clipboard operation that produced an entry.
type Action string

const (
	ActionCopy Action = "copy"
	ActionCut  Action = "cut"
)

// ActionFor maps a recorder event type to a ledger action.
func ActionFor(t recorder.EventType) (Action, bool) {
	switch t {
	case recorder.TypeCopy:
		return ActionCopy, true
	case recorder.TypeCut:
		return ActionCut, true
	}
	return "", false
}

// Entry is an immutable ledger record.
type Entry struct {
	ID        string             `json:"id"`
	Timestamp int64              `json:"timestamp"`
	Action    Action             `json:"action"`
	Text      string             `json:"text"`
	Length    int                `json:"length"`
	Hash      string             `json:"hash"`
	Preview   string             `json:"preview"`
	Selection recorder.Selection `json:"selection"`
}

// Ledger is a TTL- and capacity-bounded cache of clipboard entries.
// It is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	ttl      time.Duration
	now      func() int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCapacity overrides DefaultCapacity. Non-positive values are ignored.
func WithCapacity(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithClock sets the millisecond clock used by Record and Match.
func WithClock(now func() int64) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Normalize collapses whitespace runs to single spaces and trims the text.
func Normalize(text string) string {
	return plaintext.Collapse(text)
}

// Fingerprint returns the base-36 FNV-1a hash of already-normalized text.
func Fingerprint(normalized string) string {
	h := fnv.New32a()
	h.Write([]byte(normalized))
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}

// Record adds an entry stamped with the ledger clock.
func (l *Ledger) Record(id string, action Action, text string, sel recorder.Selection) *Entry {
	return l.RecordAt(id, action, text, sel, l.now())
}

// RecordAt adds an entry at the given millisecond timestamp. It returns nil
// and leaves the ledger untouched when the normalized text is empty.
func (l *Ledger) RecordAt(id string, action Action, text string, sel recorder.Selection, timestamp int64) *Entry {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	entry := Entry{
		ID:        id,
		Timestamp: timestamp,
		Action:    action,
		Text:      normalized,
		Length:    utf8.RuneCountInString(normalized),
		Hash:      Fingerprint(normalized),
		Preview:   plaintext.Truncate(normalized, PreviewLength),
		Selection: sel,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(timestamp)
	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}

	return &entry
}

// Match returns the newest live entry with the same content as text, or nil.
func (l *Ledger) Match(text string) *Entry {
	return l.MatchAt(text, l.now())
}

// MatchAt is Match evaluated at the given millisecond timestamp. Entries
// recorded after timestamp are not candidates, which keeps replays of an
// event log independent of what a previous replay recorded.
func (l *Ledger) MatchAt(text string, timestamp int64) *Entry {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	hash := Fingerprint(normalized)
	length := utf8.RuneCountInString(normalized)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(timestamp)
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Timestamp > timestamp {
			continue
		}
		if e.Hash == hash && e.Length == length {
			match := e
			return &match
		}
	}
	return nil
}

// prune drops expired entries, then the oldest entries over capacity.
// Caller must hold l.mu.
func (l *Ledger) prune(now int64) {
	ttl := l.ttl.Milliseconds()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if now-e.Timestamp > ttl {
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept

	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}
}

// Len returns the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]Entry, len(l.entries))
	copy(result, l.entries)
	return result
}

// Clear removes every entry.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
