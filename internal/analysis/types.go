// Package analysis turns a recorded editing session into timeline segments,
// authorship signals and a verdict.
package analysis

// SegmentType is the lane a timeline segment belongs to.
type SegmentType string

const (
	SegmentTyping   SegmentType = "typing"
	SegmentRevision SegmentType = "revision"
	SegmentPause    SegmentType = "pause"
	SegmentPaste    SegmentType = "paste"
)

// PauseSeverity grades pause segments.
type PauseSeverity string

const (
	PauseMicro PauseSeverity = "micro"
	PauseMacro PauseSeverity = "macro"
)

// PasteClassification is the binary provenance of a paste.
type PasteClassification string

const (
	PasteInternalCopy PasteClassification = "internal-copy"
	PasteUnmatched    PasteClassification = "unmatched"
)

// Verdict is the overall authorship assessment.
type Verdict string

const (
	VerdictLikelyAuthentic Verdict = "likely-authentic"
	VerdictNeedsReview     Verdict = "needs-review"
	VerdictHighRisk        Verdict = "high-risk"
)

// Trend marks whether a summary metric reads favourably.
type Trend string

const (
	TrendNone     Trend = ""
	TrendPositive Trend = "positive"
	TrendNegative Trend = "negative"
)

// TimelineSegment is one behavioural unit on the session timeline.
type TimelineSegment struct {
	ID         string         `json:"id"`
	Type       SegmentType    `json:"type"`
	Label      string         `json:"label"`
	Start      int64          `json:"start"`
	End        int64          `json:"end"`
	DurationMs int64          `json:"durationMs"`
	Severity   PauseSeverity  `json:"severity,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// BurstStat is a maximal run of contiguous typing events. End is exclusive.
type BurstStat struct {
	Start      int64 `json:"start"`
	End        int64 `json:"end"`
	DurationMs int64 `json:"durationMs"`
	CharCount  int   `json:"charCount"`
	EventCount int   `json:"eventCount"`
}

// Range is a half-open millisecond interval. A nil Max is unbounded.
type Range struct {
	Min int64  `json:"min"`
	Max *int64 `json:"max,omitempty"`
}

// Contains reports whether ms falls in the range.
func (r Range) Contains(ms int64) bool {
	return ms >= r.Min && (r.Max == nil || ms < *r.Max)
}

// PauseHistogramBin counts pauses whose gap falls in RangeMs.
type PauseHistogramBin struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	RangeMs Range  `json:"rangeMs"`
	Count   int    `json:"count"`
}

// LedgerMatch links a paste to the copy it was traced to.
type LedgerMatch struct {
	CopyEventID string `json:"copyEventId,omitempty"`
	AgeMs       *int64 `json:"ageMs,omitempty"`
}

// PasteInsight describes a single paste.
type PasteInsight struct {
	ID             string              `json:"id"`
	Timestamp      int64               `json:"timestamp"`
	Label          string              `json:"label"`
	PayloadText    string              `json:"payloadText"`
	PayloadLength  int                 `json:"payloadLength"`
	Classification PasteClassification `json:"classification"`
	Suspicious     bool                `json:"suspicious"`
	IdleBeforeMs   int64               `json:"idleBeforeMs"`
	LedgerMatch    *LedgerMatch        `json:"ledgerMatch,omitempty"`
}

// ProcessProductPoint samples typed volume against document size.
type ProcessProductPoint struct {
	Timestamp     int64 `json:"timestamp"`
	ElapsedMs     int64 `json:"elapsedMs"`
	ProducedChars int   `json:"producedChars"`
	DocumentChars int   `json:"documentChars"`
}

// Signals are the five raw authorship signals.
type Signals struct {
	PauseScore          float64 `json:"pauseScore"`
	RevisionScore       float64 `json:"revisionScore"`
	BurstVariance       float64 `json:"burstVariance"`
	PasteAnomalyCount   int     `json:"pasteAnomalyCount"`
	ProductProcessRatio float64 `json:"productProcessRatio"`
}

// SummaryMetric is a display-ready view of one signal. Score is in [0,1].
type SummaryMetric struct {
	Key         string  `json:"key"`
	Label       string  `json:"label"`
	Value       string  `json:"value"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Trend       Trend   `json:"trend,omitempty"`
	HelperText  string  `json:"helperText,omitempty"`
}

// RevisionSummary aggregates editing volume.
type RevisionSummary struct {
	RevisionRate  float64 `json:"revisionRate"`
	TextInputs    int     `json:"textInputs"`
	Deletions     int     `json:"deletions"`
	ProducedChars int     `json:"producedChars"`
	DeletedChars  int     `json:"deletedChars"`
}

// BurstSummary aggregates BurstStats.
type BurstSummary struct {
	TotalBursts            int     `json:"totalBursts"`
	AverageEventsPerBurst  float64 `json:"averageEventsPerBurst"`
	AverageCharsPerBurst   float64 `json:"averageCharsPerBurst"`
	AverageDurationMs      float64 `json:"averageDurationMs"`
	Variance               float64 `json:"variance"`
	LongestBurstDurationMs int64   `json:"longestBurstDurationMs"`
	LongestBurstChars      int     `json:"longestBurstChars"`
}

// SessionAnalysis is the complete result of analyzing one session.
type SessionAnalysis struct {
	Segments               []TimelineSegment     `json:"segments"`
	Bursts                 []BurstStat           `json:"bursts"`
	Metrics                []SummaryMetric       `json:"metrics"`
	PauseHistogram         []PauseHistogramBin   `json:"pauseHistogram"`
	Signals                Signals               `json:"signals"`
	Verdict                Verdict               `json:"verdict"`
	RiskScore              int                   `json:"riskScore"`
	VerdictReasoning       []string              `json:"verdictReasoning"`
	Pastes                 []PasteInsight        `json:"pastes"`
	ProcessProductTimeline []ProcessProductPoint `json:"processProductTimeline"`
	RevisionSummary        RevisionSummary       `json:"revisionSummary"`
	BurstSummary           BurstSummary          `json:"burstSummary"`
}

// Bin returns the histogram bin with the given key.
func (a *SessionAnalysis) Bin(key string) (PauseHistogramBin, bool) {
	for _, b := range a.PauseHistogram {
		if b.Key == key {
			return b, true
		}
	}
	return PauseHistogramBin{}, false
}
