package analysis

import (
	"typewitness/internal/clipboard"
	"typewitness/internal/correlate"
	"typewitness/internal/plaintext"
	"typewitness/internal/recorder"
)

// Option configures Analyze.
type Option func(*options)

type options struct {
	ledger *clipboard.Ledger
}

// WithLedger correlates pastes against ledger instead of a fresh one.
func WithLedger(l *clipboard.Ledger) Option {
	return func(o *options) {
		o.ledger = l
	}
}

// Analyze correlates raw recorder events and analyzes the result against the
// final document HTML. It never fails: missing fields take their zero
// defaults and an empty session yields a neutral analysis.
func Analyze(events []recorder.Event, finalHTML string, opts ...Option) *SessionAnalysis {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	correlated := correlate.New(o.ledger).Correlate(events)
	return AnalyzeCorrelated(correlated, finalHTML)
}

// AnalyzeCorrelated analyzes events that already went through a Correlator.
// Linked duplicates are dropped here, and the remaining events are processed
// in (timestamp, index) order.
func AnalyzeCorrelated(correlated []recorder.Event, finalHTML string) *SessionAnalysis {
	events := correlate.ForAnalysis(recorder.Ordered(correlated))

	tl := newTimeline()
	for _, ev := range events {
		tl.add(ev)
	}

	finalText := plaintext.FromHTML(finalHTML)
	finalChars := plaintext.Length(finalHTML)
	tl.finish(finalChars)

	var meanMacroPause float64
	if tl.macroPauses > 0 {
		meanMacroPause = float64(tl.macroPauseTotal) / float64(tl.macroPauses)
	}

	sig := Signals{
		PauseScore:          clamp(meanMacroPause/pauseScoreDivisorMs, 0, 1),
		RevisionScore:       RevisionScore(tl.deletes, tl.textInputs),
		BurstVariance:       BurstVariance(tl.bursts),
		PasteAnomalyCount:   tl.suspiciousCount,
		ProductProcessRatio: ProductProcessRatio(tl.points, tl.producedChars, finalChars),
	}

	verdict, risk, reasons := scoreVerdict(tl, sig)

	return &SessionAnalysis{
		Segments:               nonNil(tl.segments),
		Bursts:                 nonNil(tl.bursts),
		Metrics:                summaryMetrics(tl, sig, plaintext.WordCount(finalText)),
		PauseHistogram:         tl.histogram,
		Signals:                sig,
		Verdict:                verdict,
		RiskScore:              risk,
		VerdictReasoning:       reasons,
		Pastes:                 nonNil(tl.pastes),
		ProcessProductTimeline: tl.points,
		RevisionSummary: RevisionSummary{
			RevisionRate:  sig.RevisionScore,
			TextInputs:    tl.textInputs,
			Deletions:     tl.deletes,
			ProducedChars: tl.producedChars,
			DeletedChars:  tl.deletedChars,
		},
		BurstSummary: summarizeBursts(tl.bursts, sig.BurstVariance),
	}
}

// nonNil keeps empty collections encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
