package analysis

import (
	"fmt"
	"math"
)

// Normalization divisors and verdict thresholds. These are fixed: the
// verdict mapping must be reproducible across runs and deployments.
const (
	pauseScoreDivisorMs = 4000.0
	revisionDisplayCap  = 0.2
	burstDisplayCap     = 0.4
	ratioFloor          = 1.05
	ratioCeiling        = 2.0
	ratioDrafting       = 1.25

	lowRevisionInputs  = 30
	lowRevisionScore   = 0.12
	uniformBurstMax    = 0.2
	uniformBurstCount  = 2
	healthyPauseScore  = 0.55
	ratioRuleMinInputs = 10
)

// Reasoning strings, in rule order.
const (
	ReasonUnmatchedPaste  = "Detected unmatched paste segments."
	ReasonLowRevision     = "Low revision activity relative to typed content."
	ReasonUniformBursts   = "Burst pacing is highly uniform."
	ReasonHealthyPauses   = "Healthy macro pauses observed before bursts."
	ReasonShallowDrafting = "Typed volume barely exceeds the final text; little drafting detected."
	ReasonDeepDrafting    = "Product-process ratio suggests authentic drafting."
	ReasonInsufficient    = "Limited signals collected; continue monitoring."
)

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// BurstVariance is the coefficient of variation (population standard
// deviation over mean) of per-burst event counts. It is 0 without bursts.
func BurstVariance(bursts []BurstStat) float64 {
	if len(bursts) == 0 {
		return 0
	}
	n := float64(len(bursts))
	var sum float64
	for _, b := range bursts {
		sum += float64(b.EventCount)
	}
	mean := sum / n
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, b := range bursts {
		d := float64(b.EventCount) - mean
		sq += d * d
	}
	return math.Sqrt(sq/n) / mean
}

// RevisionScore is deletes per text input, or 1 if there were deletes but no
// inputs.
func RevisionScore(deletes, textInputs int) float64 {
	if textInputs == 0 {
		if deletes > 0 {
			return 1
		}
		return 0
	}
	return float64(deletes) / float64(textInputs)
}

// ProductProcessRatio integrates produced and document characters over
// elapsed time with the trapezoidal rule and returns their ratio. When the
// document area is zero it falls back to produced/final, or 0 for an empty
// final document.
func ProductProcessRatio(points []ProcessProductPoint, producedChars, finalChars int) float64 {
	var produced, document float64
	for i := 1; i < len(points); i++ {
		dt := float64(points[i].ElapsedMs - points[i-1].ElapsedMs)
		produced += dt * float64(points[i].ProducedChars+points[i-1].ProducedChars) / 2
		document += dt * float64(points[i].DocumentChars+points[i-1].DocumentChars) / 2
	}
	if document > 0 {
		return produced / document
	}
	if finalChars == 0 {
		return 0
	}
	return float64(producedChars) / float64(finalChars)
}

// NormalizeRatio maps a product-process ratio onto [0,1]: 0 at or below 1.05,
// saturating at 2.
func NormalizeRatio(ratio float64) float64 {
	return clamp((ratio-ratioFloor)/(ratioCeiling-ratioFloor), 0, 1)
}

// scoreVerdict applies the risk rules in order. Every rule is evaluated.
func scoreVerdict(tl *timeline, sig Signals) (Verdict, int, []string) {
	risk := 0
	var reasons []string

	if sig.PasteAnomalyCount > 0 {
		risk += 2
		reasons = append(reasons, ReasonUnmatchedPaste)
	}
	if tl.textInputs > lowRevisionInputs && sig.RevisionScore < lowRevisionScore {
		risk++
		reasons = append(reasons, ReasonLowRevision)
	}
	if sig.BurstVariance < uniformBurstMax && len(tl.bursts) > uniformBurstCount {
		risk++
		reasons = append(reasons, ReasonUniformBursts)
	}
	if sig.PauseScore > healthyPauseScore && tl.macroPauses > 0 {
		risk--
		reasons = append(reasons, ReasonHealthyPauses)
	}
	if tl.textInputs > ratioRuleMinInputs {
		switch {
		case sig.ProductProcessRatio <= ratioFloor:
			risk++
			reasons = append(reasons, ReasonShallowDrafting)
		case sig.ProductProcessRatio >= ratioDrafting:
			risk--
			reasons = append(reasons, ReasonDeepDrafting)
		}
	}

	if len(reasons) == 0 {
		reasons = append(reasons, ReasonInsufficient)
	}
	return VerdictFor(risk), risk, reasons
}

// VerdictFor maps an integer risk score to a verdict.
func VerdictFor(risk int) Verdict {
	switch {
	case risk >= 2:
		return VerdictHighRisk
	case risk == 1:
		return VerdictNeedsReview
	default:
		return VerdictLikelyAuthentic
	}
}

func summaryMetrics(tl *timeline, sig Signals, finalWords int) []SummaryMetric {
	pauseNorm := clamp(sig.PauseScore, 0, 1)
	revisionNorm := clamp(sig.RevisionScore/revisionDisplayCap, 0, 1)
	burstNorm := clamp(sig.BurstVariance/burstDisplayCap, 0, 1)
	pasteNorm := 1.0
	if tl.pasteCount > 0 {
		pasteNorm = clamp(1-float64(tl.suspiciousCount)/float64(tl.pasteCount), 0, 1)
	}
	processNorm := NormalizeRatio(sig.ProductProcessRatio)

	pause := SummaryMetric{
		Key:         "pauseScore",
		Label:       "Pause cadence",
		Value:       fmt.Sprintf("%d%%", int(math.Round(sig.PauseScore*100))),
		Description: "Long pauses before sentences imply live thinking; rote transcription rarely stops.",
		Score:       pauseNorm,
		HelperText:  fmt.Sprintf("%d macro pauses", tl.macroPauses),
	}
	if pauseNorm >= 0.5 {
		pause.Trend = TrendPositive
	}

	revision := SummaryMetric{
		Key:         "revisionScore",
		Label:       "Revision rate",
		Value:       fmt.Sprintf("%.1f%%", sig.RevisionScore*100),
		Description: "Writers who revisit and edit are typically composing, not pasting.",
		Score:       revisionNorm,
		Trend:       TrendNegative,
		HelperText:  fmt.Sprintf("%d deletions", tl.deletes),
	}
	if revisionNorm >= 0.6 {
		revision.Trend = TrendPositive
	}

	burst := SummaryMetric{
		Key:         "burstVariance",
		Label:       "Burst variety",
		Value:       fmt.Sprintf("%.2f", sig.BurstVariance),
		Description: "Authentic sessions vary in rhythm; uniform bursts suggest copying from another source.",
		Score:       burstNorm,
		HelperText:  fmt.Sprintf("%d bursts analysed", len(tl.bursts)),
	}

	paste := SummaryMetric{
		Key:         "pasteRisk",
		Label:       "Paste cleanliness",
		Value:       "No pastes",
		Description: "Unmatched or idle pastes often mean imported text; double-check them.",
		Score:       pasteNorm,
		HelperText:  "No paste activity",
	}
	if tl.pasteCount > 0 {
		paste.Value = fmt.Sprintf("%d/%d", tl.pasteCount-tl.suspiciousCount, tl.pasteCount)
		paste.HelperText = "Clean vs. suspicious payloads"
	}
	switch {
	case pasteNorm >= 0.8:
		paste.Trend = TrendPositive
	case tl.suspiciousCount > 0:
		paste.Trend = TrendNegative
	}

	process := SummaryMetric{
		Key:         "productProcess",
		Label:       "Process depth",
		Value:       fmt.Sprintf("%.2f", sig.ProductProcessRatio),
		Description: "Higher ratios mean more was typed than survived, which signals drafting.",
		Score:       processNorm,
		HelperText:  fmt.Sprintf("%d final words", finalWords),
	}
	if processNorm >= 0.5 {
		process.Trend = TrendPositive
	}

	return []SummaryMetric{pause, revision, burst, paste, process}
}

func summarizeBursts(bursts []BurstStat, variance float64) BurstSummary {
	s := BurstSummary{TotalBursts: len(bursts), Variance: variance}
	if len(bursts) == 0 {
		return s
	}
	var events, chars, duration float64
	for _, b := range bursts {
		events += float64(b.EventCount)
		chars += float64(b.CharCount)
		duration += float64(b.DurationMs)
		if b.DurationMs > s.LongestBurstDurationMs {
			s.LongestBurstDurationMs = b.DurationMs
		}
		if b.CharCount > s.LongestBurstChars {
			s.LongestBurstChars = b.CharCount
		}
	}
	n := float64(len(bursts))
	s.AverageEventsPerBurst = events / n
	s.AverageCharsPerBurst = chars / n
	s.AverageDurationMs = duration / n
	return s
}
