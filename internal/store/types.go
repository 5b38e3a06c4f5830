// Package store persists analyzed sessions and their verdict history in SQLite.
package store

import (
	"time"

	"typewitness/internal/analysis"
)

// SessionRecord is an imported recording.
type SessionRecord struct {
	SessionID     string    `json:"sessionId"`
	SessionHash   string    `json:"sessionHash"`
	SourcePath    string    `json:"sourcePath,omitempty"`
	EventCount    int       `json:"eventCount"`
	DocumentChars int       `json:"documentChars"`
	ImportedAt    time.Time `json:"importedAt"`
}

// AnalysisRecord is one stored analysis run together with its session.
type AnalysisRecord struct {
	ID        string           `json:"id"`
	Session   SessionRecord    `json:"session"`
	Verdict   analysis.Verdict `json:"verdict"`
	RiskScore int              `json:"riskScore"`
	Signals   analysis.Signals `json:"signals"`
	Reasoning []string         `json:"reasoning"`
	CreatedAt time.Time        `json:"createdAt"`
}
