// Package domain holds the document, analysis and clause model shared by the
// segmenter, classifier, aggregation engine and review workflow.
package domain

import "time"

// RiskLevel is the canonical risk bucket.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Levels lists the buckets from least to most severe.
var Levels = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

// Rank orders levels (Low=1, Medium=2, High=3). Unknown levels rank 0.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether l is one of the three buckets.
func (l RiskLevel) Valid() bool {
	return l.Rank() > 0
}

// ReviewState is a reviewer's decision on a clause's suggested rewrite.
type ReviewState string

const (
	ReviewUnreviewed ReviewState = "unreviewed"
	ReviewAccepted   ReviewState = "accepted"
	ReviewRejected   ReviewState = "rejected"
)

// DocumentState tracks where a document is in the analysis lifecycle.
type DocumentState string

const (
	StatePending     DocumentState = "pending"
	StateAnalyzed    DocumentState = "analyzed"
	// StateReanalyzing is an analyzed document whose analysis is stale while a
	// new pass is in flight. It does not count as analyzed.
	StateReanalyzing DocumentState = "reanalyzing"
)

// AnalysisVersion is the schema version stamped on analyses built at the
// storage boundary.
const AnalysisVersion = 1

// Document is an uploaded policy document and its optional analysis.
type Document struct {
	ID          string        `json:"id"`
	Owner       string        `json:"owner"`
	Name        string        `json:"name"`
	BlobKey     string        `json:"blob_key,omitempty"`
	ContentType string        `json:"content_type,omitempty"`
	Text        string        `json:"text"`
	UploadedAt  time.Time     `json:"uploaded_at"`
	State       DocumentState `json:"state"`
	Analysis    *Analysis     `json:"analysis,omitempty"`
}

// Analyzed reports whether the document is in the analyzed state.
func (d *Document) Analyzed() bool {
	return d.State == StateAnalyzed
}

// Analysis is the result of one analysis pass. It exclusively owns its clauses.
type Analysis struct {
	Version          int       `json:"version"`
	OverallRiskScore float64   `json:"overall_risk_score"`
	OverallRiskLevel RiskLevel `json:"overall_risk_level,omitempty"`
	Clauses          []Clause  `json:"clauses"`
	Tags             []string  `json:"tags"`
	DiffSummary      string    `json:"diff_summary,omitempty"`
	Checksum         string    `json:"checksum,omitempty"`
	AnalyzedAt       time.Time `json:"analyzed_at"`
}

// Clause returns a pointer to the clause with the given id.
func (a *Analysis) Clause(id string) (*Clause, bool) {
	if a == nil {
		return nil, false
	}
	for i := range a.Clauses {
		if a.Clauses[i].ID == id {
			return &a.Clauses[i], true
		}
	}
	return nil, false
}

// Clause is a flagged span of document text. Offsets are rune offsets, end
// exclusive.
type Clause struct {
	ID                string      `json:"id"`
	StartOffset       int         `json:"start_offset"`
	EndOffset         int         `json:"end_offset"`
	Text              string      `json:"text,omitempty"`
	RiskLevel         RiskLevel   `json:"risk_level"`
	Category          string      `json:"category,omitempty"`
	Explanation       string      `json:"explanation,omitempty"`
	RewriteSuggestion string      `json:"rewrite_suggestion,omitempty"`
	ReviewState       ReviewState `json:"review_state"`
}
