// Package aggregate computes collection-level risk statistics. Every
// function is a pure function of the documents passed in.
package aggregate

import (
	"fmt"
	"math"

	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/risk"
)

// Distribution counts documents per risk bucket.
type Distribution struct {
	Low    int `json:"Low"`
	Medium int `json:"Medium"`
	High   int `json:"High"`
}

func (d *Distribution) add(level domain.RiskLevel) {
	switch level {
	case domain.RiskLow:
		d.Low++
	case domain.RiskMedium:
		d.Medium++
	case domain.RiskHigh:
		d.High++
	}
}

// Count returns the number of documents in the given bucket.
func (d Distribution) Count(level domain.RiskLevel) int {
	switch level {
	case domain.RiskLow:
		return d.Low
	case domain.RiskMedium:
		return d.Medium
	case domain.RiskHigh:
		return d.High
	}
	return 0
}

// Summary is the dashboard's headline statistics.
type Summary struct {
	TotalDocuments    int                 `json:"total_documents"`
	AnalyzedDocuments int                 `json:"analyzed_documents"`
	PendingAnalysis   int                 `json:"pending_analysis"`
	AverageRiskScore  int                 `json:"average_risk_score"`
	RiskDistribution  Distribution        `json:"risk_distribution"`
	Diagnostics       []domain.Diagnostic `json:"diagnostics,omitempty"`
}

// Aggregate summarizes a document collection. Only documents in the analyzed
// state contribute to the average and the distribution; reanalyzing
// documents count as pending. An analyzed document without an analysis is
// the only error.
func Aggregate(docs []domain.Document) (Summary, error) {
	s := Summary{TotalDocuments: len(docs)}

	var total float64
	scored := 0
	for i := range docs {
		doc := &docs[i]
		if !doc.Analyzed() {
			continue
		}
		if doc.Analysis == nil {
			return Summary{}, &domain.InconsistentStateError{
				DocumentID: doc.ID,
				Reason:     "document is analyzed but has no analysis",
			}
		}
		s.AnalyzedDocuments++

		score := doc.Analysis.OverallRiskScore
		if _, diag := risk.Assess(score); diag != nil {
			diag.Ref = doc.ID
			s.Diagnostics = append(s.Diagnostics, *diag)
		}
		if !math.IsNaN(score) {
			total += math.Max(risk.MinScore, math.Min(risk.MaxScore, score))
			scored++
		}

		level := doc.Analysis.OverallRiskLevel
		if level != "" && !level.Valid() {
			s.Diagnostics = append(s.Diagnostics, domain.Diagnostic{
				Kind:   domain.DiagUnknownRiskLabel,
				Ref:    doc.ID,
				Detail: fmt.Sprintf("overall risk level %q ignored, classified from score", level),
			})
		}
		s.RiskDistribution.add(risk.OfAnalysis(doc.Analysis))
	}

	s.PendingAnalysis = s.TotalDocuments - s.AnalyzedDocuments
	if scored > 0 {
		s.AverageRiskScore = int(math.Round(total / float64(scored)))
	}
	return s, nil
}
