// Package risk is the single source of truth for turning scores and labels
// into risk buckets. Every view that shows a bucket goes through Classify.
package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/ericksa/policylens/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	HighThreshold   = 70.0
	MediumThreshold = 40.0
	MinScore        = 0.0
	MaxScore        = 100.0
)

// Classify maps a 0-100 score to a bucket. Invalid scores fall back to Medium.
func Classify(score float64) domain.RiskLevel {
	level, _ := Assess(score)
	return level
}

// Assess is Classify plus the diagnostic raised for a NaN or out-of-range
// score. The diagnostic is nil for valid scores.
func Assess(score float64) (domain.RiskLevel, *domain.Diagnostic) {
	if math.IsNaN(score) || score < MinScore || score > MaxScore {
		return domain.RiskMedium, &domain.Diagnostic{
			Kind:   domain.DiagScoreOutOfRange,
			Detail: fmt.Sprintf("score %v outside [0,100], classified as Medium", score),
		}
	}
	switch {
	case score >= HighThreshold:
		return domain.RiskHigh, nil
	case score >= MediumThreshold:
		return domain.RiskMedium, nil
	default:
		return domain.RiskLow, nil
	}
}

// Bounded maps a score into [MinScore, MaxScore] so it can be stored and
// averaged. NaN becomes the middle of the Medium band, matching Classify.
func Bounded(score float64) float64 {
	if math.IsNaN(score) {
		return (MediumThreshold + HighThreshold) / 2
	}
	return math.Max(MinScore, math.Min(MaxScore, score))
}

// ParseLevel normalizes a categorical label from the analyzer. Known labels
// pass through; "critical" and "severe" map to High, "moderate" to Medium.
// Anything else is Medium with a diagnostic.
func ParseLevel(label string) (domain.RiskLevel, *domain.Diagnostic) {
	// Casers carry state, so one is built per call.
	normalized := cases.Title(language.Und).String(strings.TrimSpace(label))
	switch normalized {
	case "Low", "Minor":
		return domain.RiskLow, nil
	case "Medium", "Moderate":
		return domain.RiskMedium, nil
	case "High", "Critical", "Severe":
		return domain.RiskHigh, nil
	}
	return domain.RiskMedium, &domain.Diagnostic{
		Kind:   domain.DiagUnknownRiskLabel,
		Detail: fmt.Sprintf("unknown risk label %q, treated as Medium", label),
	}
}

// OfAnalysis returns the analysis' declared level, or classifies its score
// when no level was supplied.
func OfAnalysis(a *domain.Analysis) domain.RiskLevel {
	if a == nil {
		return ""
	}
	if a.OverallRiskLevel.Valid() {
		return a.OverallRiskLevel
	}
	return Classify(a.OverallRiskScore)
}

// OfDocument is OfAnalysis for analyzed documents and "" otherwise.
func OfDocument(d *domain.Document) domain.RiskLevel {
	if d == nil || !d.Analyzed() {
		return ""
	}
	return OfAnalysis(d.Analysis)
}

// ScoreFromLevels converts clause levels into a 0-100 score: the mean rank
// (Low=1..High=3) rescaled so all-Low is 0 and all-High is 100.
func ScoreFromLevels(levels []domain.RiskLevel) float64 {
	if len(levels) == 0 {
		return 0
	}
	total := 0
	for _, l := range levels {
		r := l.Rank()
		if r == 0 {
			r = domain.RiskLow.Rank()
		}
		total += r
	}
	avg := float64(total) / float64(len(levels))
	maxRank := float64(domain.RiskHigh.Rank())
	return math.Trunc((avg - 1) / (maxRank - 1) * 100)
}
