package risk

import (
	"math"
	"testing"

	"github.com/ericksa/policylens/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		score    float64
		expected domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{39, domain.RiskLow},
		{39.99, domain.RiskLow},
		{40, domain.RiskMedium},
		{69, domain.RiskMedium},
		{69.5, domain.RiskMedium},
		{70, domain.RiskHigh},
		{100, domain.RiskHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Classify(tt.score), "score %v", tt.score)
	}
}

func TestAssess_InvalidScores(t *testing.T) {
	for _, score := range []float64{math.NaN(), -1, 100.5, math.Inf(1)} {
		level, diag := Assess(score)
		assert.Equal(t, domain.RiskMedium, level)
		require.NotNil(t, diag)
		assert.Equal(t, domain.DiagScoreOutOfRange, diag.Kind)
	}

	_, diag := Assess(55)
	assert.Nil(t, diag)
}

func TestParseLevel(t *testing.T) {
	level, diag := ParseLevel("high")
	assert.Equal(t, domain.RiskHigh, level)
	assert.Nil(t, diag)

	level, _ = ParseLevel(" LOW ")
	assert.Equal(t, domain.RiskLow, level)

	level, _ = ParseLevel("critical")
	assert.Equal(t, domain.RiskHigh, level)

	level, diag = ParseLevel("spicy")
	assert.Equal(t, domain.RiskMedium, level)
	require.NotNil(t, diag)
	assert.Equal(t, domain.DiagUnknownRiskLabel, diag.Kind)
}

func TestOfAnalysis_PrefersDeclaredLevel(t *testing.T) {
	assert.Equal(t, domain.RiskLow, OfAnalysis(&domain.Analysis{OverallRiskScore: 90, OverallRiskLevel: domain.RiskLow}))
	assert.Equal(t, domain.RiskHigh, OfAnalysis(&domain.Analysis{OverallRiskScore: 90}))
	assert.Equal(t, domain.RiskLevel(""), OfAnalysis(nil))
}

func TestOfDocument_OnlyAnalyzed(t *testing.T) {
	doc := &domain.Document{State: domain.StateReanalyzing, Analysis: &domain.Analysis{OverallRiskScore: 80}}
	assert.Equal(t, domain.RiskLevel(""), OfDocument(doc))

	doc.State = domain.StateAnalyzed
	assert.Equal(t, domain.RiskHigh, OfDocument(doc))
}

func TestScoreFromLevels(t *testing.T) {
	assert.Equal(t, 0.0, ScoreFromLevels(nil))
	assert.Equal(t, 0.0, ScoreFromLevels([]domain.RiskLevel{domain.RiskLow, domain.RiskLow}))
	assert.Equal(t, 100.0, ScoreFromLevels([]domain.RiskLevel{domain.RiskHigh}))
	assert.Equal(t, 50.0, ScoreFromLevels([]domain.RiskLevel{domain.RiskLow, domain.RiskHigh}))
	// (1+2+3+3)/4 = 2.25 -> 62.5 truncated
	assert.Equal(t, 62.0, ScoreFromLevels([]domain.RiskLevel{domain.RiskLow, domain.RiskMedium, domain.RiskHigh, domain.RiskHigh}))
}

func TestBounded(t *testing.T) {
	assert.Equal(t, 55.0, Bounded(math.NaN()))
	assert.Equal(t, domain.RiskMedium, Classify(Bounded(math.NaN())))
	assert.Equal(t, 100.0, Bounded(math.Inf(1)))
	assert.Equal(t, 0.0, Bounded(-3))
	assert.Equal(t, 42.5, Bounded(42.5))
}
