package aggregate

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/risk"
)

const (
	DefaultRecent = 5
	TrendWindow   = 30 * 24 * time.Hour
)

// DocumentCard is the compact document view used by lists and the dashboard.
type DocumentCard struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	UploadedAt  time.Time            `json:"uploaded_at"`
	State       domain.DocumentState `json:"state"`
	RiskLevel   domain.RiskLevel     `json:"risk_level,omitempty"`
	RiskScore   *float64             `json:"risk_score,omitempty"`
	ClauseCount int                  `json:"clause_count"`
	Tags        []string             `json:"tags,omitempty"`
}

// Card builds a DocumentCard. Risk fields are only set for analyzed documents.
func Card(doc *domain.Document) DocumentCard {
	c := DocumentCard{
		ID:         doc.ID,
		Name:       doc.Name,
		UploadedAt: doc.UploadedAt,
		State:      doc.State,
	}
	if doc.Analysis != nil {
		c.ClauseCount = len(doc.Analysis.Clauses)
		c.Tags = doc.Analysis.Tags
	}
	if level := risk.OfDocument(doc); level != "" {
		c.RiskLevel = level
		score := doc.Analysis.OverallRiskScore
		c.RiskScore = &score
	}
	return c
}

// Trend compares uploads in the last window with the window before it.
type Trend struct {
	DocumentsLast30Days int     `json:"documents_last_30_days"`
	DocumentsPrev30Days int     `json:"documents_prev_30_days"`
	Percentage          float64 `json:"trend_percentage"`
	Direction           string  `json:"trend_direction"`
}

// QuickAction is a suggested next step shown on the dashboard.
type QuickAction struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	Count  int    `json:"count"`
}

// Dashboard is Summary plus recent documents, upload trend and quick actions.
type Dashboard struct {
	Summary
	RecentDocuments []DocumentCard `json:"recent_documents"`
	Trends          Trend          `json:"trends"`
	QuickActions    []QuickAction  `json:"quick_actions"`
}

// BuildDashboard aggregates docs and adds the dashboard extras relative to
// now. recent <= 0 uses DefaultRecent.
func BuildDashboard(docs []domain.Document, now time.Time, recent int) (Dashboard, error) {
	summary, err := Aggregate(docs)
	if err != nil {
		return Dashboard{}, err
	}
	if recent <= 0 {
		recent = DefaultRecent
	}

	d := Dashboard{
		Summary:         summary,
		RecentDocuments: []DocumentCard{},
		QuickActions:    []QuickAction{},
	}

	order := make([]int, len(docs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return docs[b].UploadedAt.Compare(docs[a].UploadedAt)
	})
	for _, i := range order[:min(recent, len(order))] {
		d.RecentDocuments = append(d.RecentDocuments, Card(&docs[i]))
	}

	d.Trends = trend(docs, now)

	if summary.PendingAnalysis > 0 {
		d.QuickActions = append(d.QuickActions, QuickAction{
			Action: "analyze_pending",
			Label:  fmt.Sprintf("Analyze %d pending document(s)", summary.PendingAnalysis),
			Count:  summary.PendingAnalysis,
		})
	}
	if high := summary.RiskDistribution.High; high > 0 {
		d.QuickActions = append(d.QuickActions, QuickAction{
			Action: "review_high_risk",
			Label:  fmt.Sprintf("Review %d high-risk document(s)", high),
			Count:  high,
		})
	}
	return d, nil
}

func trend(docs []domain.Document, now time.Time) Trend {
	lastStart := now.Add(-TrendWindow)
	prevStart := lastStart.Add(-TrendWindow)

	var t Trend
	for i := range docs {
		at := docs[i].UploadedAt
		switch {
		case !at.Before(lastStart):
			t.DocumentsLast30Days++
		case !at.Before(prevStart):
			t.DocumentsPrev30Days++
		}
	}

	if t.DocumentsPrev30Days > 0 {
		pct := float64(t.DocumentsLast30Days-t.DocumentsPrev30Days) / float64(t.DocumentsPrev30Days) * 100
		t.Percentage = math.Round(pct*10) / 10
	}
	switch {
	case t.Percentage > 0:
		t.Direction = "up"
	case t.Percentage < 0:
		t.Direction = "down"
	default:
		t.Direction = "stable"
	}
	return t
}
