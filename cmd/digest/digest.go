package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/ericksa/policylens/internal/aggregate"
	"github.com/ericksa/policylens/internal/domain"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Digest is the review digest for one owner, or for every owner when Owner
// is empty.
type Digest struct {
	GeneratedAt      time.Time      `json:"generated_at" yaml:"generated_at"`
	Owner            string         `json:"owner,omitempty" yaml:"owner,omitempty"`
	TotalDocuments   int            `json:"total_documents" yaml:"total_documents"`
	Analyzed         int            `json:"analyzed" yaml:"analyzed"`
	Pending          int            `json:"pending" yaml:"pending"`
	AverageRiskScore int            `json:"average_risk_score" yaml:"average_risk_score"`
	Distribution     map[string]int `json:"risk_distribution" yaml:"risk_distribution"`
	TrendPercentage  float64        `json:"trend_percentage" yaml:"trend_percentage"`
	TrendDirection   string         `json:"trend_direction" yaml:"trend_direction"`
	Recent           []DocumentLine `json:"recent_documents" yaml:"recent_documents"`
	OpenClauses      []ClauseLine   `json:"open_high_risk_clauses" yaml:"open_high_risk_clauses"`
	QuickActions     []string       `json:"quick_actions" yaml:"quick_actions"`
	Diagnostics      []string       `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

type DocumentLine struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	State      string    `json:"state" yaml:"state"`
	RiskLevel  string    `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	Clauses    int       `json:"clauses" yaml:"clauses"`
	UploadedAt time.Time `json:"uploaded_at" yaml:"uploaded_at"`
}

// ClauseLine is a high-risk clause nobody has reviewed yet.
type ClauseLine struct {
	DocumentID   string `json:"document_id" yaml:"document_id"`
	DocumentName string `json:"document_name" yaml:"document_name"`
	ClauseID     string `json:"clause_id" yaml:"clause_id"`
	Category     string `json:"category,omitempty" yaml:"category,omitempty"`
	Text         string `json:"text" yaml:"text"`
	Rewrite      string `json:"rewrite,omitempty" yaml:"rewrite,omitempty"`
}

func buildDigest(docs []domain.Document, owner string, now time.Time, recent int) (*Digest, error) {
	dash, err := aggregate.BuildDashboard(docs, now, recent)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate documents: %w", err)
	}

	d := &Digest{
		GeneratedAt:      now,
		Owner:            owner,
		TotalDocuments:   dash.TotalDocuments,
		Analyzed:         dash.AnalyzedDocuments,
		Pending:          dash.PendingAnalysis,
		AverageRiskScore: dash.AverageRiskScore,
		Distribution:     make(map[string]int, len(domain.Levels)),
		TrendPercentage:  dash.Trends.Percentage,
		TrendDirection:   dash.Trends.Direction,
		Recent:           []DocumentLine{},
		OpenClauses:      []ClauseLine{},
		QuickActions:     []string{},
	}
	for _, level := range domain.Levels {
		d.Distribution[strings.ToLower(string(level))] = dash.RiskDistribution.Count(level)
	}
	for _, c := range dash.RecentDocuments {
		d.Recent = append(d.Recent, DocumentLine{
			ID:         c.ID,
			Name:       c.Name,
			State:      string(c.State),
			RiskLevel:  string(c.RiskLevel),
			Clauses:    c.ClauseCount,
			UploadedAt: c.UploadedAt,
		})
	}
	for _, a := range dash.QuickActions {
		d.QuickActions = append(d.QuickActions, a.Label)
	}
	for _, diag := range dash.Diagnostics {
		d.Diagnostics = append(d.Diagnostics, diag.Error())
	}

	for i := range docs {
		doc := &docs[i]
		if !doc.Analyzed() || doc.Analysis == nil {
			continue
		}
		for _, c := range doc.Analysis.Clauses {
			if c.RiskLevel != domain.RiskHigh || c.ReviewState != domain.ReviewUnreviewed {
				continue
			}
			d.OpenClauses = append(d.OpenClauses, ClauseLine{
				DocumentID:   doc.ID,
				DocumentName: doc.Name,
				ClauseID:     c.ID,
				Category:     c.Category,
				Text:         clip(c.Text, 120),
				Rewrite:      c.RewriteSuggestion,
			})
		}
	}
	return d, nil
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func writeJSON(w io.Writer, d *Digest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func writeYAML(w io.Writer, d *Digest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

var levelColors = map[string]*color.Color{
	"high":   color.New(color.FgRed, color.Bold),
	"medium": color.New(color.FgYellow),
	"low":    color.New(color.FgGreen),
}

func writeConsole(w io.Writer, d *Digest) {
	title := color.New(color.FgWhite, color.Bold)
	header := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	rule := strings.Repeat("=", 64)
	fmt.Fprintln(w, rule)
	title.Fprintln(w, "                    POLICY REVIEW DIGEST")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Generated: %s\n", d.GeneratedAt.Format("Mon Jan 2, 2006 3:04 PM"))
	if d.Owner != "" {
		fmt.Fprintf(w, "Owner:     %s\n", d.Owner)
	}
	fmt.Fprintln(w)

	header.Fprintln(w, "SUMMARY")
	fmt.Fprintf(w, "  Documents:      %3d\n", d.TotalDocuments)
	fmt.Fprintf(w, "  Analyzed:       %3d\n", d.Analyzed)
	fmt.Fprintf(w, "  Pending:        %3d\n", d.Pending)
	fmt.Fprintf(w, "  Average risk:   %3d\n", d.AverageRiskScore)
	for _, level := range []string{"high", "medium", "low"} {
		fmt.Fprintf(w, "  %-15s %3d\n", levelColors[level].Sprint(strings.ToUpper(level[:1])+level[1:])+":", d.Distribution[level])
	}
	fmt.Fprintf(w, "  Uploads trend:  %s %.1f%%\n", d.TrendDirection, d.TrendPercentage)

	if len(d.Recent) > 0 {
		fmt.Fprintln(w)
		header.Fprintf(w, "RECENT DOCUMENTS (%d)\n", len(d.Recent))
		for _, doc := range d.Recent {
			level := "-"
			if doc.RiskLevel != "" {
				level = levelColors[strings.ToLower(doc.RiskLevel)].Sprint(doc.RiskLevel)
			}
			fmt.Fprintf(w, "  [%.8s] %s  %s  %s\n", doc.ID, doc.Name, dim.Sprint(doc.State), level)
		}
	}

	if len(d.OpenClauses) > 0 {
		fmt.Fprintln(w)
		header.Fprintf(w, "HIGH-RISK CLAUSES AWAITING REVIEW (%d)\n", len(d.OpenClauses))
		for _, c := range d.OpenClauses {
			fmt.Fprintf(w, "  %s #%s  %s\n", c.DocumentName, c.ClauseID, dim.Sprint(c.Category))
			fmt.Fprintf(w, "      %s\n", c.Text)
			if c.Rewrite != "" {
				fmt.Fprintf(w, "      -> %s\n", c.Rewrite)
			}
		}
	}

	if len(d.QuickActions) > 0 {
		fmt.Fprintln(w)
		header.Fprintln(w, "NEXT STEPS")
		for _, a := range d.QuickActions {
			fmt.Fprintf(w, "  - %s\n", a)
		}
	}

	if d.TotalDocuments == 0 {
		fmt.Fprintln(w, "No documents found.")
	}
	fmt.Fprintln(w, rule)
}

const markdownTemplate = `# Policy Review Digest
**Generated:** {{.GeneratedAt.Format "Mon Jan 2, 2006 3:04 PM"}}{{if .Owner}}
**Owner:** {{.Owner}}{{end}}

## Summary

| Metric | Value |
|--------|-------|
| Documents | {{.TotalDocuments}} |
| Analyzed | {{.Analyzed}} |
| Pending | {{.Pending}} |
| Average risk score | {{.AverageRiskScore}} |
| High | {{index .Distribution "high"}} |
| Medium | {{index .Distribution "medium"}} |
| Low | {{index .Distribution "low"}} |
| Upload trend | {{.TrendDirection}} {{printf "%.1f" .TrendPercentage}}% |
{{if gt (len .Recent) 0}}
## Recent Documents ({{len .Recent}})
{{range .Recent}}
- **[{{.ID | printf "%.8s"}}]** {{.Name}} ({{.State}}{{if .RiskLevel}}, {{.RiskLevel}} risk{{end}}, {{.Clauses}} clauses)
{{- end}}
{{end}}
{{- if gt (len .OpenClauses) 0}}
## High-Risk Clauses Awaiting Review ({{len .OpenClauses}})
{{range .OpenClauses}}
- **{{.DocumentName}} #{{.ClauseID}}**{{if .Category}} ({{.Category}}){{end}}: {{.Text}}
  {{- if .Rewrite}}
  - Suggested: {{.Rewrite}}
  {{- end}}
{{- end}}
{{end}}
{{- if gt (len .QuickActions) 0}}
## Next Steps
{{range .QuickActions}}
- {{.}}
{{- end}}
{{end}}
{{- if eq .TotalDocuments 0}}
No documents found.
{{end}}`

var markdown = template.Must(template.New("digest").Parse(markdownTemplate))

func writeMarkdown(w io.Writer, d *Digest) error {
	return markdown.Execute(w, d)
}
