package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ericksa/policylens/internal/analysis"
	"github.com/ericksa/policylens/internal/domain"
)

var rewrites = map[string]string{
	"non-compete": "Limit any non-compete obligation to a defined region and no more than twelve months.",
	"non compete": "Limit any non-compete obligation to a defined region and no more than twelve months.",
	"penalty":     "Replace the penalty with a capped, pre-estimated liquidated damages amount.",
	"forfeit":     "Provide a cure period and pro-rata refund instead of forfeiture.",
	"terminate":   "Allow either party to terminate on thirty days' written notice.",
	"termination": "Allow either party to terminate on thirty days' written notice.",
	"indemnif":    "Make indemnification mutual and cap it at the fees paid in the preceding twelve months.",
}

var categories = map[string]string{
	"non-compete":           "Restrictive Covenant",
	"non compete":           "Restrictive Covenant",
	"penalty":               "Liability",
	"forfeit":               "Liability",
	"terminate":             "Termination",
	"termination":           "Termination",
	"indemnif":              "Indemnification",
	"confidential":          "Confidentiality",
	"privacy":               "Data Protection",
	"data protection":       "Data Protection",
	"intellectual property": "Intellectual Property",
}

// Heuristic analyzes text locally with the keyword table. Every numbered
// clause or section becomes one clause; only High clauses get a rewrite.
type Heuristic struct{}

type heuristicClause struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Risk        string `json:"risk"`
	Category    string `json:"category,omitempty"`
	Explanation string `json:"explanation"`
	Rewrite     string `json:"rewrite,omitempty"`
}

func (Heuristic) Analyze(ctx context.Context, text string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pieces := analysis.SplitClauses(text)
	clauses := make([]heuristicClause, 0, len(pieces))
	for i, p := range pieces {
		level := analysis.KeywordLevel(p.Text)
		c := heuristicClause{
			ID:          fmt.Sprintf("%d", i+1),
			Text:        p.Text,
			Start:       p.Start,
			End:         p.End,
			Risk:        string(level),
			Explanation: "No risk keywords found.",
		}
		if kws := analysis.Keywords(p.Text); len(kws) > 0 {
			c.Category = categories[kws[0]]
			c.Explanation = fmt.Sprintf("Mentions %s.", strings.Join(kws, ", "))
			if level == domain.RiskHigh {
				for _, kw := range kws {
					if r, ok := rewrites[kw]; ok {
						c.Rewrite = r
						break
					}
				}
			}
		}
		clauses = append(clauses, c)
	}
	return json.Marshal(map[string]any{
		"clauses": clauses,
		"tags":    analysis.DetectIndustries(text),
	})
}
