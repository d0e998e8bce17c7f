// Package analysis turns loosely shaped analyzer payloads into validated,
// versioned domain.Analysis values and holds the local heuristics applied on
// top of them.
package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/risk"
)

var (
	ErrMalformed = errors.New("malformed analysis payload")
	ErrReported  = errors.New("analyzer reported an error")
)

var fenceRe = regexp.MustCompile("```[a-zA-Z]*")

// CleanJSON strips markdown code fences from a model response.
func CleanJSON(raw string) string {
	return strings.Trim(fenceRe.ReplaceAllString(raw, ""), "` \n\r\t")
}

// Decoder converts raw analyzer output. With Reinforce set, clause levels are
// raised by the keyword table before the overall score is derived, and
// industry tags are detected when the payload has none.
type Decoder struct {
	Reinforce bool
}

// Decode is Decoder{}.Decode.
func Decode(raw []byte, text string) (*domain.Analysis, []domain.Diagnostic, error) {
	return Decoder{}.Decode(raw, text)
}

// Decode validates raw against the document text. Recoverable problems are
// normalized and returned as diagnostics; only payloads that are not JSON
// objects, or that carry nothing but an analyzer error, fail.
func (d Decoder) Decode(raw []byte, text string) (*domain.Analysis, []domain.Diagnostic, error) {
	obj, err := Unwrap(raw)
	if err != nil {
		return nil, nil, err
	}

	var diags []domain.Diagnostic
	a := &domain.Analysis{
		Version:     domain.AnalysisVersion,
		Tags:        stringList(obj["tags"]),
		DiffSummary: firstString(obj, "diff_summary"),
		Checksum:    firstString(obj, "checksum", "cache_hash"),
	}
	if at := firstString(obj, "analyzed_at"); at != "" {
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			a.AnalyzedAt = t
		}
	}

	a.Clauses, diags = d.clauses(obj["clauses"], []rune(text))

	levels := make([]domain.RiskLevel, len(a.Clauses))
	for i, c := range a.Clauses {
		levels[i] = c.RiskLevel
	}
	if score, ok := firstNumber(obj, "overall_risk_score", "risk_score", "score"); ok {
		if _, diag := risk.Assess(score); diag != nil {
			diags = append(diags, *diag)
			score = risk.Bounded(score)
		}
		a.OverallRiskScore = score
	} else {
		a.OverallRiskScore = risk.ScoreFromLevels(levels)
	}

	if label := firstString(obj, "overall_risk_level", "overall_risk"); label != "" {
		level, diag := risk.ParseLevel(label)
		if diag != nil {
			diags = append(diags, *diag)
		} else {
			a.OverallRiskLevel = level
		}
	}

	if d.Reinforce && len(a.Tags) == 0 {
		a.Tags = DetectIndustries(text)
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	return a, diags, nil
}

// Unwrap decodes a payload to its result object, descending into a
// "structured" wrapper or a fenced "raw_response" string.
func Unwrap(raw []byte) (map[string]any, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	if inner, ok := obj["structured"].(map[string]any); ok && len(inner) > 0 {
		obj = inner
	} else if rr, ok := obj["raw_response"].(string); ok && strings.TrimSpace(rr) != "" {
		inner, err := decodeObject([]byte(CleanJSON(rr)))
		if err != nil {
			return nil, fmt.Errorf("raw_response: %w", err)
		}
		obj = inner
	}

	if msg, ok := obj["error"].(string); ok && msg != "" && obj["clauses"] == nil {
		return nil, fmt.Errorf("%w: %s", ErrReported, msg)
	}
	return obj, nil
}

func (d Decoder) clauses(v any, text []rune) ([]domain.Clause, []domain.Diagnostic) {
	items, _ := v.([]any)
	clauses := make([]domain.Clause, 0, len(items))
	var diags []domain.Diagnostic
	seen := make(map[string]int)
	cursor := 0

	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			diags = append(diags, domain.Diagnostic{
				Kind:   domain.DiagSpanDropped,
				Ref:    strconv.Itoa(i),
				Detail: "clause entry is not an object",
			})
			continue
		}

		c := domain.Clause{
			ID:                firstString(m, "id", "clause_id"),
			Text:              strings.TrimSpace(firstString(m, "text", "clause", "clause_text")),
			Category:          firstString(m, "category", "type"),
			Explanation:       firstString(m, "explanation", "explain"),
			RewriteSuggestion: firstString(m, "rewrite", "suggested_rewrite", "rewrite_suggestion"),
			ReviewState:       domain.ReviewUnreviewed,
		}
		if c.ID == "" {
			c.ID = strconv.Itoa(i + 1)
		}
		if n := seen[c.ID]; n > 0 {
			id := fmt.Sprintf("%s-%d", c.ID, n+1)
			diags = append(diags, domain.Diagnostic{
				Kind:   domain.DiagDuplicateClause,
				Ref:    c.ID,
				Detail: fmt.Sprintf("duplicate clause id renamed to %q", id),
			})
			c.ID = id
		}
		seen[c.ID]++

		start, hasStart := firstNumber(m, "start", "start_offset", "start_position")
		end, hasEnd := firstNumber(m, "end", "end_offset", "end_position")
		if hasStart && hasEnd {
			c.StartOffset, c.EndOffset = offset(start, len(text)), offset(end, len(text))
		} else if s, e, found := locate(text, c.Text, cursor); found {
			c.StartOffset, c.EndOffset = s, e
			cursor = e
		} else {
			diags = append(diags, domain.Diagnostic{
				Kind:   domain.DiagClauseUnlocated,
				Ref:    c.ID,
				Detail: "clause text not found in document, not rendered",
			})
		}

		label := firstString(m, "risk", "severity", "risk_level")
		switch {
		case label != "":
			level, diag := risk.ParseLevel(label)
			if diag != nil {
				diag.Ref = c.ID
				diags = append(diags, *diag)
			}
			c.RiskLevel = level
		default:
			if score, ok := firstNumber(m, "risk_score", "score"); ok {
				level, diag := risk.Assess(score)
				if diag != nil {
					diag.Ref = c.ID
					diags = append(diags, *diag)
				}
				c.RiskLevel = level
			} else {
				c.RiskLevel = domain.RiskLow
			}
		}
		if d.Reinforce {
			c.RiskLevel = Reinforce(c.Text, c.RiskLevel)
		}

		clauses = append(clauses, c)
	}
	return clauses, diags
}

// offset converts a payload offset to an int. Values outside the text are
// pinned one rune past its bounds so the segmenter still reports them as
// clamped; NaN is treated as before the start.
func offset(f float64, n int) int {
	switch {
	case math.IsNaN(f) || f < 0:
		return -1
	case f > float64(n):
		return n + 1
	}
	return int(f)
}

// locate finds needle in text at or after from, falling back to a search
// from the start. Offsets are in runes.
func locate(text []rune, needle string, from int) (int, int, bool) {
	if needle == "" {
		return 0, 0, false
	}
	n := utf8.RuneCountInString(needle)
	for _, origin := range []int{from, 0} {
		if origin > len(text) {
			continue
		}
		hay := string(text[origin:])
		if idx := strings.Index(hay, needle); idx >= 0 {
			start := origin + utf8.RuneCountInString(hay[:idx])
			return start, start + n, true
		}
		if origin == 0 {
			break
		}
	}
	return 0, 0, false
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object, got %T", ErrMalformed, v)
	}
	return obj, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
