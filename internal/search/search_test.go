package search

import (
	"strings"
	"testing"

	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"liability", "cap"}, Terms("  Liability CAP liability "))
	assert.Empty(t, Terms("   "))
}

func TestHighlights(t *testing.T) {
	hs := Highlights("Über fees and FEES", []string{"fees"})
	assert.Equal(t, []segment.Highlight{{Start: 5, End: 9}, {Start: 14, End: 18}}, hs)

	hs = Highlights("a.b axb", []string{"a.b"})
	assert.Equal(t, []segment.Highlight{{Start: 0, End: 3}}, hs)
}

func TestHighlights_FoldedForms(t *testing.T) {
	hs := Highlights("Die Straße endet", Terms("STRASSE"))
	assert.Equal(t, []segment.Highlight{{Start: 4, End: 10}}, hs)

	hs = Highlights("Maß", []string{"s"})
	assert.Equal(t, []segment.Highlight{{Start: 2, End: 3}}, hs)
}

func TestExcerpt(t *testing.T) {
	text := strings.Repeat("x", 100) + "target" + strings.Repeat("y", 100)
	hs := Highlights(text, []string{"target"})

	snippet, local := Excerpt(text, hs, 40)
	assert.Len(t, []rune(snippet), 40)
	require.Len(t, local, 1)
	assert.Equal(t, "target", string([]rune(snippet)[local[0].Start:local[0].End]))

	short, same := Excerpt("short text", nil, 40)
	assert.Equal(t, "short text", short)
	assert.Nil(t, same)
}

func TestExcerpt_ClipsHighlightAtWindowEdge(t *testing.T) {
	text := "abcdefghij"
	snippet, local := Excerpt(text, []segment.Highlight{{Start: 0, End: 2}, {Start: 3, End: 9}}, 5)
	assert.Equal(t, "abcde", snippet)
	assert.Equal(t, []segment.Highlight{{Start: 0, End: 2}, {Start: 3, End: 5}}, local)
}

func TestRank(t *testing.T) {
	docs := []domain.Document{
		{ID: "one", Text: "The supplier limits liability to fees paid."},
		{ID: "two", Text: "Liability is unlimited. Liability survives termination. No fees."},
		{ID: "three", Text: "Nothing relevant here."},
		{ID: "four", Text: "Fees only."},
	}

	results := Rank(docs, "liability fees", Options{})
	require.Len(t, results, 2)
	assert.Equal(t, "two", results[0].Document.ID)
	assert.Equal(t, "one", results[1].Document.ID)
	assert.Greater(t, results[0].Score, results[1].Score)

	var marked []string
	for _, s := range results[1].Segments {
		if s.Annotated {
			marked = append(marked, s.Text)
		}
	}
	assert.Equal(t, []string{"liability", "fees"}, marked)
}

func TestRank_LimitAndEmptyQuery(t *testing.T) {
	var docs []domain.Document
	for i := 0; i < 30; i++ {
		docs = append(docs, domain.Document{ID: string(rune('a' + i%26)), Text: "indemnify"})
	}
	assert.Len(t, Rank(docs, "indemnify", Options{}), DefaultLimit)
	assert.Len(t, Rank(docs, "indemnify", Options{Limit: 3}), 3)
	assert.Empty(t, Rank(docs, "  ", Options{}))
}

func TestRank_EveryHitIsHighlighted(t *testing.T) {
	docs := []domain.Document{
		{ID: "de", Text: "Die Haftung gilt für jede Straße."},
		{ID: "sigma", Text: "ΣΟΦΙΑ clause"},
	}
	for _, q := range []string{"strasse", "σοφια"} {
		results := Rank(docs, q, Options{})
		require.Len(t, results, 1, q)
		assert.NotEmpty(t, results[0].Highlights, q)
		assert.Greater(t, results[0].Score, 0.0, q)
	}
}

func TestRank_CarriesRiskLevel(t *testing.T) {
	docs := []domain.Document{{
		ID:       "d",
		Text:     "Termination at will.",
		State:    domain.StateAnalyzed,
		Analysis: &domain.Analysis{OverallRiskScore: 82},
	}}
	results := Rank(docs, "termination", Options{})
	require.Len(t, results, 1)
	assert.Equal(t, domain.RiskHigh, results[0].Document.RiskLevel)
}
