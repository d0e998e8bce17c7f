// Package search ranks documents against a free-text query and builds
// highlighted excerpts for the matches.
package search

import (
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ericksa/policylens/internal/aggregate"
	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/segment"
	"golang.org/x/text/cases"
)

const (
	DefaultLimit        = 20
	DefaultSnippetRunes = 300
)

type Options struct {
	Limit        int
	SnippetRunes int
}

// Result is one ranked hit.
type Result struct {
	Document    aggregate.DocumentCard  `json:"document"`
	Score       float64                 `json:"score"`
	Snippet     string                  `json:"snippet"`
	Segments    []segment.Segment[bool] `json:"segments"`
	Highlights  []segment.Highlight     `json:"highlights"`
	Diagnostics []domain.Diagnostic     `json:"diagnostics,omitempty"`
}

// Terms splits a query into distinct case-folded terms.
func Terms(query string) []string {
	fold := cases.Fold()
	var terms []string
	for _, f := range strings.Fields(query) {
		t := fold.String(f)
		if !slices.Contains(terms, t) {
			terms = append(terms, t)
		}
	}
	return terms
}

// folded is text case-folded rune by rune. src maps each byte of s to the
// rune of the original text it came from, so matches found in s convert back
// to rune ranges of the original.
type folded struct {
	s   string
	src []int
}

func foldText(text string) folded {
	fold := cases.Fold()
	var b strings.Builder
	src := make([]int, 0, len(text))
	i := 0
	for _, r := range text {
		f := fold.String(string(r))
		b.WriteString(f)
		for range len(f) {
			src = append(src, i)
		}
		i++
	}
	return folded{s: b.String(), src: src}
}

// Highlights returns the rune ranges of every occurrence of the case-folded
// terms in text.
func Highlights(text string, terms []string) []segment.Highlight {
	return highlights(foldText(text), terms)
}

// highlights scans leftmost-first. Matches that land inside the same source
// rune, as with a term matching half of a folded ß, are merged.
func highlights(f folded, terms []string) []segment.Highlight {
	var out []segment.Highlight
	for pos := 0; pos < len(f.s); {
		at, n := -1, 0
		for _, t := range terms {
			if t == "" {
				continue
			}
			if j := strings.Index(f.s[pos:], t); j >= 0 && (at < 0 || j < at) {
				at, n = j, len(t)
			}
		}
		if at < 0 {
			break
		}
		h := segment.Highlight{Start: f.src[pos+at], End: f.src[pos+at+n-1] + 1}
		if k := len(out) - 1; k >= 0 && h.Start < out[k].End {
			out[k].End = max(out[k].End, h.End)
		} else {
			out = append(out, h)
		}
		pos += at + n
	}
	return out
}

// Excerpt cuts a window of at most n runes around the first highlight and
// returns it with highlights rebased onto the window.
func Excerpt(text string, hs []segment.Highlight, n int) (string, []segment.Highlight) {
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text, hs
	}
	start := 0
	if len(hs) > 0 {
		start = max(0, hs[0].Start-n/4)
	}
	if start+n > len(runes) {
		start = len(runes) - n
	}
	end := start + n

	var rebased []segment.Highlight
	for _, h := range hs {
		if h.End <= start || h.Start >= end {
			continue
		}
		rebased = append(rebased, segment.Highlight{
			Start: max(h.Start, start) - start,
			End:   min(h.End, end) - start,
		})
	}
	return string(runes[start:end]), rebased
}

// Rank scores docs against query and returns the best matches, highest score
// first. Documents missing any term are skipped. Ties keep input order.
func Rank(docs []domain.Document, query string, opts Options) []Result {
	terms := Terms(query)
	if len(terms) == 0 {
		return []Result{}
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.SnippetRunes <= 0 {
		opts.SnippetRunes = DefaultSnippetRunes
	}

	results := []Result{}
	for i := range docs {
		doc := &docs[i]
		f := foldText(doc.Text)
		if !containsAll(f.s, terms) {
			continue
		}
		hs := highlights(f, terms)
		snippet, local := Excerpt(doc.Text, hs, opts.SnippetRunes)
		seg := segment.FormatSnippet(snippet, local)
		results = append(results, Result{
			Document:    aggregate.Card(doc),
			Score:       score(len(hs), utf8.RuneCountInString(doc.Text)),
			Snippet:     snippet,
			Segments:    seg.Collect(),
			Highlights:  local,
			Diagnostics: seg.Diagnostics,
		})
	}
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

func containsAll(text string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

// score is term frequency damped by document length, rounded to 4 places.
func score(hits, runes int) float64 {
	if hits == 0 {
		return 0
	}
	s := float64(hits) / math.Log2(2+float64(runes)/100)
	return math.Round(s*10000) / 10000
}
