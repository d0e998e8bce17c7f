// Package segment turns raw text plus a flat list of offset annotations into
// an ordered, non-overlapping sequence of plain and annotated segments.
//
// The same merge routine renders risk clauses on the document view and
// highlight spans in search snippets, so both get identical handling of
// unsorted input, overlaps and out-of-range offsets. Malformed spans are
// normalized and reported as diagnostics; Split never fails.
package segment

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strconv"

	"github.com/ericksa/policylens/internal/domain"
)

// Span annotates text[Start:End] (rune offsets, End exclusive) with Value.
// Ref names the span in diagnostics; the input index is used when empty.
type Span[T any] struct {
	Start int
	End   int
	Ref   string
	Value T
}

// Segment is one contiguous piece of the rendered text.
type Segment[T any] struct {
	Text      string `json:"text"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Annotated bool   `json:"annotated"`
	Value     T      `json:"value,omitempty"`
}

// Result holds a normalized segmentation plan. Iterating it has no side
// effects, so All can be ranged over any number of times.
type Result[T any] struct {
	text        []rune
	kept        []Span[T]
	Diagnostics []domain.Diagnostic
}

// Split sorts spans stably by start, clamps offsets into the text, clips a
// span that starts inside the previous kept span so it begins where that one
// ends, and drops spans left empty.
func Split[T any](text string, spans []Span[T]) *Result[T] {
	r := &Result[T]{text: []rune(text)}
	if len(spans) == 0 {
		return r
	}
	n := len(r.text)

	order := make([]int, len(spans))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(spans[a].Start, spans[b].Start)
	})

	cursor := 0
	for _, idx := range order {
		sp := spans[idx]
		ref := sp.Ref
		if ref == "" {
			ref = strconv.Itoa(idx)
		}

		start, end := clamp(sp.Start, n), clamp(sp.End, n)
		if start != sp.Start || end != sp.End {
			r.report(domain.DiagOffsetClamped, ref, "span [%d,%d) clamped to [%d,%d) for text of length %d", sp.Start, sp.End, start, end, n)
		}

		if start < cursor {
			if end > cursor {
				r.report(domain.DiagOverlapClipped, ref, "span [%d,%d) overlaps previous span ending at %d, clipped", start, end, cursor)
			}
			start = cursor
		}
		if start >= end {
			r.report(domain.DiagSpanDropped, ref, "span [%d,%d) is empty after normalization, not rendered", sp.Start, sp.End)
			continue
		}

		r.kept = append(r.kept, Span[T]{Start: start, End: end, Ref: sp.Ref, Value: sp.Value})
		cursor = end
	}
	return r
}

// All yields the segments lazily in text order.
func (r *Result[T]) All() iter.Seq[Segment[T]] {
	return func(yield func(Segment[T]) bool) {
		cursor := 0
		for _, sp := range r.kept {
			if sp.Start > cursor {
				if !yield(r.plain(cursor, sp.Start)) {
					return
				}
			}
			seg := Segment[T]{
				Text:      string(r.text[sp.Start:sp.End]),
				Start:     sp.Start,
				End:       sp.End,
				Annotated: true,
				Value:     sp.Value,
			}
			if !yield(seg) {
				return
			}
			cursor = sp.End
		}
		if cursor < len(r.text) {
			yield(r.plain(cursor, len(r.text)))
		}
	}
}

// Collect materializes All.
func (r *Result[T]) Collect() []Segment[T] {
	return slices.Collect(r.All())
}

// Annotated is the number of spans that survived normalization.
func (r *Result[T]) Annotated() int {
	return len(r.kept)
}

func (r *Result[T]) plain(start, end int) Segment[T] {
	return Segment[T]{Text: string(r.text[start:end]), Start: start, End: end}
}

func (r *Result[T]) report(kind domain.DiagnosticKind, ref, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, domain.Diagnostic{
		Kind:   kind,
		Ref:    ref,
		Detail: fmt.Sprintf(format, args...),
	})
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}

// Clauses segments document text by its clauses. Segment values point into
// the clauses slice.
func Clauses(text string, clauses []domain.Clause) *Result[*domain.Clause] {
	spans := make([]Span[*domain.Clause], len(clauses))
	for i := range clauses {
		c := &clauses[i]
		spans[i] = Span[*domain.Clause]{Start: c.StartOffset, End: c.EndOffset, Ref: c.ID, Value: c}
	}
	return Split(text, spans)
}
