package segment

// Highlight marks a matched range of a search snippet (rune offsets).
type Highlight struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// FormatSnippet splits a search excerpt into plain and matched segments.
// Matched segments carry Value true.
func FormatSnippet(matchText string, highlights []Highlight) *Result[bool] {
	spans := make([]Span[bool], len(highlights))
	for i, h := range highlights {
		spans[i] = Span[bool]{Start: h.Start, End: h.End, Value: true}
	}
	return Split(matchText, spans)
}
