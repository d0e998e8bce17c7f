package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ericksa/policylens/internal/domain"
)

// DefaultChunkWords bounds the text sent to the analyzer per request.
const DefaultChunkWords = 1200

type keyword struct {
	term  string
	level domain.RiskLevel
}

var riskKeywords = []keyword{
	{"non-compete", domain.RiskHigh},
	{"non compete", domain.RiskHigh},
	{"penalty", domain.RiskHigh},
	{"forfeit", domain.RiskHigh},
	{"terminate", domain.RiskHigh},
	{"termination", domain.RiskHigh},
	{"indemnif", domain.RiskHigh},
	{"confidential", domain.RiskMedium},
	{"privacy", domain.RiskMedium},
	{"data protection", domain.RiskMedium},
	{"intellectual property", domain.RiskMedium},
}

var industries = []struct {
	name     string
	keywords []string
}{
	{"Healthcare", []string{"hipaa", "patient", "medical", "healthcare", "hospital"}},
	{"Finance", []string{"gdpr", "ccpa", "financial", "bank", "securities", "payment"}},
	{"Technology", []string{"source code", "software", "api", "technology", "intellectual property"}},
	{"Employment", []string{"employee", "employment", "non-compete", "compensation", "salary"}},
}

// KeywordLevel is the highest level whose keyword occurs in text, or Low.
func KeywordLevel(text string) domain.RiskLevel {
	lower := strings.ToLower(text)
	level := domain.RiskLow
	for _, kw := range riskKeywords {
		if kw.level.Rank() > level.Rank() && strings.Contains(lower, kw.term) {
			level = kw.level
		}
	}
	return level
}

// Keywords lists the risk keywords found in text, in table order.
func Keywords(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range riskKeywords {
		if strings.Contains(lower, kw.term) {
			found = append(found, kw.term)
		}
	}
	return found
}

// Reinforce returns the more severe of the analyzer's level and the keyword
// level for the clause text.
func Reinforce(text string, level domain.RiskLevel) domain.RiskLevel {
	if kw := KeywordLevel(text); kw.Rank() > level.Rank() {
		return kw
	}
	return level
}

// DetectIndustries tags text by industry keywords. Untagged text is General.
func DetectIndustries(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, ind := range industries {
		if slices.ContainsFunc(ind.keywords, func(kw string) bool { return strings.Contains(lower, kw) }) {
			found = append(found, ind.name)
		}
	}
	if len(found) == 0 {
		return []string{"General"}
	}
	return found
}

// Checksum is the hex sha256 of the document text, the analysis cache key.
func Checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

var clauseBreakRe = regexp.MustCompile(`(?i)\n\d+\.\s+|\n\d+\)\s+|section\s+\d+[:.\s]+`)

// Piece is a candidate clause cut from document text. Offsets are runes.
type Piece struct {
	Start int
	End   int
	Text  string
}

// SplitClauses cuts text at numbered items and "Section N" headings.
func SplitClauses(text string) []Piece {
	var pieces []Piece
	add := func(from, to int) {
		raw := text[from:to]
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return
		}
		lead := len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace))
		start := utf8.RuneCountInString(text[:from+lead])
		pieces = append(pieces, Piece{
			Start: start,
			End:   start + utf8.RuneCountInString(trimmed),
			Text:  trimmed,
		})
	}

	cursor := 0
	for _, loc := range clauseBreakRe.FindAllStringIndex(text, -1) {
		add(cursor, loc[0])
		cursor = loc[1]
	}
	add(cursor, len(text))
	return pieces
}

// Chunk groups pieces into texts of at most maxWords words. A single piece
// longer than maxWords becomes its own chunk.
func Chunk(pieces []Piece, maxWords int) []string {
	if maxWords <= 0 {
		maxWords = DefaultChunkWords
	}
	var chunks, current []string
	count := 0
	for _, p := range pieces {
		w := len(strings.Fields(p.Text))
		if count+w > maxWords && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current, count = nil, 0
		}
		current = append(current, p.Text)
		count += w
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	return chunks
}
