// Package extract turns uploaded files into plain text for analysis.
package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var ErrUnsupported = errors.New("unsupported file type")

// ErrEmpty is returned when a file contains no extractable text.
var ErrEmpty = errors.New("no text could be extracted")

// MaxPDFPages bounds how many pages are read from one PDF.
const MaxPDFPages = 200

// Supported reports whether name has an extension Text understands.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".text", ".pdf", ".docx", ".html", ".htm":
		return true
	}
	return false
}

// Text extracts the plain text of a file, chosen by its extension.
func Text(name string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".text":
		text = plain(data)
	case ".pdf":
		text, err = pdfText(data)
	case ".docx":
		text, err = docxText(data)
	case ".html", ".htm":
		text, err = htmlText(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(name))
	}
	if err != nil {
		return "", err
	}
	text = normalize(text)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func plain(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return string(data)
}

func normalize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("error opening PDF: %w", err)
	}
	pages := min(r.NumPage(), MaxPDFPages)

	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("error reading PDF page %d: %w", i, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

var (
	docxCell      = regexp.MustCompile(`</w:tc>\s*<w:tc[^>]*>`)
	docxRow       = regexp.MustCompile(`</w:tr>\s*<w:tr[^>]*>`)
	docxParagraph = regexp.MustCompile(`<w:p(?:\s[^>]*)?>|</w:p>|<w:br[^>]*/>`)
	docxTab       = regexp.MustCompile(`<w:tab(?:\s[^>]*)?/>`)
	xmlTag        = regexp.MustCompile(`<[^>]*>`)
	spaces        = regexp.MustCompile(`[ \x{00a0}]+`)
	blankLines    = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+`)
)

func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("error opening file: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("document.xml not found in the archive")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return "", err
	}

	s := string(raw)
	s = docxCell.ReplaceAllString(s, "\t")
	s = docxRow.ReplaceAllString(s, "\n")
	s = docxParagraph.ReplaceAllString(s, "\n")
	s = docxTab.ReplaceAllString(s, "\t")
	s = xmlTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return tidy(s), nil
}

func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	var sb strings.Builder
	var traverse func(n *html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Noscript:
				return
			case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Section:
				sb.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return tidy(sb.String()), nil
}

// tidy collapses runs of spaces and blank lines.
func tidy(s string) string {
	s = spaces.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
