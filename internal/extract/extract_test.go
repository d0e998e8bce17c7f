package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><w:document><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestText_Plain(t *testing.T) {
	text, err := Text("terms.TXT", []byte("\xef\xbb\xbf1. Payment\r\n2. Liability\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "1. Payment\n2. Liability", text)
}

func TestText_Docx(t *testing.T) {
	data := buildDocx(t, `<w:p><w:pPr><w:jc w:val="left"/></w:pPr><w:r><w:t>Fee:</w:t></w:r><w:r><w:tab/><w:t>100</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t>Second &amp; last.</w:t></w:r></w:p>`)

	text, err := Text("contract.docx", data)
	require.NoError(t, err)
	assert.Equal(t, "Fee:\t100\n\nSecond & last.", text)
}

func TestText_DocxWithoutDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Text("x.docx", buf.Bytes())
	assert.ErrorContains(t, err, "document.xml not found")
}

func TestText_HTML(t *testing.T) {
	page := `<html><head><title>T</title></head><body><h1>Terms</h1><p>Pay   within 30 days.</p>` +
		`<script>track()</script><p>Law &amp; venue.</p></body></html>`
	text, err := Text("policy.html", []byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Terms\nPay within 30 days.\nLaw & venue.", text)
}

func TestText_Errors(t *testing.T) {
	_, err := Text("image.png", []byte("x"))
	assert.True(t, errors.Is(err, ErrUnsupported))

	_, err = Text("empty.txt", []byte("  \n "))
	assert.True(t, errors.Is(err, ErrEmpty))

	_, err = Text("broken.pdf", []byte("not a pdf"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupported))
}

func TestSupported(t *testing.T) {
	for _, name := range []string{"a.txt", "a.md", "a.PDF", "a.docx", "a.htm"} {
		assert.True(t, Supported(name), name)
	}
	assert.False(t, Supported("a.doc"))
	assert.False(t, Supported("noext"))
}
