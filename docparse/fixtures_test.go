package docparse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"
	"strings"
	"testing"
)

// --- PDF fixtures ---

// testPDF describes a document for buildPDF. Each page is a raw content
// stream drawn with font /F1 (Helvetica, WinAnsiEncoding).
type testPDF struct {
	pages     []string
	info      string // body of the /Info dictionary, without << >>
	imagePage int    // 1-based page that references an image XObject, 0 for none
	encrypt   bool   // add a Standard security handler no empty password opens
}

// textPage returns a content stream drawing each line 20 points below the
// previous one, one operator per line.
func textPage(lines ...string) string {
	var b strings.Builder
	b.WriteString("BT\n/F1 12 Tf\n72 720 Td\n")
	for i, l := range lines {
		if i > 0 {
			b.WriteString("0 -20 Td\n")
		}
		b.WriteString("(" + pdfEscape(l) + ") Tj\n")
	}
	b.WriteString("ET")
	return b.String()
}

// tablePage draws rows of cells at fixed x positions, one text object per
// cell so that the glyph positions are absolute.
func tablePage(xs []int, rows ...[]string) string {
	var b strings.Builder
	y := 700
	for _, row := range rows {
		for k, cell := range row {
			fmt.Fprintf(&b, "BT\n/F1 12 Tf\n%d %d Td\n(%s) Tj\nET\n", xs[k], y, pdfEscape(cell))
		}
		y -= 20
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func pdfEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "(", `\(`)
	return strings.ReplaceAll(s, ")", `\)`)
}

// buildPDF writes a PDF with a correct cross-reference table.
//
// Object layout: 1 catalog, 2 page tree, 3 font, 4 info, 5 image,
// 6 encryption dictionary, then a page and its content stream per page.
func buildPDF(spec testPDF) []byte {
	const firstPage = 7
	objects := make(map[int]string)

	objects[1] = "<< /Type /Catalog /Pages 2 0 R >>"

	kids := make([]string, len(spec.pages))
	for i := range spec.pages {
		kids[i] = pdfItoa(firstPage+2*i) + " 0 R"
	}
	objects[2] = "<< /Type /Pages /Kids [" + strings.Join(kids, " ") + "] /Count " + pdfItoa(len(spec.pages)) + " >>"
	objects[3] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"
	objects[4] = "<< " + spec.info + " >>"

	img := "\xff\xd8\xff\xe0"
	objects[5] = "<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Length " +
		pdfItoa(len(img)) + " >>\nstream\n" + img + "\nendstream"

	objects[6] = "<< /Filter /Standard /V 2 /R 3 /Length 128 /P -3904 /O <" +
		strings.Repeat("7a", 32) + "> /U <" + strings.Repeat("3c", 32) + "> >>"

	for i, content := range spec.pages {
		pageNr := firstPage + 2*i
		resources := "<< /Font << /F1 3 0 R >>"
		if spec.imagePage == i+1 {
			resources += " /XObject << /Im1 5 0 R >>"
		}
		resources += " >>"
		objects[pageNr] = "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents " +
			pdfItoa(pageNr+1) + " 0 R /Resources " + resources + " >>"
		objects[pageNr+1] = "<< /Length " + pdfItoa(len(content)) + " >>\nstream\n" + content + "\nendstream"
	}

	size := firstPage + 2*len(spec.pages)
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, size)
	for n := 1; n < size; n++ {
		offsets[n] = b.Len()
		b.WriteString(pdfItoa(n) + " 0 obj\n" + objects[n] + "\nendobj\n")
	}

	xrefOffset := b.Len()
	b.WriteString("xref\n0 " + pdfItoa(size) + "\n")
	b.WriteString("0000000000 65535 f \n")
	for n := 1; n < size; n++ {
		b.WriteString(pdfPadOffset(offsets[n]))
		b.WriteString(" 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size " + pdfItoa(size) + " /Root 1 0 R")
	if spec.info != "" {
		b.WriteString(" /Info 4 0 R")
	}
	if spec.encrypt {
		b.WriteString(" /Encrypt 6 0 R /ID [<0123456789abcdef0123456789abcdef> <0123456789abcdef0123456789abcdef>]")
	}
	b.WriteString(" >>\nstartxref\n")
	b.WriteString(pdfItoa(xrefOffset))
	b.WriteString("\n%%EOF\n")
	return []byte(b.String())
}

func pdfItoa(n int) string {
	if n == 0 {
		return "0"
	}
	s := ""
	for n > 0 {
		s = string(rune('0'+n%10)) + s
		n /= 10
	}
	return s
}

func pdfPadOffset(n int) string {
	s := pdfItoa(n)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}

// --- DOCX fixtures ---

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

// docxBody wraps body XML into a word/document.xml part.
func docxBody(body string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document ` + wordNS + `><w:body>` + body + `</w:body></w:document>`
}

func wPara(text string) string {
	if text == "" {
		return `<w:p/>`
	}
	return `<w:p><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p>`
}

func wHeading(style, text string) string {
	return `<w:p><w:pPr><w:pStyle w:val="` + style + `"/></w:pPr><w:r><w:t>` + text + `</w:t></w:r></w:p>`
}

func wTable(rows ...[]string) string {
	var b strings.Builder
	b.WriteString(`<w:tbl><w:tblPr/>`)
	for _, row := range rows {
		b.WriteString(`<w:tr>`)
		for _, cell := range row {
			b.WriteString(`<w:tc><w:tcPr/>` + wPara(cell) + `</w:tc>`)
		}
		b.WriteString(`</w:tr>`)
	}
	b.WriteString(`</w:tbl>`)
	return b.String()
}

// buildDocx zips the given parts (name → content) into a DOCX package.
func buildDocx(t *testing.T, parts map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	// Deterministic order keeps fixtures byte-identical across runs.
	var extra []string
	for name := range parts {
		if name != docxMainPart && name != docxCorePart && name != docxAppPart && name != "[Content_Types].xml" {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	names := append([]string{"[Content_Types].xml", docxMainPart, docxCorePart, docxAppPart}, extra...)
	for _, name := range names {
		content, ok := parts[name]
		if !ok {
			continue
		}
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func simpleDocx(t *testing.T, body string) []byte {
	t.Helper()
	return buildDocx(t, map[string]string{docxMainPart: docxBody(body)})
}
