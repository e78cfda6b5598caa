package docparse

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

const (
	docxMainPart = "word/document.xml"
	docxCorePart = "docProps/core.xml"
	docxAppPart  = "docProps/app.xml"

	// maxXMLDepth bounds element nesting in any parsed part.
	maxXMLDepth = 256
	// maxPartSize bounds the inflated size of any parsed part.
	maxPartSize = 256 << 20
)

var errDocxLimit = errors.New("docx: limit reached")

// docxSection is one page-like unit: consecutive paragraphs, or one table.
type docxSection struct {
	paragraphs []string
	heading    int // heading level of the first paragraph, 0 for body
	table      Table
	isTable    bool
}

func (s docxSection) text() string {
	if s.isTable {
		rows := make([]string, len(s.table))
		for i, row := range s.table {
			rows[i] = strings.Join(row, "\t")
		}
		return strings.Join(rows, "\n")
	}
	return strings.Join(s.paragraphs, "\n")
}

// docxResult is the DOCX provisional result.
type docxResult struct {
	sections  []docxSection
	truncated bool
	core      map[string]any
	title     string // first heading, used when core properties have none
}

func (*docxResult) format() Format { return FormatDOCX }

// extractDocx reads word/document.xml into sections. opts.MaxPages caps the
// number of sections; parsing stops as soon as the cap is exceeded.
func extractDocx(ctx context.Context, data []byte, opts Options) (*docxResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fail(ReasonCorrupt, fmt.Errorf("open zip: %w", err))
	}

	var mainPart, corePart, appPart *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case docxMainPart:
			mainPart = f
		case docxCorePart:
			corePart = f
		case docxAppPart:
			appPart = f
		}
	}
	if mainPart == nil {
		return nil, failf(ReasonCorrupt, "%s not found in archive", docxMainPart)
	}

	rc, err := mainPart.Open()
	if err != nil {
		return nil, fail(ReasonCorrupt, fmt.Errorf("open %s: %w", docxMainPart, err))
	}
	defer rc.Close()

	p := &docxParser{ctx: ctx, limit: opts.MaxPages}
	if err := p.parse(io.LimitReader(rc, maxPartSize+1)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fail(ReasonCorrupt, err)
	}

	res := &docxResult{
		sections:  p.sections,
		truncated: p.truncated,
		core:      make(map[string]any),
		title:     p.title,
	}
	// Properties are optional: a broken part is skipped, not fatal.
	if corePart != nil {
		_ = readCoreProperties(corePart, res.core)
	}
	if appPart != nil {
		_ = readAppProperties(appPart, res.core)
	}
	return res, nil
}

// docxParser walks the WordprocessingML token stream.
type docxParser struct {
	ctx   context.Context
	limit int

	sections  []docxSection
	current   *docxSection
	truncated bool
	title     string

	// paragraph state; paragraphs nested in text boxes merge into their host
	paraDepth int
	inText    bool
	para      strings.Builder
	paraStyle string
	pageBreak bool

	// table state; only the outermost table is mapped to a Table
	tableDepth int
	table      Table
	row        []string
	cell       []string
	inCell     bool
}

func (p *docxParser) parse(r io.Reader) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	depth := 0
	tokens := 0
	// skip counts open elements inside an mc:Fallback subtree.
	skip := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("xml: %w", err)
		}
		if tokens++; tokens%4096 == 0 {
			if err := p.ctx.Err(); err != nil {
				return err
			}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth > maxXMLDepth {
				return fmt.Errorf("nesting depth exceeds %d", maxXMLDepth)
			}
			if skip > 0 || isCompatFallback(t.Name) {
				skip++
				continue
			}
			p.start(t)
		case xml.CharData:
			if skip == 0 && p.paraDepth > 0 && p.inText {
				p.para.Write(t)
			}
		case xml.EndElement:
			depth--
			if skip > 0 {
				skip--
				continue
			}
			if err := p.end(t); err != nil {
				if errors.Is(err, errDocxLimit) {
					p.truncated = true
					return nil
				}
				return err
			}
		}
	}
	return p.closeSection()
}

const markupCompatNS = "http://schemas.openxmlformats.org/markup-compatibility/2006"

// isCompatFallback reports whether name opens the mc:Fallback branch of an
// mc:AlternateContent block. Word writes text boxes twice, DrawingML under
// mc:Choice and VML under mc:Fallback; only the Choice copy is read.
func isCompatFallback(name xml.Name) bool {
	return name.Local == "Fallback" && (name.Space == markupCompatNS || name.Space == "mc")
}

func (p *docxParser) start(t xml.StartElement) {
	switch t.Name.Local {
	case "tbl":
		p.tableDepth++
		if p.tableDepth == 1 {
			p.table = Table{}
		}
	case "tr":
		if p.tableDepth == 1 {
			p.row = []string{}
		}
	case "tc":
		if p.tableDepth == 1 {
			p.cell = nil
			p.inCell = true
		}
	case "p":
		p.paraDepth++
		if p.paraDepth == 1 {
			p.para.Reset()
			p.paraStyle = ""
		} else if p.para.Len() > 0 {
			p.para.WriteByte('\n')
		}
	case "pStyle":
		if p.paraDepth == 1 {
			p.paraStyle = attr(t, "val")
		}
	case "t":
		p.inText = true
	case "tab":
		if p.paraDepth > 0 {
			p.para.WriteByte('\t')
		}
	case "br", "cr":
		if p.paraDepth > 0 {
			if attr(t, "type") == "page" && p.tableDepth == 0 {
				p.pageBreak = true
			} else {
				p.para.WriteByte('\n')
			}
		}
	case "sectPr":
		if p.paraDepth > 0 && p.tableDepth == 0 {
			p.pageBreak = true
		}
	}
}

func (p *docxParser) end(t xml.EndElement) error {
	switch t.Name.Local {
	case "t":
		p.inText = false
	case "p":
		if p.paraDepth == 0 {
			return nil
		}
		p.paraDepth--
		if p.paraDepth > 0 {
			p.para.WriteByte('\n')
			return nil
		}
		text := strings.TrimSpace(p.para.String())
		brk := p.pageBreak
		p.pageBreak = false
		if p.tableDepth > 0 {
			if p.inCell && text != "" {
				p.cell = append(p.cell, text)
			}
			return nil
		}
		return p.paragraph(text, docxHeadingLevel(p.paraStyle), brk)
	case "tc":
		if p.tableDepth == 1 && p.inCell {
			p.row = append(p.row, strings.Join(p.cell, "\n"))
			p.inCell = false
		}
	case "tr":
		if p.tableDepth == 1 && p.row != nil {
			p.table = append(p.table, p.row)
			p.row = nil
		}
	case "tbl":
		p.tableDepth--
		if p.tableDepth == 0 {
			return p.tableDone()
		}
	}
	return nil
}

// paragraph adds a body paragraph. Empty paragraphs and page or section
// breaks close the current section.
func (p *docxParser) paragraph(text string, level int, brk bool) error {
	if text == "" {
		return p.closeSection()
	}
	if level > 0 && p.title == "" {
		p.title = text
	}
	if p.current == nil {
		if p.full() {
			return errDocxLimit
		}
		p.current = &docxSection{heading: level}
	}
	p.current.paragraphs = append(p.current.paragraphs, text)
	if brk {
		return p.closeSection()
	}
	return nil
}

func (p *docxParser) tableDone() error {
	t := p.table
	p.table = nil
	if err := p.closeSection(); err != nil {
		return err
	}
	if len(t) == 0 {
		return nil
	}
	if p.full() {
		return errDocxLimit
	}
	p.sections = append(p.sections, docxSection{table: t, isTable: true})
	return nil
}

func (p *docxParser) closeSection() error {
	if p.current == nil {
		return nil
	}
	p.sections = append(p.sections, *p.current)
	p.current = nil
	return nil
}

func (p *docxParser) full() bool {
	return p.limit > 0 && len(p.sections) >= p.limit
}

func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// docxHeadingLevel extracts the heading level from a paragraph style name.
// e.g. "Heading1" → 1, "Heading2" → 2, "Title" → 1, etc.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(style)

	switch lower {
	case "title":
		return 1
	case "subtitle":
		return 2
	}

	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if strings.HasPrefix(lower, prefix) {
			rest := strings.TrimSpace(lower[len(prefix):])
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '9' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}

// coreProperties maps docProps/core.xml. Element names are matched by
// local name, whatever the namespace prefix.
type coreProperties struct {
	Title          string `xml:"title"`
	Subject        string `xml:"subject"`
	Creator        string `xml:"creator"`
	Keywords       string `xml:"keywords"`
	Description    string `xml:"description"`
	LastModifiedBy string `xml:"lastModifiedBy"`
	Revision       string `xml:"revision"`
	Created        string `xml:"created"`
	Modified       string `xml:"modified"`
	Category       string `xml:"category"`
}

type appProperties struct {
	Application string `xml:"Application"`
	Pages       string `xml:"Pages"`
}

func readCoreProperties(f *zip.File, meta map[string]any) error {
	var cp coreProperties
	if err := decodePart(f, &cp); err != nil {
		return err
	}
	for k, v := range map[string]string{
		"title":            cp.Title,
		"subject":          cp.Subject,
		"author":           cp.Creator,
		"keywords":         cp.Keywords,
		"description":      cp.Description,
		"last_modified_by": cp.LastModifiedBy,
		"revision":         cp.Revision,
		"created":          cp.Created,
		"modified":         cp.Modified,
		"category":         cp.Category,
	} {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
	return nil
}

func readAppProperties(f *zip.File, meta map[string]any) error {
	var ap appProperties
	if err := decodePart(f, &ap); err != nil {
		return err
	}
	if v := strings.TrimSpace(ap.Application); v != "" {
		meta["application"] = v
	}
	if n, err := strconv.Atoi(strings.TrimSpace(ap.Pages)); err == nil && n > 0 {
		meta["reported_pages"] = n
	}
	return nil
}

func decodePart(f *zip.File, v any) error {
	if f.UncompressedSize64 > maxPartSize {
		return fmt.Errorf("%s: part too large", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(io.LimitReader(rc, maxPartSize)).Decode(v)
}
