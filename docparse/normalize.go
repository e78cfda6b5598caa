package docparse

import (
	"path"
	"strings"
	"unicode/utf8"
)

// provisional is the per-format intermediate result. The set of
// implementations is closed: *pdfResult, *docxResult, *textResult.
type provisional interface {
	format() Format
}

// normalize maps a provisional result onto the canonical shape. It is a
// pure function: identical inputs give identical outputs.
func normalize(res provisional, src Source) *Extraction {
	out := &Extraction{
		SourceFormat: res.format(),
		Pages:        []Page{},
		Tables:       []Table{},
		Metadata:     make(map[string]any),
	}
	meta := out.Metadata

	var blocks []string
	switch r := res.(type) {
	case *pdfResult:
		for _, p := range r.pages {
			blocks = append(blocks, p.text)
			for _, t := range p.tables {
				out.Tables = append(out.Tables, copyTable(t))
			}
		}
		for k, v := range r.info {
			meta[k] = v
		}
		meta["page_count"] = r.pageCount
		meta["page_unit"] = "page"
		meta["extraction_method"] = pdfMethod(r.pages)
		if r.encrypted {
			meta["encrypted"] = true
		}

	case *docxResult:
		for _, s := range r.sections {
			blocks = append(blocks, s.text())
			if s.isTable {
				out.Tables = append(out.Tables, copyTable(s.table))
			}
		}
		for k, v := range r.core {
			meta[k] = v
		}
		if _, ok := meta["title"]; !ok && r.title != "" {
			meta["title"] = r.title
		}
		meta["page_unit"] = "section"
		meta["truncated"] = r.truncated
		meta["extraction_method"] = "ooxml"

	case *textResult:
		blocks = []string{r.text}
		meta["byte_size"] = r.byteSize
		meta["line_count"] = r.lines
		meta["encoding"] = r.encoding
		meta["page_count"] = 1
		meta["page_unit"] = "document"
		meta["extraction_method"] = "plain_text"
	}

	nonEmpty := make([]string, 0, len(blocks))
	for i, b := range blocks {
		out.Pages = append(out.Pages, Page{
			Index:     i,
			Text:      b,
			WordCount: len(strings.Fields(b)),
			CharCount: utf8.RuneCountInString(b),
		})
		if strings.TrimSpace(b) != "" {
			nonEmpty = append(nonEmpty, b)
		}
	}
	out.Text = strings.Join(nonEmpty, "\n\n")

	if r, ok := res.(*pdfResult); ok {
		assessQuality(out.Text, len(r.pages), r.hasImages).metadata(meta)
	}

	meta["word_count"] = len(strings.Fields(out.Text))
	meta["character_count"] = utf8.RuneCountInString(out.Text)
	meta["pages_processed"] = len(out.Pages)
	meta["table_count"] = len(out.Tables)
	meta["file_size"] = src.Size()
	if name := baseName(src.Name); name != "" {
		meta["filename"] = name
	}
	return out
}

func pdfMethod(pages []pdfPage) string {
	method := ""
	for _, p := range pages {
		switch {
		case p.method == "":
		case method == "":
			method = p.method
		case method != p.method:
			return "mixed"
		}
	}
	if method == "" {
		return "none"
	}
	return method
}

// copyTable returns a deep copy with non-nil rows.
func copyTable(t Table) Table {
	out := make(Table, len(t))
	for i, row := range t {
		out[i] = append([]string{}, row...)
	}
	return out
}

// baseName strips any client-side directory, with either separator.
func baseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	b := path.Base(name)
	if b == "." || b == "/" {
		return ""
	}
	return b
}
