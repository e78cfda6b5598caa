package docparse

// Format identifies a supported source document type.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatTXT  Format = "txt"
	FormatDOCX Format = "docx"
)

// MIME types accepted as authoritative declarations.
const (
	MIMEPDF  = "application/pdf"
	MIMETXT  = "text/plain"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// MaxFileSize is the hard ceiling on source document size (50 MB).
const MaxFileSize int64 = 50 << 20

// Source is a document submitted for extraction. It lives for a single
// Extract call and is never retained by the pipeline.
type Source struct {
	Name        string // declared filename, may be empty
	ContentType string // declared MIME type, may be empty or generic
	Data        []byte
}

// Size returns the byte length of the document.
func (s Source) Size() int64 { return int64(len(s.Data)) }

// Options tunes a single extraction.
type Options struct {
	// MaxPages bounds the number of pages (PDF) or sections (DOCX) read.
	// Zero or negative means unlimited.
	MaxPages int `json:"max_pages,omitempty" yaml:"max_pages"`
}

// limit returns the effective unit limit for n available units.
func (o Options) limit(n int) int {
	if o.MaxPages > 0 && o.MaxPages < n {
		return o.MaxPages
	}
	return n
}

// Page is one structural unit of the output: a PDF page, a DOCX section
// or the whole of a text file.
type Page struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
	CharCount int    `json:"char_count"`
}

// Table is an ordered grid of cell strings, row by row.
type Table [][]string

// Extraction is the canonical result. Its shape does not depend on the
// source format: Pages and Tables are always non-nil.
type Extraction struct {
	SourceFormat Format         `json:"source_format"`
	Text         string         `json:"text"`
	Pages        []Page         `json:"pages"`
	Tables       []Table        `json:"tables"`
	Metadata     map[string]any `json:"metadata"`
}

// SupportedFormats returns the formats the pipeline can extract.
func SupportedFormats() []string {
	return []string{string(FormatPDF), string(FormatTXT), string(FormatDOCX)}
}

// SupportedMIMETypes returns the authoritative MIME type for each format.
func SupportedMIMETypes() map[string]string {
	return map[string]string{
		string(FormatPDF):  MIMEPDF,
		string(FormatTXT):  MIMETXT,
		string(FormatDOCX): MIMEDOCX,
	}
}
