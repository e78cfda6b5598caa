package docparse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	pdfMethodLayout = "layout"
	pdfMethodStream = "content_stream"
)

type pdfPage struct {
	text   string
	tables []Table
	method string
}

// pdfResult is the PDF provisional result: one entry per processed page.
type pdfResult struct {
	pages     []pdfPage
	pageCount int
	info      map[string]any
	hasImages bool
	encrypted bool
}

func (*pdfResult) format() Format { return FormatPDF }

// pdfDoc holds the two readers. The layout reader resolves objects lazily,
// so only the pages actually requested are parsed. The pdfcpu context is
// opened on demand as a fallback.
type pdfDoc struct {
	data   []byte
	layout *pdf.Reader
	cpu    *model.Context
	cpuErr error
	cpuTry bool
}

// extractPDF reads at most opts.MaxPages pages, in order, page 1 first.
func extractPDF(ctx context.Context, data []byte, opts Options) (*pdfResult, error) {
	if !bytes.Contains(headOf(data, 1024), []byte("%PDF-")) {
		return nil, failf(ReasonCorrupt, "missing %%PDF header")
	}

	doc := &pdfDoc{data: data}
	layout, lerr := openLayoutReader(data)
	if lerr != nil && errors.Is(lerr, pdf.ErrInvalidPassword) {
		return nil, fail(ReasonEncrypted, lerr)
	}
	doc.layout = layout

	if layout == nil {
		if _, err := doc.structure(); err != nil {
			if isPasswordError(err) || bytes.Contains(data, []byte("/Encrypt")) {
				return nil, fail(ReasonEncrypted, err)
			}
			return nil, fail(ReasonCorrupt, errors.Join(lerr, err))
		}
	}

	count, err := doc.pageCount()
	if err != nil {
		return nil, fail(ReasonCorrupt, err)
	}

	res := &pdfResult{
		pageCount: count,
		info:      doc.info(),
		encrypted: doc.encrypted(),
	}

	n := opts.limit(count)
	res.pages = make([]pdfPage, 0, n)
	for num := 1; num <= n; num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, images := doc.page(num)
		if images {
			res.hasImages = true
		}
		res.pages = append(res.pages, page)
	}
	return res, nil
}

func openLayoutReader(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("layout reader panic: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// structure opens the pdfcpu context once. When the layout reader could not
// open the file, pdfcpu is the only reader left and the whole document is
// validated so its page count and info dictionary can be trusted. As a
// per-page fallback it only parses the cross-reference table; pages are
// decoded one at a time by streamPageText.
func (d *pdfDoc) structure() (*model.Context, error) {
	if d.cpuTry {
		return d.cpu, d.cpuErr
	}
	d.cpuTry = true
	if d.layout == nil {
		d.cpu, d.cpuErr = readStructure(d.data)
	} else {
		d.cpu, d.cpuErr = readXRef(d.data)
	}
	return d.cpu, d.cpuErr
}

func readXRef(data []byte) (ctx *model.Context, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ctx, err = nil, fmt.Errorf("pdfcpu panic: %v", rec)
		}
	}()
	ctx, err = api.ReadContext(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("pdfcpu page count: %w", err)
	}
	return ctx, nil
}

func readStructure(data []byte) (ctx *model.Context, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ctx, err = nil, fmt.Errorf("pdfcpu panic: %v", rec)
		}
	}()
	conf := model.NewDefaultConfiguration()
	ctx, err = api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx, nil
}

func (d *pdfDoc) pageCount() (n int, err error) {
	if d.layout != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("page count: %v", rec)
				}
			}()
			n = d.layout.NumPage()
		}()
		if err == nil && n >= 0 {
			return n, nil
		}
	}
	ctx, cerr := d.structure()
	if cerr != nil {
		if err != nil {
			return 0, err
		}
		return 0, cerr
	}
	return ctx.PageCount, nil
}

// page reads one page: layout text first, content-stream text when the
// layout reader yields nothing.
func (d *pdfDoc) page(num int) (pdfPage, bool) {
	var out pdfPage
	var images bool
	if d.layout != nil {
		if lines, imgs, ok := layoutPage(d.layout, num); ok {
			images = imgs
			out.text = linesText(lines)
			out.tables = detectTables(lines)
			out.method = pdfMethodLayout
		}
	}
	if strings.TrimSpace(out.text) != "" {
		return out, images
	}

	ctx, err := d.structure()
	if err != nil || num > ctx.PageCount {
		return out, images
	}
	if text := streamPageText(ctx, num); text != "" {
		out = pdfPage{text: text, method: pdfMethodStream}
	}
	if !images {
		images = pageHasImages(ctx, num)
	}
	return out, images
}

func layoutPage(r *pdf.Reader, num int) (lines []layoutLine, images bool, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			lines, images, ok = nil, false, false
		}
	}()
	p := r.Page(num)
	if p.V.IsNull() {
		return nil, false, false
	}
	xobjects := p.Resources().Key("XObject")
	for _, name := range xobjects.Keys() {
		if xobjects.Key(name).Key("Subtype").Name() == "Image" {
			images = true
			break
		}
	}
	return buildLines(p.Content().Text), images, true
}

var pdfInfoKeys = []struct {
	pdfKey string
	key    string
	date   bool
}{
	{"Title", "title", false},
	{"Author", "author", false},
	{"Subject", "subject", false},
	{"Keywords", "keywords", false},
	{"Creator", "creator", false},
	{"Producer", "producer", false},
	{"CreationDate", "creation_date", true},
	{"ModDate", "mod_date", true},
}

// info returns the document information dictionary plus the header version.
func (d *pdfDoc) info() map[string]any {
	meta := make(map[string]any)
	if v := pdfHeaderVersion(d.data); v != "" {
		meta["pdf_version"] = v
	}

	raw := make(map[string]string)
	if d.layout != nil {
		func() {
			defer func() { _ = recover() }()
			info := d.layout.Trailer().Key("Info")
			if info.Kind() != pdf.Dict {
				return
			}
			for _, k := range pdfInfoKeys {
				if v := info.Key(k.pdfKey); v.Kind() == pdf.String {
					raw[k.pdfKey] = v.Text()
				}
			}
		}()
	} else if d.cpu != nil {
		xt := d.cpu.XRefTable
		raw["Title"] = xt.Title
		raw["Author"] = xt.Author
		raw["Subject"] = xt.Subject
		raw["Keywords"] = xt.Keywords
		raw["Creator"] = xt.Creator
		raw["Producer"] = xt.Producer
		raw["CreationDate"] = xt.CreationDate
		raw["ModDate"] = xt.ModDate
	}

	for _, k := range pdfInfoKeys {
		v := strings.TrimSpace(raw[k.pdfKey])
		if v == "" {
			continue
		}
		if k.date {
			v = parsePDFDate(v)
		}
		meta[k.key] = v
	}
	return meta
}

func (d *pdfDoc) encrypted() (enc bool) {
	if d.layout == nil {
		return bytes.Contains(d.data, []byte("/Encrypt"))
	}
	defer func() { _ = recover() }()
	return d.layout.Trailer().Key("Encrypt").Kind() != pdf.Null
}

func isPasswordError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pdf.ErrInvalidPassword) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}

func pdfHeaderVersion(data []byte) string {
	i := bytes.Index(headOf(data, 1024), []byte("%PDF-"))
	if i < 0 {
		return ""
	}
	rest := data[i+5:]
	end := 0
	for end < len(rest) && end < 4 && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	return string(rest[:end])
}

// parsePDFDate converts "D:YYYYMMDDHHmmSSOHH'mm'" to RFC 3339. Values that
// do not parse are returned unchanged.
func parsePDFDate(s string) string {
	v := strings.TrimPrefix(s, "D:")
	v = strings.ReplaceAll(v, "'", "")
	layouts := []string{"20060102150405Z0700", "20060102150405Z07", "20060102150405", "200601021504", "20060102", "200601", "2006"}
	for _, l := range layouts {
		if t, err := time.Parse(l, v); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	if len(v) > 14 && v[14] == 'Z' {
		if t, err := time.Parse("20060102150405", v[:14]); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return s
}

func headOf(data []byte, n int) []byte {
	if len(data) > n {
		return data[:n]
	}
	return data
}
