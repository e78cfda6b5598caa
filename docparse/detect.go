package docparse

import (
	"archive/zip"
	"bytes"
	"mime"
	"path/filepath"
	"strings"
)

// genericMIME lists declared types that carry no format information.
var genericMIME = map[string]bool{
	"":                           true,
	"application/octet-stream":   true,
	"binary/octet-stream":        true,
	"application/x-download":     true,
	"application/download":       true,
	"application/force-download": true,
	"application/unknown":        true,
}

// Detect resolves the source format from the declared MIME type and
// filename. A recognised MIME type wins; a generic or absent one defers to
// the extension; any other MIME type is rejected.
func Detect(name, contentType string) (Format, error) {
	mt := normalizeMIME(contentType)
	switch mt {
	case MIMEPDF:
		return FormatPDF, nil
	case MIMETXT:
		return FormatTXT, nil
	case MIMEDOCX:
		return FormatDOCX, nil
	}
	if !genericMIME[mt] {
		return "", &Error{Kind: KindUnsupportedFormat}
	}
	if f, ok := formatFromExt(name); ok {
		return f, nil
	}
	return "", &Error{Kind: KindUnsupportedFormat}
}

// detectSource extends Detect with magic-byte sniffing for sources that
// declare nothing usable at all.
func detectSource(src Source) (Format, error) {
	f, err := Detect(src.Name, src.ContentType)
	if err == nil {
		return f, nil
	}
	if !genericMIME[normalizeMIME(src.ContentType)] || filepath.Ext(src.Name) != "" {
		return "", err
	}
	if f, ok := sniff(src.Data); ok {
		return f, nil
	}
	return "", err
}

func normalizeMIME(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Keep the bare type before any broken parameter list.
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func formatFromExt(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF, true
	case ".txt", ".text":
		return FormatTXT, true
	case ".docx":
		return FormatDOCX, true
	}
	return "", false
}

// sniff recognises PDF headers and OOXML word packages.
func sniff(data []byte) (Format, bool) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if bytes.Contains(head, []byte("%PDF-")) {
		return FormatPDF, true
	}
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return "", false
		}
		for _, f := range zr.File {
			if f.Name == docxMainPart {
				return FormatDOCX, true
			}
		}
	}
	return "", false
}
