package docparse

import (
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// streamPageText decodes one page content stream through pdfcpu and keeps
// the operands of its text-showing operators.
func streamPageText(ctx *model.Context, pageNr int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// pageHasImages reports whether page pageNr references an image XObject.
func pageHasImages(ctx *model.Context, pageNr int) (found bool) {
	defer func() {
		if recover() != nil {
			found = false
		}
	}()
	if ctx.Optimize != nil {
		return len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0
	}
	for _, entry := range ctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, ok := sd.Find("Subtype"); ok {
			if name, ok := subtype.(types.Name); ok && name == "Image" {
				return true
			}
		}
	}
	return false
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// extractTextFromStream parses text operators line by line. Td/TD with a
// vertical offset and T* start a new line.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	showStrings := func(line []byte) {
		for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
			sb.WriteString(decodePDFString(m[1]))
		}
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			showStrings(line)
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")),
			bytes.HasSuffix(line, []byte(`"`)) && bytes.Contains(line, []byte("(")):
			sb.WriteByte('\n')
			showStrings(line)
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() == 0 {
				continue
			}
			if moveIsVertical(line) {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
		}
	}

	return cleanPDFText(sb.String())
}

func moveIsVertical(line []byte) bool {
	fields := strings.Fields(string(line))
	if len(fields) < 3 {
		return true
	}
	ty, err := strconv.ParseFloat(fields[len(fields)-2], 64)
	return err != nil || ty != 0
}

// decodePDFString handles PDF literal string escapes, octal included.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b', 'f':
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			val := int(raw[i] - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return latin1ToUTF8(sb.String())
}

// latin1ToUTF8 maps single-byte string content to runes so that bytes above
// 0x7f do not produce invalid UTF-8.
func latin1ToUTF8(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			r := make([]rune, len(s))
			for j := 0; j < len(s); j++ {
				r[j] = rune(s[j])
			}
			return string(r)
		}
	}
	return s
}

// cleanPDFText collapses horizontal whitespace, keeps line breaks and drops
// unprintable runes.
func cleanPDFText(text string) string {
	var sb strings.Builder
	pendingSpace, pendingLine := false, false
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			pendingLine = true
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsPrint(r):
			if sb.Len() > 0 {
				if pendingLine {
					sb.WriteByte('\n')
				} else if pendingSpace {
					sb.WriteByte(' ')
				}
			}
			pendingSpace, pendingLine = false, false
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
