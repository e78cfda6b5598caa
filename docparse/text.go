package docparse

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Encodings reported in TXT metadata.
const (
	EncodingUTF8        = "utf-8"
	EncodingUTF16LE     = "utf-16le"
	EncodingUTF16BE     = "utf-16be"
	EncodingWindows1252 = "windows-1252"
)

// textResult is the TXT provisional result.
type textResult struct {
	text     string
	encoding string
	byteSize int
	lines    int
}

func (*textResult) format() Format { return FormatTXT }

// extractText decodes plain text. UTF-8 is tried first; bytes that are not
// valid UTF-8 are decoded as Windows-1252, which maps every byte, so the
// fallback never fails and always yields the same output.
func extractText(data []byte) (*textResult, error) {
	text, enc, err := decodeText(data)
	if err != nil {
		return nil, fail(ReasonCorrupt, err)
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ToValidUTF8(text, "\uFFFD")

	return &textResult{
		text:     text,
		encoding: enc,
		byteSize: len(data),
		lines:    countLines(text),
	}, nil
}

func decodeText(data []byte) (string, string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		data = data[3:]
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		s, err := decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), data)
		return s, EncodingUTF16LE, err
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		s, err := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.UseBOM), data)
		return s, EncodingUTF16BE, err
	}
	if utf8.Valid(data) {
		return string(data), EncodingUTF8, nil
	}
	s, err := decodeWith(charmap.Windows1252, data)
	return s, EncodingWindows1252, err
}

func decodeWith(enc encoding.Encoding, data []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// countLines counts newline-terminated lines plus a trailing partial line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
