package docparse

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Quality captures heuristics about how usable the extracted PDF text is.
type Quality struct {
	PagesRead       int
	CharsPerPage    float64
	PrintableRatio  float64
	WordlikeRatio   float64
	HasImageStreams bool
	VisualRefCount  int
}

// NeedsOCR reports whether the PDF likely holds its text as images.
func (q Quality) NeedsOCR() bool {
	return (q.CharsPerPage < 50 && q.HasImageStreams) || q.PrintableRatio < 0.85
}

// HasVisualGap reports whether the text refers to figures or tables that
// only exist as images.
func (q Quality) HasVisualGap() bool {
	return q.VisualRefCount > 0 && q.HasImageStreams
}

func assessQuality(text string, pagesRead int, hasImages bool) Quality {
	q := Quality{
		PagesRead:       pagesRead,
		PrintableRatio:  computePrintableRatio(text),
		WordlikeRatio:   computeWordlikeRatio(text),
		HasImageStreams: hasImages,
		VisualRefCount:  countVisualRefs(text),
	}
	if pagesRead > 0 {
		q.CharsPerPage = float64(utf8.RuneCountInString(text)) / float64(pagesRead)
	}
	return q
}

// metadata renders the quality fields with fixed precision.
func (q Quality) metadata(meta map[string]any) {
	meta["printable_ratio"] = round3(q.PrintableRatio)
	meta["wordlike_ratio"] = round3(q.WordlikeRatio)
	meta["chars_per_page"] = round3(q.CharsPerPage)
	meta["has_images"] = q.HasImageStreams
	meta["needs_ocr"] = q.NeedsOCR()
	if q.HasVisualGap() {
		meta["visual_gap"] = true
	}
}

func round3(f float64) float64 { return math.Round(f*1000) / 1000 }

// computePrintableRatio returns the ratio of printable characters in text.
// Excludes PUA U+E000-U+F8FF, control chars < U+0020 (except \n\r\t), U+FFFD.
func computePrintableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	switch {
	case r >= 0xE000 && r <= 0xF8FF:
		return true
	case r == utf8.RuneError:
		return true
	case r < 0x0020 && r != '\n' && r != '\r' && r != '\t':
		return true
	}
	return false
}

// computeWordlikeRatio returns the ratio of word-like tokens (length 2-15) to total tokens.
func computeWordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		if n := utf8.RuneCountInString(f); n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}

var visualRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(voir|cf\.?|see|refer\s+to)\s+(la\s+)?(figure|fig\.?|tableau|table|sch[eé]ma|schema|image|illustration|graphique|graph|diagramme|diagram)\s*\d`),
	regexp.MustCompile(`(?i)(figure|fig\.?|tableau|table)\s+\d+`),
}

// countVisualRefs counts references to figures, tables, and diagrams in text.
func countVisualRefs(text string) int {
	count := 0
	for _, pat := range visualRefPatterns {
		count += len(pat.FindAllStringIndex(text, -1))
	}
	return count
}
