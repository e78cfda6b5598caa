package docparse

import "testing"

func TestPrintableRatio_Normal(t *testing.T) {
	// WHAT: Normal text has high printable ratio.
	// WHY: Validates baseline quality scoring.
	ratio := computePrintableRatio("This is a normal sentence with standard characters.")
	if ratio < 0.95 {
		t.Errorf("printable ratio = %f, want > 0.95", ratio)
	}
}

func TestPrintableRatio_Garbage(t *testing.T) {
	// WHAT: PUA and control chars produce low printable ratio.
	// WHY: Detects garbled PDF extraction (CIDFont without ToUnicode).
	garbage := "abcdefghi\x01\x02\x03\x04\x05"
	ratio := computePrintableRatio(garbage)
	if ratio >= 0.85 {
		t.Errorf("printable ratio = %f, want < 0.85", ratio)
	}
}

func TestPrintableRatio_Empty(t *testing.T) {
	if ratio := computePrintableRatio(""); ratio != 1.0 {
		t.Errorf("empty text ratio = %f, want 1", ratio)
	}
}

func TestWordlikeRatio(t *testing.T) {
	if ratio := computeWordlikeRatio("This is a normal sentence with standard words inside"); ratio < 0.70 {
		t.Errorf("normal text: wordlike ratio = %f, want > 0.70", ratio)
	}
	if ratio := computeWordlikeRatio("a b c d e f g h i j k l"); ratio >= 0.40 {
		t.Errorf("single chars: wordlike ratio = %f, want < 0.40", ratio)
	}
}

func TestCountVisualRefs(t *testing.T) {
	text := "voir figure 3, cf. tableau 2, see Figure 1"
	if count := countVisualRefs(text); count < 3 {
		t.Errorf("visual refs = %d, want >= 3", count)
	}
	if count := countVisualRefs("nothing to see here"); count != 0 {
		t.Errorf("visual refs = %d, want 0", count)
	}
}

func TestQuality_Flags(t *testing.T) {
	tests := []struct {
		name      string
		q         Quality
		needsOCR  bool
		visualGap bool
	}{
		{"scanned page", Quality{CharsPerPage: 30, HasImageStreams: true, PrintableRatio: 0.9}, true, false},
		{"garbled text", Quality{CharsPerPage: 900, PrintableRatio: 0.5}, true, false},
		{"clean text", Quality{CharsPerPage: 900, PrintableRatio: 1}, false, false},
		{"figure reference", Quality{CharsPerPage: 900, PrintableRatio: 1, VisualRefCount: 2, HasImageStreams: true}, false, true},
		{"reference without images", Quality{CharsPerPage: 900, PrintableRatio: 1, VisualRefCount: 2}, false, false},
	}
	for _, tt := range tests {
		if got := tt.q.NeedsOCR(); got != tt.needsOCR {
			t.Errorf("%s: NeedsOCR = %v, want %v", tt.name, got, tt.needsOCR)
		}
		if got := tt.q.HasVisualGap(); got != tt.visualGap {
			t.Errorf("%s: HasVisualGap = %v, want %v", tt.name, got, tt.visualGap)
		}
	}
}

func TestQuality_Metadata(t *testing.T) {
	meta := map[string]any{}
	assessQuality("see figure 1 for the layout", 3, true).metadata(meta)

	if meta["chars_per_page"] != 9.0 {
		t.Errorf("chars_per_page: got %v", meta["chars_per_page"])
	}
	if meta["has_images"] != true {
		t.Errorf("has_images: got %v", meta["has_images"])
	}
	if meta["visual_gap"] != true {
		t.Errorf("visual_gap: got %v", meta["visual_gap"])
	}
	if meta["needs_ocr"] != true {
		t.Errorf("needs_ocr: got %v", meta["needs_ocr"])
	}
}
