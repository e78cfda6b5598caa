package docparse

import (
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// layoutCell is a horizontally contiguous run of glyphs on one line.
type layoutCell struct {
	x0, x1 float64
	text   string
}

// layoutLine is a set of glyphs sharing a baseline, split into cells
// wherever the horizontal gap exceeds a couple of ems.
type layoutLine struct {
	y     float64
	size  float64
	cells []layoutCell
}

const (
	defaultFontSize = 10.0
	wordGapEm       = 0.25
	cellGapEm       = 2.0
	baselineEm      = 0.35
	alignTolerance  = 4.0
)

type glyph struct {
	pdf.Text
	seq int
}

// buildLines groups positioned glyphs into lines ordered top to bottom.
// Glyphs keep their content order when they share an x position, which is
// what the layout reader reports for fonts without width tables.
func buildLines(texts []pdf.Text) []layoutLine {
	type bucket struct {
		y      float64
		size   float64
		glyphs []glyph
	}
	var buckets []*bucket
	for i, t := range texts {
		if t.S == "" {
			continue
		}
		size := t.FontSize
		if size <= 0 {
			size = defaultFontSize
		}
		var into *bucket
		for _, b := range buckets {
			if math.Abs(b.y-t.Y) <= math.Max(1, baselineEm*math.Max(size, b.size)) {
				into = b
				break
			}
		}
		if into == nil {
			into = &bucket{y: t.Y, size: size}
			buckets = append(buckets, into)
		}
		into.glyphs = append(into.glyphs, glyph{Text: t, seq: i})
		if size > into.size {
			into.size = size
		}
	}

	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].y > buckets[j].y })

	lines := make([]layoutLine, 0, len(buckets))
	for _, b := range buckets {
		sort.SliceStable(b.glyphs, func(i, j int) bool {
			if b.glyphs[i].X != b.glyphs[j].X {
				return b.glyphs[i].X < b.glyphs[j].X
			}
			return b.glyphs[i].seq < b.glyphs[j].seq
		})
		line := layoutLine{y: b.y, size: b.size, cells: splitCells(b.glyphs, b.size)}
		if len(line.cells) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

func splitCells(glyphs []glyph, size float64) []layoutCell {
	var cells []layoutCell
	var sb strings.Builder
	var cur layoutCell
	open := false

	flush := func() {
		if !open {
			return
		}
		cur.text = strings.TrimSpace(sb.String())
		if cur.text != "" {
			cells = append(cells, cur)
		}
		sb.Reset()
		open = false
	}

	for _, g := range glyphs {
		w := g.W
		if w <= 0 {
			w = size * 0.5
		}
		if !open {
			cur = layoutCell{x0: g.X, x1: g.X + w}
			open = true
			sb.WriteString(g.S)
			continue
		}
		gap := g.X - cur.x1
		switch {
		case gap > cellGapEm*size:
			flush()
			cur = layoutCell{x0: g.X, x1: g.X + w}
			open = true
		case gap > wordGapEm*size && g.S != " " && !strings.HasSuffix(sb.String(), " "):
			sb.WriteByte(' ')
		}
		sb.WriteString(g.S)
		if end := g.X + w; end > cur.x1 {
			cur.x1 = end
		}
	}
	flush()
	return cells
}

// linesText renders lines in reading order, cells separated by a space.
func linesText(lines []layoutLine) string {
	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for j, c := range l.cells {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(c.text)
		}
	}
	return sb.String()
}

// detectTables reports runs of at least two consecutive lines that split
// into the same number (two or more) of column-aligned cells.
func detectTables(lines []layoutLine) []Table {
	var tables []Table
	for i := 0; i < len(lines); {
		if len(lines[i].cells) < 2 {
			i++
			continue
		}
		j := i + 1
		for j < len(lines) && columnsAlign(lines[i], lines[j]) {
			j++
		}
		if j-i < 2 {
			i++
			continue
		}
		t := make(Table, 0, j-i)
		for _, l := range lines[i:j] {
			row := make([]string, len(l.cells))
			for k, c := range l.cells {
				row[k] = c.text
			}
			t = append(t, row)
		}
		tables = append(tables, t)
		i = j
	}
	return tables
}

func columnsAlign(head, row layoutLine) bool {
	if len(head.cells) != len(row.cells) {
		return false
	}
	for k := range head.cells {
		a, b := head.cells[k], row.cells[k]
		overlap := math.Max(a.x0, b.x0) <= math.Min(a.x1, b.x1)+alignTolerance
		left := math.Abs(a.x0-b.x0) <= alignTolerance
		right := math.Abs(a.x1-b.x1) <= alignTolerance
		if !overlap && !left && !right {
			return false
		}
	}
	return true
}
