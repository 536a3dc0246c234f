package ocr

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"taxvault/pkg/domain"
)

// LocalExtractor reads embedded PDF text layers with a pure-Go parser.
// It exists for offline development and tests; production deployments use
// the Document AI adapter, which also handles scanned pages and images.
type LocalExtractor struct{}

// NewLocalExtractor constructs the local provider.
func NewLocalExtractor() *LocalExtractor {
	return &LocalExtractor{}
}

// Extract builds rows of text with their rectangles, page by page, and
// concatenates them with a newline separator. Offsets index the returned
// text exactly.
func (e *LocalExtractor) Extract(_ context.Context, data []byte, mimeType string) (result domain.DocumentText, err error) {
	if mimeType != "application/pdf" {
		return domain.DocumentText{}, fmt.Errorf("%w: local extractor handles application/pdf only, got %s", domain.ErrUnsupportedDocument, mimeType)
	}
	// The underlying parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrUnsupportedDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.DocumentText{}, fmt.Errorf("%w: %v", domain.ErrUnsupportedDocument, err)
	}

	var sb strings.Builder
	cursor := 0
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		width, height := mediaBox(page)
		pt := domain.PageText{Number: i, Width: width, Height: height}

		rows, rowErr := page.GetTextByRow()
		if rowErr != nil {
			// A page without a readable text layer yields no runs; the page
			// still exists for the renderer.
			result.Pages = append(result.Pages, pt)
			continue
		}
		sort.Slice(rows, func(a, b int) bool { return rows[a].Position > rows[b].Position })
		for _, row := range rows {
			run, ok := rowToRun(row, i, width, height)
			if !ok {
				continue
			}
			run.Start = cursor
			run.End = cursor + len(run.Text)
			sb.WriteString(run.Text)
			sb.WriteString("\n")
			cursor = run.End + 1
			pt.Runs = append(pt.Runs, run)
		}
		result.Pages = append(result.Pages, pt)
	}
	if len(result.Pages) == 0 {
		return domain.DocumentText{}, fmt.Errorf("%w: no pages", domain.ErrUnsupportedDocument)
	}
	result.Text = sb.String()
	return result, nil
}

func rowToRun(row *pdf.Row, pageNumber int, pageW, pageH float64) (domain.TextRun, bool) {
	if row == nil || len(row.Content) == 0 || pageW <= 0 || pageH <= 0 {
		return domain.TextRun{}, false
	}
	frags := make([]pdf.Text, len(row.Content))
	copy(frags, row.Content)
	sort.Slice(frags, func(a, b int) bool { return frags[a].X < frags[b].X })

	var sb strings.Builder
	minX, maxX := frags[0].X, frags[0].X+frags[0].W
	fontSize := frags[0].FontSize
	prevEnd := frags[0].X
	for i, f := range frags {
		if i > 0 && f.X-prevEnd > f.FontSize*0.25 {
			sb.WriteString(" ")
		}
		sb.WriteString(f.S)
		prevEnd = f.X + f.W
		if f.X < minX {
			minX = f.X
		}
		if f.X+f.W > maxX {
			maxX = f.X + f.W
		}
		if f.FontSize > fontSize {
			fontSize = f.FontSize
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return domain.TextRun{}, false
	}
	baseline := frags[0].Y
	top := pageH - (baseline + fontSize)
	box := domain.Rect{
		X: clamp01(minX / pageW),
		Y: clamp01(top / pageH),
		W: clamp01((maxX - minX) / pageW),
		H: clamp01(fontSize * 1.4 / pageH),
	}
	if box.W == 0 || box.H == 0 {
		return domain.TextRun{}, false
	}
	return domain.TextRun{Text: text, Page: pageNumber, Box: box}, true
}

// mediaBox resolves the page size, walking up the page tree for inherited
// attributes. Falls back to US Letter.
func mediaBox(page pdf.Page) (float64, float64) {
	v := page.V
	for !v.IsNull() {
		if mb := v.Key("MediaBox"); !mb.IsNull() && mb.Len() == 4 {
			w := mb.Index(2).Float64() - mb.Index(0).Float64()
			h := mb.Index(3).Float64() - mb.Index(1).Float64()
			if w > 0 && h > 0 {
				return w, h
			}
		}
		v = v.Key("Parent")
	}
	return 612, 792
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
