// Package redaction turns detector findings into painted pages. The mapper
// anchors byte ranges to page geometry, the renderer rasterizes and paints,
// and the pipeline drives the whole lifecycle for one document.
package redaction

import (
	"fmt"
	"sort"

	"taxvault/pkg/domain"
)

// Per-category padding in rasterized pixels. Names and SSNs get extra margin
// because OCR boxes tend to undershoot handwriting.
var paintPadding = map[string]paddingSpec{
	"PERSON_NAME":               {X: 8, Y: 4},
	"US_SOCIAL_SECURITY_NUMBER": {X: 8, Y: 8},
	"SSN_PATTERN":               {X: 8, Y: 8},
}

var defaultPadding = paddingSpec{X: 2, Y: 2}

type paddingSpec struct {
	X int
	Y int
}

func paddingFor(category string) paddingSpec {
	if p, ok := paintPadding[category]; ok {
		return p
	}
	return defaultPadding
}

// MapFindings resolves every finding to one or more page boxes. A finding
// that spans runs yields one box per intersecting run. A finding no run
// covers fails the whole mapping: a span we cannot anchor is a span we
// cannot paint, and shipping the page anyway would leak it.
func MapFindings(text domain.DocumentText, findings []domain.PiiFinding) ([]domain.RedactionBox, error) {
	runs := text.Runs()
	sort.Slice(runs, func(a, b int) bool { return runs[a].Start < runs[b].Start })

	var boxes []domain.RedactionBox
	for _, f := range findings {
		if f.End <= f.Start || f.End > len(text.Text) {
			return nil, fmt.Errorf("%w: finding %q has range [%d,%d) outside text of %d bytes",
				domain.ErrMappingFailure, f.Category, f.Start, f.End, len(text.Text))
		}
		anchored := false
		for _, run := range runs {
			if f.Start >= run.End || run.Start >= f.End {
				continue
			}
			anchored = true
			boxes = append(boxes, domain.RedactionBox{
				Page:     run.Page,
				Box:      sliceBox(run, f),
				Category: f.Category,
			})
		}
		if !anchored {
			// Detector offsets can land on separator bytes between runs when
			// OCR splits a value oddly. Widen to the nearest run instead of
			// dropping the finding.
			if run, ok := nearestRun(runs, f); ok {
				boxes = append(boxes, domain.RedactionBox{Page: run.Page, Box: run.Box, Category: f.Category})
				anchored = true
			}
		}
		if !anchored {
			return nil, fmt.Errorf("%w: no geometry for %q at [%d,%d)",
				domain.ErrMappingFailure, f.Category, f.Start, f.End)
		}
	}
	return dedupeBoxes(boxes), nil
}

// sliceBox narrows a run's rectangle horizontally to the finding's share of
// the run, assuming roughly uniform glyph width within the run.
func sliceBox(run domain.TextRun, f domain.PiiFinding) domain.Rect {
	runLen := run.End - run.Start
	if runLen <= 0 {
		return run.Box
	}
	start := f.Start
	if start < run.Start {
		start = run.Start
	}
	end := f.End
	if end > run.End {
		end = run.End
	}
	left := float64(start-run.Start) / float64(runLen)
	right := float64(end-run.Start) / float64(runLen)
	return domain.Rect{
		X: run.Box.X + run.Box.W*left,
		Y: run.Box.Y,
		W: run.Box.W * (right - left),
		H: run.Box.H,
	}
}

func nearestRun(runs []domain.TextRun, f domain.PiiFinding) (domain.TextRun, bool) {
	best := -1
	bestDist := 0
	for i, run := range runs {
		var dist int
		switch {
		case run.End <= f.Start:
			dist = f.Start - run.End
		case f.End <= run.Start:
			dist = run.Start - f.End
		default:
			return run, true
		}
		if best == -1 || dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	if best == -1 || bestDist > 2 {
		return domain.TextRun{}, false
	}
	return runs[best], true
}

func dedupeBoxes(boxes []domain.RedactionBox) []domain.RedactionBox {
	seen := make(map[domain.RedactionBox]struct{}, len(boxes))
	out := boxes[:0]
	for _, b := range boxes {
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}
