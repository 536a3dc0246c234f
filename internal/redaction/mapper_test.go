package redaction

import (
	"errors"
	"testing"

	"taxvault/pkg/domain"
)

func twoRunDoc() domain.DocumentText {
	// "SSN: 123-" on run one, "45-6789" on run two, same page.
	text := "SSN: 123-\n45-6789\n"
	return domain.DocumentText{
		Text: text,
		Pages: []domain.PageText{{
			Number: 1,
			Width:  612,
			Height: 792,
			Runs: []domain.TextRun{
				{Text: "SSN: 123-", Page: 1, Start: 0, End: 9, Box: domain.Rect{X: 0.1, Y: 0.2, W: 0.2, H: 0.02}},
				{Text: "45-6789", Page: 1, Start: 10, End: 17, Box: domain.Rect{X: 0.1, Y: 0.23, W: 0.15, H: 0.02}},
			},
		}},
	}
}

func TestMapFindingsSplitsAcrossRuns(t *testing.T) {
	doc := twoRunDoc()
	findings := []domain.PiiFinding{{
		Category: "US_SOCIAL_SECURITY_NUMBER",
		Quote:    doc.Text[5:17],
		Start:    5,
		End:      17,
	}}
	boxes, err := MapFindings(doc, findings)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("expected one box per intersecting run, got %d", len(boxes))
	}
	for _, b := range boxes {
		if b.Page != 1 {
			t.Fatalf("box on wrong page %d", b.Page)
		}
		if b.Box.W <= 0 || b.Box.H <= 0 {
			t.Fatalf("degenerate box %+v", b.Box)
		}
	}
	// First box covers only the tail of run one.
	if boxes[0].Box.X <= 0.1 {
		t.Fatalf("expected first box to start past the run origin, got x=%f", boxes[0].Box.X)
	}
}

func TestMapFindingsWidensSeparatorOnlySpan(t *testing.T) {
	doc := twoRunDoc()
	// Offset 9 is the separator byte between the runs.
	findings := []domain.PiiFinding{{Category: "PERSON_NAME", Start: 9, End: 10}}
	boxes, err := MapFindings(doc, findings)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("expected widening to the nearest run, got %d boxes", len(boxes))
	}
	if boxes[0].Box != doc.Pages[0].Runs[0].Box && boxes[0].Box != doc.Pages[0].Runs[1].Box {
		t.Fatalf("widened box does not match a run box: %+v", boxes[0].Box)
	}
}

func TestMapFindingsFailsClosedWhenUnanchorable(t *testing.T) {
	doc := domain.DocumentText{
		Text: "some text with no geometry at all, then more",
		Pages: []domain.PageText{{
			Number: 1,
			Runs: []domain.TextRun{
				{Text: "some", Page: 1, Start: 0, End: 4, Box: domain.Rect{X: 0.1, Y: 0.1, W: 0.1, H: 0.02}},
			},
		}},
	}
	findings := []domain.PiiFinding{{Category: "EMAIL_ADDRESS", Start: 20, End: 28}}
	_, err := MapFindings(doc, findings)
	if !errors.Is(err, domain.ErrMappingFailure) {
		t.Fatalf("expected ErrMappingFailure, got %v", err)
	}
}

func TestMapFindingsRejectsOutOfRangeOffsets(t *testing.T) {
	doc := twoRunDoc()
	_, err := MapFindings(doc, []domain.PiiFinding{{Category: "X", Start: 5, End: 9999}})
	if !errors.Is(err, domain.ErrMappingFailure) {
		t.Fatalf("expected ErrMappingFailure, got %v", err)
	}
}

func TestMapFindingsDeduplicatesIdenticalBoxes(t *testing.T) {
	doc := twoRunDoc()
	f := domain.PiiFinding{Category: "US_SOCIAL_SECURITY_NUMBER", Start: 0, End: 9}
	boxes, err := MapFindings(doc, []domain.PiiFinding{f, f})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("expected duplicate boxes collapsed, got %d", len(boxes))
	}
}
