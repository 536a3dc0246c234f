package pii

import (
	"context"
	"strings"
	"testing"
)

func TestScanSpacedSSNsFindsNumberNearKeyword(t *testing.T) {
	text := "Your social security number\n123 45 6789\nFiling status: single"
	findings := ScanSpacedSSNs(text)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Category != "US_SOCIAL_SECURITY_NUMBER" {
		t.Fatalf("unexpected category %q", f.Category)
	}
	if text[f.Start:f.End] != "123 45 6789" {
		t.Fatalf("offsets do not index the quote: %q", text[f.Start:f.End])
	}
	if f.Quote != "123 45 6789" {
		t.Fatalf("unexpected quote %q", f.Quote)
	}
}

func TestScanSpacedSSNsIgnoresAmountsWithoutContext(t *testing.T) {
	text := "Wages, salaries, tips\n123 45 6789\nAttach Form W-2 here"
	if findings := ScanSpacedSSNs(text); len(findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(findings))
	}
}

func TestScanSpacedSSNsRejectsUnissuedAreaNumbers(t *testing.T) {
	for _, bad := range []string{"000 12 3456", "666 12 3456", "912 34 5678"} {
		text := "spouse's social security number " + bad
		if findings := ScanSpacedSSNs(text); len(findings) != 0 {
			t.Fatalf("%q: expected rejection, got %d findings", bad, len(findings))
		}
	}
}

func TestScanSpacedSSNsSpouseContext(t *testing.T) {
	text := "If joint return, spouse's first name and social sec. no. 321 54 9876"
	findings := ScanSpacedSSNs(text)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
}

func TestPatternDetectorCoversCommonShapes(t *testing.T) {
	text := "SSN: 123-45-6789\nEmail: filer@example.com\nPhone: (555) 123-4567\nssn 321 54 9876"
	findings, err := NewPatternDetector().Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	got := map[string]int{}
	for _, f := range findings {
		got[f.Category]++
		if text[f.Start:f.End] != f.Quote {
			t.Fatalf("%s offsets do not index the quote: %q vs %q", f.Category, text[f.Start:f.End], f.Quote)
		}
	}
	want := map[string]int{
		"US_SOCIAL_SECURITY_NUMBER": 2,
		"EMAIL_ADDRESS":             1,
		"PHONE_NUMBER":              1,
	}
	for category, n := range want {
		if got[category] != n {
			t.Fatalf("category %s: want %d findings, got %d (all: %v)", category, n, got[category], got)
		}
	}
}

func TestMergeFindingsDropsOverlaps(t *testing.T) {
	text := "ssn 123 45 6789 end"
	base, err := NewPatternDetector().Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	// The spaced scan runs inside Detect already; merging it again must not
	// duplicate the span.
	merged := MergeFindings(base, ScanSpacedSSNs(text))
	if len(merged) != len(base) {
		t.Fatalf("expected merge to be idempotent, got %d vs %d", len(merged), len(base))
	}
	count := 0
	for _, f := range merged {
		if strings.Contains(f.Quote, "123 45 6789") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one spaced finding, got %d", count)
	}
}
