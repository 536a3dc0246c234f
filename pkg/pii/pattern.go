package pii

import (
	"context"
	"regexp"

	"taxvault/pkg/domain"
)

// PatternDetector finds PII with regular expressions only. It exists for
// offline development and tests; production deployments use the DLP adapter.
type PatternDetector struct{}

// NewPatternDetector constructs the local provider.
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{}
}

var (
	formattedSSNPattern = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailPattern        = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	phonePattern        = regexp.MustCompile(`\(\d{3}\)[ \t]?\d{3}-\d{4}|\b\d{3}-\d{3}-\d{4}\b`)
)

// Detect scans for formatted SSNs, emails, phone numbers, and spaced SSNs.
func (d *PatternDetector) Detect(_ context.Context, text string) ([]domain.PiiFinding, error) {
	var findings []domain.PiiFinding
	for _, loc := range formattedSSNPattern.FindAllStringIndex(text, -1) {
		findings = append(findings, finding("US_SOCIAL_SECURITY_NUMBER", text, loc))
	}
	for _, loc := range emailPattern.FindAllStringIndex(text, -1) {
		findings = append(findings, finding("EMAIL_ADDRESS", text, loc))
	}
	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		if overlapsAny(findings, loc[0], loc[1]) {
			continue
		}
		findings = append(findings, finding("PHONE_NUMBER", text, loc))
	}
	return MergeFindings(findings, ScanSpacedSSNs(text)), nil
}

func finding(category, text string, loc []int) domain.PiiFinding {
	return domain.PiiFinding{
		Category:   category,
		Quote:      text[loc[0]:loc[1]],
		Start:      loc[0],
		End:        loc[1],
		Likelihood: "LIKELY",
	}
}

func overlapsAny(findings []domain.PiiFinding, start, end int) bool {
	for _, f := range findings {
		if start < f.End && f.Start < end {
			return true
		}
	}
	return false
}
