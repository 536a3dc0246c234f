package pii

import (
	"regexp"
	"strings"

	"taxvault/pkg/domain"
)

// OCR of handwritten 1040s often reads SSNs as digits separated by spaces,
// which the upstream detectors miss. This scan finds them without touching
// the input text, so finding offsets stay valid against the canonical
// concatenation.

var spacedSSNPattern = regexp.MustCompile(`\b\d{3}[ \t]+\d{2}[ \t]+\d{4}\b`)

const ssnContextWindow = 100

// ScanSpacedSSNs finds space-separated SSN-shaped digit groups near social
// security wording. Offsets index text directly.
func ScanSpacedSSNs(text string) []domain.PiiFinding {
	var findings []domain.PiiFinding
	for _, loc := range spacedSSNPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		quote := text[start:end]
		if !validSSNGroups(quote) {
			continue
		}
		if !ssnContext(text, start, end) {
			continue
		}
		findings = append(findings, domain.PiiFinding{
			Category:   "US_SOCIAL_SECURITY_NUMBER",
			Quote:      quote,
			Start:      start,
			End:        end,
			Likelihood: "LIKELY",
		})
	}
	return findings
}

// validSSNGroups rejects area numbers never issued by the SSA.
func validSSNGroups(quote string) bool {
	area := quote[:3]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return true
}

// ssnContext checks the surrounding text for social security wording, to
// avoid flagging dollar amounts and line numbers that happen to match the
// digit shape.
func ssnContext(text string, start, end int) bool {
	lo := start - ssnContextWindow
	if lo < 0 {
		lo = 0
	}
	hi := end + ssnContextWindow
	if hi > len(text) {
		hi = len(text)
	}
	window := strings.ToLower(text[lo:hi])
	if strings.Contains(window, "ssn") {
		return true
	}
	if strings.Contains(window, "social security") {
		return strings.Contains(window, "number") || strings.Contains(window, "no.")
	}
	return strings.Contains(window, "spouse") && strings.Contains(window, "social")
}
