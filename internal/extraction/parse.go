package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"taxvault/pkg/domain"
)

const fieldsSchema = `{
	"type": "object",
	"properties": {
		"filing_status": {"type": ["string", "null"]},
		"w2_wages": {"type": ["number", "string", "null"]},
		"total_deductions": {"type": ["number", "string", "null"]},
		"ira_distributions_total": {"type": ["number", "string", "null"]},
		"capital_gain_or_loss": {"type": ["number", "string", "null"]}
	},
	"required": ["filing_status", "w2_wages", "total_deductions", "ira_distributions_total", "capital_gain_or_loss"],
	"additionalProperties": true
}`

var compiledFieldsSchema = jsonschema.MustCompileString("fields.json", fieldsSchema)

var knownFilingStatuses = map[string]struct{}{
	"single":                      {},
	"married_filing_jointly":      {},
	"married_filing_separately":   {},
	"head_of_household":           {},
	"qualifying_surviving_spouse": {},
}

// parseFields turns a model response into TaxFields. Models wrap JSON in
// code fences and format amounts as "$1,234.56" often enough that both are
// tolerated here rather than failing the extraction.
func parseFields(response string) (*domain.TaxFields, error) {
	raw := stripCodeFence(response)
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := compiledFieldsSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("response does not match the field schema: %w", err)
	}
	obj := v.(map[string]any)

	fields := &domain.TaxFields{}
	if s, ok := stringField(obj, "filing_status"); ok {
		normalized := normalizeFilingStatus(s)
		if _, known := knownFilingStatuses[normalized]; known {
			fields.FilingStatus = &normalized
		}
	}
	fields.W2Wages = amountField(obj, "w2_wages")
	fields.TotalDeductions = amountField(obj, "total_deductions")
	fields.IRADistributionsTotal = amountField(obj, "ira_distributions_total")
	fields.CapitalGainOrLoss = amountField(obj, "capital_gain_or_loss")
	return fields, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block when present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func stringField(obj map[string]any, key string) (string, bool) {
	s, ok := obj[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// amountField accepts numbers and dollar-formatted strings, returning nil
// for null, missing, or unparseable values.
func amountField(obj map[string]any, key string) *float64 {
	switch v := obj[key].(type) {
	case float64:
		return &v
	case string:
		cleaned := strings.TrimSpace(v)
		cleaned = strings.TrimPrefix(cleaned, "$")
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		negative := false
		if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
			negative = true
			cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "("), ")")
			cleaned = strings.TrimPrefix(cleaned, "$")
		}
		n, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil
		}
		if negative {
			n = -n
		}
		return &n
	default:
		return nil
	}
}

func normalizeFilingStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	switch s {
	case "mfj", "married_filing_joint":
		return "married_filing_jointly"
	case "mfs", "married_filing_separate":
		return "married_filing_separately"
	case "hoh":
		return "head_of_household"
	case "qss", "qualifying_widow", "qualifying_widow_er_", "qualifying_widower":
		return "qualifying_surviving_spouse"
	}
	return s
}
