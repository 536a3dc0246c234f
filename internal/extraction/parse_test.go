package extraction

import (
	"testing"
)

func TestParseFieldsPlainJSON(t *testing.T) {
	fields, err := parseFields(`{
		"filing_status": "married_filing_jointly",
		"w2_wages": 85432.10,
		"total_deductions": 27700,
		"ira_distributions_total": null,
		"capital_gain_or_loss": -1250.5
	}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields.FilingStatus == nil || *fields.FilingStatus != "married_filing_jointly" {
		t.Fatalf("filing status = %v", fields.FilingStatus)
	}
	if fields.W2Wages == nil || *fields.W2Wages != 85432.10 {
		t.Fatalf("w2 wages = %v", fields.W2Wages)
	}
	if fields.IRADistributionsTotal != nil {
		t.Fatalf("ira distributions should be nil, got %v", *fields.IRADistributionsTotal)
	}
	if fields.CapitalGainOrLoss == nil || *fields.CapitalGainOrLoss != -1250.5 {
		t.Fatalf("capital gain = %v", fields.CapitalGainOrLoss)
	}
}

func TestParseFieldsStripsCodeFence(t *testing.T) {
	fields, err := parseFields("```json\n{\"filing_status\":\"single\",\"w2_wages\":50000,\"total_deductions\":null,\"ira_distributions_total\":null,\"capital_gain_or_loss\":null}\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields.FilingStatus == nil || *fields.FilingStatus != "single" {
		t.Fatalf("filing status = %v", fields.FilingStatus)
	}
	if fields.W2Wages == nil || *fields.W2Wages != 50000 {
		t.Fatalf("w2 wages = %v", fields.W2Wages)
	}
}

func TestParseFieldsDollarFormattedAmounts(t *testing.T) {
	fields, err := parseFields(`{
		"filing_status": "Head of Household",
		"w2_wages": "$85,432.10",
		"total_deductions": "20,800",
		"ira_distributions_total": "not visible",
		"capital_gain_or_loss": "($2,500.00)"
	}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields.FilingStatus == nil || *fields.FilingStatus != "head_of_household" {
		t.Fatalf("filing status = %v", fields.FilingStatus)
	}
	if fields.W2Wages == nil || *fields.W2Wages != 85432.10 {
		t.Fatalf("w2 wages = %v", fields.W2Wages)
	}
	if fields.TotalDeductions == nil || *fields.TotalDeductions != 20800 {
		t.Fatalf("deductions = %v", fields.TotalDeductions)
	}
	if fields.IRADistributionsTotal != nil {
		t.Fatalf("unparseable amount should become nil, got %v", *fields.IRADistributionsTotal)
	}
	if fields.CapitalGainOrLoss == nil || *fields.CapitalGainOrLoss != -2500 {
		t.Fatalf("capital gain = %v", fields.CapitalGainOrLoss)
	}
}

func TestParseFieldsUnknownFilingStatusBecomesNil(t *testing.T) {
	fields, err := parseFields(`{"filing_status":"quadruple","w2_wages":null,"total_deductions":null,"ira_distributions_total":null,"capital_gain_or_loss":null}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields.FilingStatus != nil {
		t.Fatalf("unknown filing status should be nil, got %q", *fields.FilingStatus)
	}
}

func TestParseFieldsRejectsNonJSON(t *testing.T) {
	if _, err := parseFields("I could not find any fields in this document."); err == nil {
		t.Fatal("expected error for prose response")
	}
}

func TestParseFieldsRejectsMissingKeys(t *testing.T) {
	if _, err := parseFields(`{"filing_status":"single"}`); err == nil {
		t.Fatal("expected schema validation error for missing keys")
	}
}
