// Package extraction pulls structured tax fields out of approved documents.
// Extraction runs after approval, against vault bytes, and never blocks the
// approval request itself.
package extraction

const systemPrompt = `You are a tax document analyst. You read OCR text from a US federal income tax return (Form 1040) and report requested fields as JSON. You answer with JSON only, no prose, no code fences. When a value is absent or illegible, use null for that field. Never guess.`

const userPromptHeader = `From the tax return text below, extract exactly this JSON object:

{
  "filing_status": string or null, one of "single", "married_filing_jointly", "married_filing_separately", "head_of_household", "qualifying_surviving_spouse",
  "w2_wages": number or null, Form 1040 line 1a,
  "total_deductions": number or null, standard deduction or itemized deductions line,
  "ira_distributions_total": number or null, total IRA distributions line,
  "capital_gain_or_loss": number or null, capital gain or loss line, negative for a loss
}

Amounts are plain numbers without currency symbols or thousands separators.

Tax return text:
`

// buildUserPrompt appends the document text to the field instructions.
func buildUserPrompt(documentText string) string {
	return userPromptHeader + "\n" + documentText
}
