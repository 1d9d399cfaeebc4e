package llm

import "strings"

// SystemPrompt is the fixed extraction instruction.
const SystemPrompt = `You are a bank statement parser. Extract every transaction from the statement text.
Return ONLY a JSON object of the form {"rows": [{"date": "YYYY-MM-DD", "description": "...", "amount": 12.34, "type": "credit" | "debit"}]}.
Rules:
- Use ISO-8601 dates (YYYY-MM-DD).
- "amount" is a positive number without currency symbols.
- "type" is "credit" for money coming in and "debit" for money going out.
- Skip opening/closing balances, subtotals and page headers.
- The text may be split into parts separated by a chunk break marker; a transaction can span two parts, list it once.
- If there are no transactions, return {"rows": []}.`

// BuildUserPrompt wraps the combined statement text.
func BuildUserPrompt(statementText string) string {
	var b strings.Builder
	b.WriteString("Statement text:\n\n")
	b.WriteString(statementText)
	b.WriteString("\n\nReturn ONLY JSON.")
	return b.String()
}
