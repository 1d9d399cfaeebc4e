package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRepairer(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		kind     RepairKind
		rows     int
		firstKey string
	}{
		{name: "clean", raw: `{"rows":[{"date":"2024-01-02","description":"Coffee","amount":3.5,"type":"debit"}]}`, kind: RepairOK, rows: 1},
		{name: "fenced", raw: "```json\n{\"rows\":[{\"date\":\"2024-01-02\",\"description\":\"A\",\"amount\":1}]}\n```", kind: RepairOK, rows: 1},
		{name: "unterminated fence", raw: "```json\n{\"rows\":[{\"date\":\"2024-01-02\",\"description\":\"A\",\"amount\":1}]}", kind: RepairOK, rows: 1},
		{name: "commentary around", raw: "Sure! Here you go:\n{\"rows\":[{\"date\":\"2024-01-02\",\"description\":\"A\",\"amount\":1}]}\nLet me know if you need more.", kind: RepairOK, rows: 1},
		{name: "trailing commas", raw: `{"rows":[{"date":"2024-01-02","description":"A","amount":1,},]}`, kind: RepairOK, rows: 1},
		{name: "truncated mid row", raw: `{"rows":[{"date":"2024-01-02","description":"A","amount":1},{"date":"2024-01-0`, kind: RepairOK, rows: 1},
		{name: "truncated inside first row", raw: `{"rows":[{"date":"2024-01-02","description":"A","amo`, kind: RepairOK, rows: 1},
		{name: "truncated before rows", raw: `{"rows":[`, kind: RepairEmpty},
		{name: "bare array", raw: `[{"date":"2024-01-02","description":"A","amount":1},{"date":"2024-01-03","description":"B","amount":2}]`, kind: RepairOK, rows: 2},
		{name: "single row object", raw: `{"date":"2024-01-02","description":"A","amount":1}`, kind: RepairOK, rows: 1},
		{name: "transactions key", raw: `{"transactions":[{"date":"2024-01-02","description":"A","amount":1}]}`, kind: RepairOK, rows: 1},
		{name: "empty object", raw: `{}`, kind: RepairEmpty},
		{name: "empty rows", raw: `{"rows":[]}`, kind: RepairEmpty},
		{name: "blank", raw: "   ", kind: RepairEmpty},
		{name: "prose only", raw: "I could not find any transactions.", kind: RepairUnrepairable},
		{name: "bracket in commentary", raw: `Here are the [2] transactions: {"rows":[{"date":"2024-01-02","description":"A","amount":1},{"date":"2024-01-03","description":"B","amount":2}]}`, kind: RepairOK, rows: 2},
		{name: "brace in commentary", raw: "Format {date, amount} as requested:\n{\"rows\":[{\"date\":\"2024-01-02\",\"description\":\"A\",\"amount\":1}]}", kind: RepairOK, rows: 1},
		{name: "bracket in commentary without payload", raw: `See [1] above, nothing to report.`, kind: RepairEmpty},
		{name: "brackets in strings", raw: `{"rows":[{"date":"2024-01-02","description":"Refund [ref: {42}]","amount":1}]}`, kind: RepairOK, rows: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := JSONRepairer{}.Repair(tc.raw)
			require.Equal(t, tc.kind, res.Kind, "fixes=%v", res.Fixes)
			assert.Len(t, res.Rows, tc.rows)
		})
	}
}

func TestJSONRepairer_ReportsFixes(t *testing.T) {
	res := JSONRepairer{}.Repair("```json\n{\"rows\":[{\"date\":\"2024-01-02\",\"description\":\"A\",\"amount\":1},")
	require.Equal(t, RepairOK, res.Kind)
	assert.Contains(t, res.Fixes, "fences")
	assert.Contains(t, res.Fixes, "truncated")
}

func TestJSONRepairer_KeepsEscapedQuotes(t *testing.T) {
	res := JSONRepairer{}.Repair(`{"rows":[{"date":"2024-01-02","description":"Joe's \"Diner\"","amount":9}]}`)
	require.Equal(t, RepairOK, res.Kind)
	assert.Equal(t, `Joe's "Diner"`, res.Rows[0]["description"])
}

func TestJSONRepairer_SkipsBracketsInPreamble(t *testing.T) {
	res := JSONRepairer{}.Repair(`Here are the [2] transactions: {"rows":[{"date":"2024-01-02","description":"Salary","amount":2500,"type":"credit"}]}`)
	require.Equal(t, RepairOK, res.Kind)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Salary", res.Rows[0]["description"])
	assert.Contains(t, res.Fixes, "leading_text")
	assert.NotContains(t, res.Fixes, "trailing_text")
}
