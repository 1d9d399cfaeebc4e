package llm

import (
	"maps"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reAmountNoise = regexp.MustCompile(`[^\d.\-]`)
	dateLayouts   = []string{
		"2006-01-02",
		"2006/01/02",
		"2006.01.02",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"02 Jan 2006",
		"2 Jan 2006",
		"Jan 2, 2006",
		"January 2, 2006",
		"02-Jan-2006",
	}
)

// NormalizeRow mutates one decoded row toward the row schema and reports what it touched.
// - Renames known synonyms (transaction_date -> date, memo -> description, value -> amount)
// - Coerces amount strings such as "$1,234.56" or "(12.00)" to numbers
// - Rewrites recognizable dates to YYYY-MM-DD
// - Removes unknown keys
func NormalizeRow(m map[string]any) []string {
	notes := make([]string, 0, 4)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			notes = append(notes, from+"->"+to)
		}
	}
	renamed("transaction_date", "date")
	renamed("tx_date", "date")
	renamed("posted_date", "date")
	renamed("memo", "description")
	renamed("narrative", "description")
	renamed("details", "description")
	renamed("value", "amount")
	renamed("transaction_type", "type")

	for _, k := range []string{"date", "description", "type"} {
		if v, ok := m[k].(string); ok {
			m[k] = strings.TrimSpace(v)
		}
	}

	switch t := m["amount"].(type) {
	case string:
		if f, ok := parseAmount(t); ok {
			m["amount"] = f
			notes = append(notes, "amount(string)")
		}
	case nil:
		delete(m, "amount")
	}

	if s, ok := m["date"].(string); ok && s != "" {
		if d, ok := normalizeDate(s); ok && d != s {
			m["date"] = d
			notes = append(notes, "date(format)")
		}
	}

	allowed := map[string]struct{}{"date": {}, "description": {}, "amount": {}, "type": {}}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			notes = append(notes, k+"(unknown)")
		}
	}
	return notes
}

func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	cleaned := reAmountNoise.ReplaceAllString(s, "")
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	if negative && f > 0 {
		f = -f
	}
	return f, true
}

func normalizeDate(s string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return s, false
}
