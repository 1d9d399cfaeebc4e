package llm

import (
	"encoding/json"
	"strings"
)

// RepairKind tags the outcome of repairing raw model output.
type RepairKind int

const (
	// RepairOK means at least one candidate row was recovered.
	RepairOK RepairKind = iota
	// RepairEmpty means the output parsed but held no rows.
	RepairEmpty
	// RepairUnrepairable means no JSON value could be recovered.
	RepairUnrepairable
)

func (k RepairKind) String() string {
	switch k {
	case RepairOK:
		return "ok"
	case RepairEmpty:
		return "empty"
	default:
		return "unrepairable"
	}
}

// RepairResult carries candidate rows when Kind is RepairOK. Rows are not validated yet.
type RepairResult struct {
	Kind RepairKind
	Rows []map[string]any
	// Fixes lists the repairs that were needed, for logging.
	Fixes []string
}

// Repairer turns raw model text into candidate rows.
type Repairer interface {
	Repair(raw string) RepairResult
}

// JSONRepairer recovers the rows payload from fenced, chatty or truncated model output.
type JSONRepairer struct{}

func (JSONRepairer) Repair(raw string) RepairResult {
	var fixes []string
	s := strings.TrimSpace(raw)
	if s == "" {
		return RepairResult{Kind: RepairEmpty}
	}

	if unfenced, ok := stripFences(s); ok {
		s = unfenced
		fixes = append(fixes, "fences")
	}

	// Commentary before the payload may itself contain brackets ("the [2] rows below"),
	// so each opening bracket is tried until one yields rows.
	best := RepairResult{Kind: RepairUnrepairable, Fixes: fixes}
	for i, start := range openings(s, maxRepairStarts) {
		res := repairFrom(s, start, fixes)
		if res.Kind == RepairOK {
			return res
		}
		if i == 0 || res.Kind < best.Kind {
			best = res
		}
	}
	return best
}

// maxRepairStarts bounds how many opening brackets Repair tries.
const maxRepairStarts = 16

// openings returns the offsets of the first n '{' or '[' bytes in s.
func openings(s string, n int) []int {
	var out []int
	for i := 0; i < len(s) && len(out) < n; i++ {
		if s[i] == '{' || s[i] == '[' {
			out = append(out, i)
		}
	}
	return out
}

func repairFrom(s string, start int, fixes []string) RepairResult {
	fixes = append([]string(nil), fixes...)
	if start > 0 {
		fixes = append(fixes, "leading_text")
	}
	s = s[start:]

	body, complete := closeValue(s)
	if body == "" {
		return RepairResult{Kind: RepairUnrepairable, Fixes: fixes}
	}
	if !complete {
		fixes = append(fixes, "truncated")
	} else if len(body) < len(strings.TrimSpace(s)) {
		fixes = append(fixes, "trailing_text")
	}

	if cleaned := stripTrailingCommas(body); cleaned != body {
		body = cleaned
		fixes = append(fixes, "trailing_commas")
	}

	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return RepairResult{Kind: RepairUnrepairable, Fixes: fixes}
	}

	rows := rowsFrom(v)
	if len(rows) == 0 {
		return RepairResult{Kind: RepairEmpty, Fixes: fixes}
	}
	return RepairResult{Kind: RepairOK, Rows: rows, Fixes: fixes}
}

// stripFences returns the body of the first ``` fence. An unterminated fence runs to the end.
func stripFences(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open < 0 {
		return s, false
	}
	rest := s[open+3:]
	// drop the info string, e.g. ```json
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		rest = strings.TrimPrefix(rest, "json")
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}

type cutPoint struct {
	at    int
	stack []byte
}

// closeValue returns the first complete JSON value in s, dropping anything after it.
// When s is truncated it cuts back to the last complete element and appends the missing closers.
func closeValue(s string) (string, bool) {
	var (
		stack    []byte
		inString bool
		escaped  bool
		last     *cutPoint
	)
	mark := func(at int) {
		last = &cutPoint{at: at, stack: append([]byte(nil), stack...)}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
			mark(i + 1)
		case '[':
			stack = append(stack, ']')
			mark(i + 1)
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				// mismatched closer; treat the rest as noise
				return finish(s, last)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1], true
			}
			mark(i + 1)
		case ',':
			mark(i)
		}
	}
	return finish(s, last)
}

func finish(s string, last *cutPoint) (string, bool) {
	if last == nil {
		return "", false
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(s[:last.at], " \t\r\n,"))
	for i := len(last.stack) - 1; i >= 0; i-- {
		b.WriteByte(last.stack[i])
	}
	return b.String(), false
}

// stripTrailingCommas removes commas that directly precede a closing bracket.
func stripTrailingCommas(s string) string {
	var (
		b        strings.Builder
		inString bool
		escaped  bool
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// rowsFrom accepts {"rows": [...]}, {"transactions": [...]}, a bare array, or a single row object.
func rowsFrom(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		return objects(t)
	case map[string]any:
		for _, key := range []string{"rows", "transactions"} {
			if list, ok := t[key].([]any); ok {
				return objects(list)
			}
		}
		if looksLikeRow(t) {
			return []map[string]any{t}
		}
	}
	return nil
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func looksLikeRow(m map[string]any) bool {
	for _, k := range []string{"date", "description", "amount"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}
