package llm

// BuildRowJSONSchema returns the JSON-Schema a single extracted row must satisfy.
// Only date, description and amount are required; type is normalized afterwards.
// Amounts are signed here and must be non-zero; the sign later becomes the type.
func BuildRowJSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date":        map[string]any{"type": "string", "minLength": 1, "pattern": `\S`},
			"description": map[string]any{"type": "string", "minLength": 1, "pattern": `\S`},
			"amount":      map[string]any{"type": "number", "not": map[string]any{"const": 0}},
			"type":        map[string]any{"type": "string"},
		},
		"required": []string{"date", "description", "amount"},
	}
}
