package parser

import (
	"encoding/json"
	"strings"
)

// parseJSON decodes bytes (UTF-8, falling back through the candidate
// encodings) and attempts a structured parse. A failed parse reports format
// "invalid_json" with empty fields rather than an error.
func parseJSON(data []byte) Record {
	rec := Record{
		Type:   TypeJSON,
		Fields: map[string]any{},
	}

	text, enc, err := DecodeText(data)
	if err != nil {
		rec.Format = FormatInvalidJSON
		return rec
	}
	rec.Raw = text
	rec.Encoding = enc

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		rec.Format = FormatInvalidJSON
		return rec
	}

	rec.Format = FormatJSON
	if obj, ok := parsed.(map[string]any); ok {
		rec.Fields = obj
	} else {
		rec.Fields = map[string]any{"value": parsed}
	}
	return rec
}

// extractJSONFields returns the requested fields from a JSON document.
// Dotted paths ("user.name") walk nested objects; a field whose path does
// not resolve is silently omitted.
func extractJSONFields(data []byte, fields []string) map[string]any {
	parsed := parseJSON(data)
	if parsed.Format == FormatInvalidJSON {
		return map[string]any{}
	}

	out := map[string]any{}
	for _, field := range fields {
		if v, ok := lookupPath(parsed.Fields, field); ok {
			out[field] = v
		}
	}
	return out
}

// lookupPath walks a dotted path through nested string-keyed maps.
func lookupPath(obj map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = obj
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
