// Package parser classifies raw log bytes as text, JSON, or binary and
// extracts structured fields from each. Formats are a closed tagged set
// dispatched through Classify; new formats extend the tag set.
package parser

import (
	"encoding/json"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Type tags the top-level content class.
type Type string

const (
	TypeText    Type = "text"
	TypeJSON    Type = "json"
	TypeBinary  Type = "binary"
	TypeUnknown Type = "unknown"
)

// Detected format names within each type.
const (
	FormatStandard    = "standard"
	FormatApache      = "apache"
	FormatNginx       = "nginx"
	FormatKeyValue    = "key_value"
	FormatJSON        = "json"
	FormatInvalidJSON = "invalid_json"
	FormatGzip        = "gzip"
	FormatZip         = "zip"
	FormatPNG         = "png"
	FormatJPEG        = "jpeg"
	FormatUnknown     = "unknown"
)

// Record is the result of one parser invocation. It is returned to the
// caller and never persisted.
type Record struct {
	Type     Type           `json:"type"`
	Format   string         `json:"format"`
	Raw      string         `json:"raw,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
	Encoding string         `json:"encoding,omitempty"`
	Size     int            `json:"size,omitempty"`
	Hex      string         `json:"hex,omitempty"`
}

// Classify inspects raw bytes and picks a parser type. Binary magic
// prefixes win over everything; a JSON document must both look like one and
// decode; text requires valid or recoverable character data.
func Classify(data []byte) Type {
	if len(data) == 0 {
		return TypeUnknown
	}
	if guessBinaryFormat(data) != FormatUnknown {
		return TypeBinary
	}
	trimmed := strings.TrimLeftFunc(string(data[:min(len(data), 512)]), unicode.IsSpace)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if json.Valid(data) {
			return TypeJSON
		}
	}
	if utf8.Valid(data) || printableRatio(data) >= 0.85 {
		return TypeText
	}
	return TypeBinary
}

// ForPath picks a parser type from a file extension, defaulting to text.
func ForPath(p string) Type {
	switch strings.ToLower(path.Ext(p)) {
	case ".json", ".ndjson":
		return TypeJSON
	case ".gz", ".zip", ".png", ".jpg", ".jpeg", ".bin":
		return TypeBinary
	default:
		return TypeText
	}
}

// Parse classifies data and dispatches to the matching parser. The text
// parser is the default when classification is uncertain.
func Parse(data []byte) Record {
	return ParseAs(Classify(data), data)
}

// ParseAs parses data with the parser for the given type.
func ParseAs(t Type, data []byte) Record {
	switch t {
	case TypeJSON:
		return parseJSON(data)
	case TypeBinary:
		return parseBinary(data)
	default:
		return parseText(data)
	}
}

// ExtractFields parses data with the parser for t and returns only the
// requested fields. Missing fields are omitted, never errored.
func ExtractFields(t Type, data []byte, fields []string) map[string]any {
	switch t {
	case TypeJSON:
		return extractJSONFields(data, fields)
	case TypeBinary:
		return extractBinaryFields(data, fields)
	default:
		return extractTextFields(data, fields)
	}
}

// printableRatio reports the fraction of bytes that are printable ASCII or
// common whitespace.
func printableRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	printable := 0
	for _, b := range data {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7f) {
			printable++
		}
	}
	return float64(printable) / float64(len(data))
}
