package parser

import (
	"bytes"
	"encoding/hex"
	"regexp"
	"strings"
)

var magicPrefixes = []struct {
	prefix []byte
	format string
}{
	{[]byte{0x1f, 0x8b}, FormatGzip},
	{[]byte("PK\x03\x04"), FormatZip},
	{[]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, FormatPNG},
	{[]byte{0xff, 0xd8, 0xff}, FormatJPEG},
}

// guessBinaryFormat returns a best-effort format guess from magic-byte
// prefixes, or FormatUnknown.
func guessBinaryFormat(data []byte) string {
	for _, m := range magicPrefixes {
		if bytes.HasPrefix(data, m.prefix) {
			return m.format
		}
	}
	return FormatUnknown
}

// parseBinary reports the payload size, its hex dump, and a magic-prefix
// format guess. Binary content carries no decoded fields.
func parseBinary(data []byte) Record {
	return Record{
		Type:   TypeBinary,
		Format: guessBinaryFormat(data),
		Fields: map[string]any{},
		Size:   len(data),
		Hex:    hex.EncodeToString(data),
	}
}

// extractBinaryFields supports the two structural fields binary payloads
// expose: an 8-byte header and the remaining payload, both hex-encoded.
func extractBinaryFields(data []byte, fields []string) map[string]any {
	out := map[string]any{}
	for _, field := range fields {
		switch field {
		case "header":
			if len(data) >= 8 {
				out[field] = hex.EncodeToString(data[:8])
			}
		case "payload":
			if len(data) > 8 {
				out[field] = hex.EncodeToString(data[8:])
			}
		}
	}
	return out
}

// ExtractHexMessages extracts substrings matching pattern from the
// hex-encoded form of data. When the pattern does not compile as a regular
// expression it falls back to a plain substring search, returning the
// matched region plus a bounded amount of trailing context.
func ExtractHexMessages(data []byte, pattern string) []string {
	hexContent := hex.EncodeToString(data)

	re, err := regexp.Compile(pattern)
	if err != nil {
		idx := strings.Index(hexContent, pattern)
		if idx < 0 {
			return nil
		}
		end := idx + len(pattern) + 100
		if end > len(hexContent) {
			end = len(hexContent)
		}
		return []string{hexContent[idx:end]}
	}
	return re.FindAllString(hexContent, -1)
}
