package parser

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// Candidate encodings tried in order when bytes are not valid UTF-8. The
// first decoder that succeeds wins.
const (
	EncodingUTF8    = "utf-8"
	EncodingUTF16LE = "utf-16le"
	EncodingUTF16BE = "utf-16be"
	EncodingLatin1  = "latin-1"
	EncodingGBK     = "gbk"
	EncodingBinary  = "binary"
)

// SniffBOM reports the encoding indicated by a byte-order mark, or "" when
// none is present.
func SniffBOM(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xef, 0xbb, 0xbf}):
		return EncodingUTF8
	case bytes.HasPrefix(data, []byte{0xff, 0xfe}):
		return EncodingUTF16LE
	case bytes.HasPrefix(data, []byte{0xfe, 0xff}):
		return EncodingUTF16BE
	default:
		return ""
	}
}

// DecodeText decodes raw bytes to a string, trying UTF-8 first and falling
// back through Latin-1 and GBK. It returns the decoded text and the name of
// the encoding that succeeded.
func DecodeText(data []byte) (string, string, error) {
	if bom := SniffBOM(data); bom != "" {
		switch bom {
		case EncodingUTF8:
			return string(data[3:]), EncodingUTF8, nil
		case EncodingUTF16LE:
			out, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
			if err == nil {
				return string(out), EncodingUTF16LE, nil
			}
		case EncodingUTF16BE:
			out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
			if err == nil {
				return string(out), EncodingUTF16BE, nil
			}
		}
	}

	if utf8.Valid(data) {
		return string(data), EncodingUTF8, nil
	}
	if out, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
		return string(out), EncodingLatin1, nil
	}
	if out, err := simplifiedchinese.GBK.NewDecoder().Bytes(data); err == nil {
		return string(out), EncodingGBK, nil
	}
	return "", "", fmt.Errorf("no candidate encoding decodes %d bytes", len(data))
}
