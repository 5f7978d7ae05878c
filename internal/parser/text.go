package parser

import "regexp"

// Known line formats tried in priority order. Nginx precedes Apache because
// the Apache pattern is a strict prefix of the nginx one and would shadow it.
var textFormats = []struct {
	name string
	re   *regexp.Regexp
	keys []string
}{
	{
		name: FormatStandard,
		re:   regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) \[([A-Z]+)\] (.+)`),
		keys: []string{"timestamp", "level", "message"},
	},
	{
		name: FormatNginx,
		re:   regexp.MustCompile(`^(\S+) - \S+ \[([^\]]+)\] "([^"]+)" (\d+) (\d+) "([^"]*)" "([^"]*)"`),
		keys: []string{"ip", "time", "request", "status", "size", "referer", "user_agent"},
	},
	{
		name: FormatApache,
		re:   regexp.MustCompile(`^(\S+) \S+ \S+ \[([^\]]+)\] "([^"]+)" (\d+) (\d+)`),
		keys: []string{"ip", "time", "request", "status", "size"},
	},
}

var (
	keyValueRE  = regexp.MustCompile(`(\w+)=(\S+)`)
	timestampRE = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)
	levelRE     = regexp.MustCompile(`\b(INFO|DEBUG|WARNING|WARN|ERROR|CRITICAL|FATAL)\b`)
	ipv4RE      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
)

// parseText matches the named line formats in priority order, stopping at
// the first hit. When nothing matches it scavenges a timestamp, a severity
// token, and an IPv4 address independently and reports format "unknown"
// with whatever it found.
func parseText(data []byte) Record {
	text, enc, err := DecodeText(data)
	if err != nil {
		// Undecodable bytes still produce a record; the raw form is lossy.
		text = string(data)
		enc = EncodingBinary
	}

	rec := Record{
		Type:     TypeText,
		Raw:      text,
		Fields:   map[string]any{},
		Encoding: enc,
	}

	for _, f := range textFormats {
		m := f.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		rec.Format = f.name
		for i, key := range f.keys {
			rec.Fields[key] = m[i+1]
		}
		return rec
	}

	// key=value lines: only claim the format when the line starts with a pair.
	if loc := keyValueRE.FindStringIndex(text); loc != nil && loc[0] == 0 {
		rec.Format = FormatKeyValue
		for _, m := range keyValueRE.FindAllStringSubmatch(text, -1) {
			rec.Fields[m[1]] = m[2]
		}
		return rec
	}

	rec.Format = FormatUnknown
	if m := timestampRE.FindString(text); m != "" {
		rec.Fields["timestamp"] = m
	}
	if m := levelRE.FindString(text); m != "" {
		rec.Fields["level"] = m
	}
	if m := ipv4RE.FindString(text); m != "" {
		rec.Fields["ip"] = m
	}
	return rec
}

// extractTextFields parses the content, then serves each requested field
// from the parsed fields or, failing that, a key[=:]value scan of the raw
// text.
func extractTextFields(data []byte, fields []string) map[string]any {
	parsed := parseText(data)

	out := map[string]any{}
	for _, field := range fields {
		if v, ok := parsed.Fields[field]; ok {
			out[field] = v
			continue
		}
		re, err := regexp.Compile(regexp.QuoteMeta(field) + `[=:]\s*([^\s,;]+)`)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(parsed.Raw); m != nil {
			out[field] = m[1]
		}
	}
	return out
}
