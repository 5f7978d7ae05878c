package engine

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/logreach/logreach/internal/metrics"
	"github.com/logreach/logreach/internal/parser"
)

// ReadRequest selects a file and bounds the returned content.
type ReadRequest struct {
	Path            string `json:"path"`
	MaxSize         int64  `json:"max_size"`
	MaxPreviewLines int    `json:"max_preview_lines"`
	SearchPattern   string `json:"search_pattern"`
}

// Match is one matched line.
type Match struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// ReadResult is the read envelope.
type ReadResult struct {
	Path      string  `json:"path"`
	Content   string  `json:"content"`
	Preview   string  `json:"preview,omitempty"`
	Encoding  string  `json:"encoding,omitempty"`
	Size      int64   `json:"size"`
	Truncated bool    `json:"truncated"`
	IsBinary  bool    `json:"is_binary"`
	Matches   []Match `json:"matches,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Extensions rejected without reading content.
var binaryExtensions = map[string]bool{
	".gz": true, ".zip": true, ".tar": true, ".bz2": true, ".xz": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bin": true, ".exe": true, ".so": true, ".o": true, ".a": true,
}

// ReadFile reads a text log file, detecting and decoding its charset,
// truncating at the size bound, and optionally returning line matches for
// a search pattern. Directories and binary content are rejected.
func (e *Engine) ReadFile(ctx context.Context, req ReadRequest) ReadResult {
	start := time.Now()
	res := e.readFile(ctx, req)
	metrics.RecordOperation("read_log_file", time.Since(start), res.Error == "")
	return res
}

func (e *Engine) readFile(ctx context.Context, req ReadRequest) ReadResult {
	if req.MaxSize <= 0 {
		req.MaxSize = e.opts.MaxFileSize
	}
	if req.MaxPreviewLines <= 0 {
		req.MaxPreviewLines = e.opts.MaxPreviewLines
	}

	if err := e.gate.ValidatePath(req.Path); err != nil {
		metrics.RecordSecurityRejection("path")
		return ReadResult{Path: req.Path, Error: fmt.Sprintf("%v: %v", ErrSecurityRejected, err)}
	}
	var searchRE *regexp.Regexp
	if req.SearchPattern != "" {
		re, err := regexp.Compile(req.SearchPattern)
		if err != nil {
			return ReadResult{Path: req.Path, Error: fmt.Sprintf("%v: %v", ErrInvalidPattern, err)}
		}
		searchRE = re
	}

	r, err := e.acquire(ctx)
	if err != nil {
		return ReadResult{Path: req.Path, Error: err.Error()}
	}

	fi, err := e.statCached(r, req.Path)
	if err != nil {
		return ReadResult{Path: req.Path, Error: err.Error()}
	}
	if fi.IsDir {
		return ReadResult{Path: req.Path, Error: fmt.Sprintf("%s is a directory", req.Path)}
	}
	if ext := strings.ToLower(path.Ext(req.Path)); binaryExtensions[ext] {
		return ReadResult{Path: req.Path, Size: fi.Size, IsBinary: true,
			Error: fmt.Sprintf("%s has binary extension %s", req.Path, ext)}
	}

	// Remote MIME probe; a failure falls through to the content sniff.
	if mime, ok := e.probeMIME(ctx, r, req.Path); ok && !textMIME(mime) {
		return ReadResult{Path: req.Path, Size: fi.Size, IsBinary: true,
			Error: fmt.Sprintf("%s is binary (%s)", req.Path, mime)}
	}

	n := fi.Size
	truncated := false
	if n > req.MaxSize {
		n = req.MaxSize
		truncated = true
	}
	data, err := r.ReadAt(req.Path, 0, int(n))
	if err != nil {
		return ReadResult{Path: req.Path, Error: fmt.Sprintf("read %s: %v", req.Path, err)}
	}
	metrics.RecordRemoteBytesRead(int64(len(data)))

	sniff := data
	if len(sniff) > sniffLen {
		sniff = sniff[:sniffLen]
	}
	if parser.Classify(sniff) == parser.TypeBinary {
		return ReadResult{Path: req.Path, Size: fi.Size, IsBinary: true,
			Error: fmt.Sprintf("%s contains binary content", req.Path)}
	}

	text, encoding, err := e.decode(ctx, r, req.Path, data)
	if err != nil {
		return ReadResult{Path: req.Path, Size: fi.Size, Error: err.Error()}
	}

	res := ReadResult{
		Path:      req.Path,
		Content:   text,
		Preview:   headLines(text, req.MaxPreviewLines),
		Encoding:  encoding,
		Size:      fi.Size,
		Truncated: truncated,
	}
	if searchRE != nil {
		res.Matches = matchLines(text, searchRE, maxSearchMatches)
	}
	return res
}

// decode resolves the charset with a remote file(1) probe first, then the
// local BOM sniff and trial decoders.
func (e *Engine) decode(ctx context.Context, r Remote, p string, data []byte) (string, string, error) {
	if enc, ok := e.probeCharset(ctx, r, p); ok {
		switch enc {
		case "us-ascii", "utf-8":
			return string(data), parser.EncodingUTF8, nil
		}
	}
	text, encoding, err := parser.DecodeText(data)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrDecode, p)
	}
	return text, encoding, nil
}

// probeMIME asks the remote file(1) for a MIME type.
func (e *Engine) probeMIME(ctx context.Context, r Remote, p string) (string, bool) {
	out, ok := e.probe(ctx, r, "file --mime-type -b "+p)
	return out, ok
}

// probeCharset asks the remote file(1) for a character encoding.
func (e *Engine) probeCharset(ctx context.Context, r Remote, p string) (string, bool) {
	out, ok := e.probe(ctx, r, "file --mime-encoding -b "+p)
	return strings.ToLower(out), ok
}

func (e *Engine) probe(ctx context.Context, r Remote, cmd string) (string, bool) {
	safe, err := e.gate.SanitizeCommand(cmd)
	if err != nil {
		return "", false
	}
	res, err := r.Exec(ctx, safe)
	if err != nil || res.ExitCode != 0 {
		return "", false
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return "", false
	}
	return out, true
}

func textMIME(mime string) bool {
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/json", "application/x-ndjson", "inode/x-empty":
		return true
	}
	return false
}

// matchLines scans text line by line and returns up to max matches.
func matchLines(text string, re *regexp.Regexp, max int) []Match {
	var out []Match
	for i, line := range strings.Split(text, "\n") {
		if re.MatchString(line) {
			out = append(out, Match{Line: i + 1, Content: line})
			if len(out) >= max {
				break
			}
		}
	}
	return out
}
