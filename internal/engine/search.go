package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/logreach/logreach/internal/metrics"
)

// SearchResult is the remote-search envelope.
type SearchResult struct {
	Path    string  `json:"path"`
	Matches []Match `json:"matches"`
	Error   string  `json:"error,omitempty"`
}

// Search greps a remote file for a pattern and returns up to maxMatches
// line-number/content pairs. contextLines adds grep context around each
// match; context lines are not counted as matches.
func (e *Engine) Search(ctx context.Context, p, pattern string, maxMatches, contextLines int) SearchResult {
	start := time.Now()
	res := e.search(ctx, p, pattern, maxMatches, contextLines)
	metrics.RecordOperation("search_log_file", time.Since(start), res.Error == "")
	return res
}

func (e *Engine) search(ctx context.Context, p, pattern string, maxMatches, contextLines int) SearchResult {
	if maxMatches < 1 {
		maxMatches = maxSearchMatches
	}
	if contextLines < 0 {
		contextLines = 0
	}

	if err := e.gate.ValidatePath(p); err != nil {
		metrics.RecordSecurityRejection("path")
		return SearchResult{Path: p, Matches: []Match{}, Error: fmt.Sprintf("%v: %v", ErrSecurityRejected, err)}
	}
	if pattern == "" {
		return SearchResult{Path: p, Matches: []Match{}, Error: fmt.Sprintf("%v: empty pattern", ErrInvalidPattern)}
	}
	// Validate locally before shipping the pattern to the remote grep.
	if _, err := regexp.Compile(pattern); err != nil {
		return SearchResult{Path: p, Matches: []Match{}, Error: fmt.Sprintf("%v: %v", ErrInvalidPattern, err)}
	}

	// The pattern may hold spaces and regex metacharacters, so it is
	// quoted as one token rather than run through SanitizeCommand.
	cmd := fmt.Sprintf("grep -n -m %d", maxMatches)
	if contextLines > 0 {
		cmd += fmt.Sprintf(" -C %d", contextLines)
	}
	cmd += " " + e.gate.QuoteArg(pattern) + " " + e.gate.QuoteArg(p)

	r, err := e.acquire(ctx)
	if err != nil {
		return SearchResult{Path: p, Matches: []Match{}, Error: err.Error()}
	}

	out, err := r.Exec(ctx, cmd)
	if err != nil {
		return SearchResult{Path: p, Matches: []Match{}, Error: fmt.Sprintf("%v: %v", ErrRemoteCommand, err)}
	}
	// grep exits 1 on no matches; only >1 is a failure.
	if out.ExitCode > 1 {
		return SearchResult{Path: p, Matches: []Match{},
			Error: fmt.Sprintf("%v: exit %d: %s", ErrRemoteCommand, out.ExitCode, strings.TrimSpace(out.Stderr))}
	}

	return SearchResult{Path: p, Matches: parseGrepOutput(out.Stdout, maxMatches)}
}

// parseGrepOutput extracts line:content matches from grep -n output,
// skipping context lines (line-content) and group separators.
func parseGrepOutput(out string, max int) []Match {
	matches := []Match{}
	for _, line := range splitLines(out) {
		i := strings.Index(line, ":")
		if i <= 0 {
			continue
		}
		n, err := strconv.Atoi(line[:i])
		if err != nil {
			continue
		}
		matches = append(matches, Match{Line: n, Content: line[i+1:]})
		if len(matches) >= max {
			break
		}
	}
	return matches
}
