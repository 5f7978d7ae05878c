package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/logreach/logreach/internal/metrics"
)

// TailResult is the tail envelope.
type TailResult struct {
	Path  string   `json:"path"`
	Lines []string `json:"lines"`
	Error string   `json:"error,omitempty"`
}

// Tail returns the last n lines of a file via a sanitized remote tail.
// A nonzero exit surfaces the remote stderr in the error.
func (e *Engine) Tail(ctx context.Context, p string, lines int) TailResult {
	start := time.Now()
	res := e.tail(ctx, p, lines)
	metrics.RecordOperation("tail_log_file", time.Since(start), res.Error == "")
	return res
}

func (e *Engine) tail(ctx context.Context, p string, lines int) TailResult {
	if lines < 1 {
		lines = e.opts.MaxPreviewLines
	}
	if lines > maxTailLines {
		lines = maxTailLines
	}

	if err := e.gate.ValidatePath(p); err != nil {
		metrics.RecordSecurityRejection("path")
		return TailResult{Path: p, Lines: []string{}, Error: fmt.Sprintf("%v: %v", ErrSecurityRejected, err)}
	}

	cmd, err := e.gate.SanitizeCommand(fmt.Sprintf("tail -n %d %s", lines, p))
	if err != nil {
		metrics.RecordSecurityRejection("command")
		return TailResult{Path: p, Lines: []string{}, Error: fmt.Sprintf("%v: %v", ErrSecurityRejected, err)}
	}

	r, err := e.acquire(ctx)
	if err != nil {
		return TailResult{Path: p, Lines: []string{}, Error: err.Error()}
	}

	out, err := r.Exec(ctx, cmd)
	if err != nil {
		return TailResult{Path: p, Lines: []string{}, Error: fmt.Sprintf("%v: %v", ErrRemoteCommand, err)}
	}
	if out.ExitCode != 0 {
		return TailResult{Path: p, Lines: []string{},
			Error: fmt.Sprintf("%v: exit %d: %s", ErrRemoteCommand, out.ExitCode, strings.TrimSpace(out.Stderr))}
	}

	return TailResult{Path: p, Lines: splitLines(out.Stdout)}
}

// splitLines splits command output on newlines, dropping a trailing empty
// line from the final newline.
func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}
