package engine

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/logreach/logreach/internal/logging"
	"github.com/logreach/logreach/internal/metrics"
	"github.com/logreach/logreach/internal/parser"
	"github.com/logreach/logreach/internal/sshpool"
)

// ListRequest selects and filters a directory listing.
type ListRequest struct {
	Path            string `json:"path"`
	Pattern         string `json:"pattern"`
	MaxDepth        int    `json:"max_depth"`
	ReadContent     bool   `json:"read_content"`
	SearchPattern   string `json:"search_pattern"`
	MaxFileSize     int64  `json:"max_file_size"`
	MaxPreviewLines int    `json:"max_preview_lines"`
}

// FileEntry is one listed file.
type FileEntry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Mode     string    `json:"mode"`
	Modified time.Time `json:"modified"`
	TooLarge bool      `json:"too_large,omitempty"`
	Preview  string    `json:"preview,omitempty"`
}

// ListResult is the listing envelope. TotalFiles counts every file seen in
// the walk, FilteredFiles the ones the pattern or content filter excluded.
type ListResult struct {
	Files         []FileEntry `json:"files"`
	TotalFiles    int         `json:"total_files"`
	FilteredFiles int         `json:"filtered_files"`
	TotalSize     int64       `json:"total_size"`
	ElapsedMs     int64       `json:"elapsed_ms"`
	Error         string      `json:"error,omitempty"`
}

// ListFiles enumerates files under a directory up to a bounded depth,
// filters them by glob pattern and optionally by content match, and
// returns them newest first.
func (e *Engine) ListFiles(ctx context.Context, req ListRequest) ListResult {
	start := time.Now()
	res := e.listFiles(ctx, req)
	res.ElapsedMs = time.Since(start).Milliseconds()
	metrics.RecordOperation("list_log_files", time.Since(start), res.Error == "")
	return res
}

func (e *Engine) listFiles(ctx context.Context, req ListRequest) ListResult {
	if req.Path == "" {
		req.Path = e.opts.DefaultLogPath
	}
	if req.Pattern == "" {
		req.Pattern = "*"
	}
	if req.MaxDepth < 1 || req.MaxDepth > maxListDepth {
		req.MaxDepth = maxListDepth
	}
	if req.MaxFileSize <= 0 {
		req.MaxFileSize = e.opts.MaxFileSize
	}
	if req.MaxPreviewLines <= 0 {
		req.MaxPreviewLines = e.opts.MaxPreviewLines
	}

	if err := e.gate.ValidatePath(req.Path); err != nil {
		metrics.RecordSecurityRejection("path")
		return ListResult{Files: []FileEntry{}, Error: fmt.Sprintf("%v: %v", ErrSecurityRejected, err)}
	}
	if _, err := path.Match(req.Pattern, "probe"); err != nil {
		return ListResult{Files: []FileEntry{}, Error: fmt.Sprintf("%v: glob %q", ErrInvalidPattern, req.Pattern)}
	}
	var searchRE *regexp.Regexp
	if req.SearchPattern != "" {
		re, err := regexp.Compile(req.SearchPattern)
		if err != nil {
			return ListResult{Files: []FileEntry{}, Error: fmt.Sprintf("%v: %v", ErrInvalidPattern, err)}
		}
		searchRE = re
	}

	r, err := e.acquire(ctx)
	if err != nil {
		return ListResult{Files: []FileEntry{}, Error: err.Error()}
	}

	w := &listWalker{
		engine:   e,
		remote:   r,
		req:      req,
		searchRE: searchRE,
	}
	if err := w.walk(ctx, req.Path, 1); err != nil {
		return ListResult{Files: []FileEntry{}, Error: err.Error()}
	}

	if w.files == nil {
		w.files = []FileEntry{}
	}
	sort.Slice(w.files, func(i, j int) bool {
		return w.files[i].Modified.After(w.files[j].Modified)
	})
	return ListResult{
		Files:         w.files,
		TotalFiles:    w.total,
		FilteredFiles: w.filtered,
		TotalSize:     w.totalSize,
	}
}

type listWalker struct {
	engine   *Engine
	remote   Remote
	req      ListRequest
	searchRE *regexp.Regexp

	files     []FileEntry
	total     int
	filtered  int
	totalSize int64
}

func (w *listWalker) walk(ctx context.Context, dir string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := w.remote.ReadDir(dir)
	if err != nil {
		if depth == 1 {
			return classifyStatErr(dir, err)
		}
		// Unreadable subdirectories are skipped, not fatal.
		logging.Debug("skipping unreadable directory",
			zap.String("path", dir), zap.Error(err))
		return nil
	}

	for _, fi := range entries {
		if fi.IsDir {
			if depth < w.req.MaxDepth {
				if err := w.walk(ctx, fi.Path, depth+1); err != nil {
					return err
				}
			}
			continue
		}

		w.total++
		w.totalSize += fi.Size

		if ok, _ := path.Match(w.req.Pattern, fi.Name); !ok {
			w.filtered++
			continue
		}

		entry := FileEntry{
			Name:     fi.Name,
			Path:     fi.Path,
			Size:     fi.Size,
			Mode:     fi.Mode.String(),
			Modified: fi.ModTime,
		}

		if fi.Size > w.req.MaxFileSize {
			// Included but marked; no preview is attempted.
			entry.TooLarge = true
			w.files = append(w.files, entry)
			continue
		}

		if w.req.ReadContent || w.searchRE != nil {
			preview, err := w.engine.preview(w.remote, fi, w.req.MaxPreviewLines)
			if err != nil {
				logging.Debug("preview failed",
					zap.String("path", fi.Path), zap.Error(err))
			}
			if w.searchRE != nil && !w.searchRE.MatchString(preview) {
				w.filtered++
				continue
			}
			if w.req.ReadContent {
				entry.Preview = preview
			}
		}
		w.files = append(w.files, entry)
	}
	return nil
}

// preview reads the head of a file and returns its first n decoded lines.
func (e *Engine) preview(r Remote, fi sshpool.FileInfo, lines int) (string, error) {
	n := fi.Size
	if n > int64(previewByteCap) {
		n = previewByteCap
	}
	data, err := r.ReadAt(fi.Path, 0, int(n))
	if err != nil {
		return "", err
	}
	metrics.RecordRemoteBytesRead(int64(len(data)))
	text, _, err := parser.DecodeText(data)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecode, fi.Path)
	}
	return headLines(text, lines), nil
}

const previewByteCap = 64 * 1024

// headLines returns the first n lines of text.
func headLines(text string, n int) string {
	split := strings.SplitN(text, "\n", n+1)
	if len(split) > n {
		split = split[:n]
	}
	return strings.Join(split, "\n")
}
