package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/logreach/logreach/internal/metrics"
)

// DownloadResult is the download envelope. Data is the whole file,
// base64-encoded; it is never a partial payload.
type DownloadResult struct {
	Path     string `json:"path"`
	Data     string `json:"data"`
	MIMEType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size"`
	Error    string `json:"error,omitempty"`
}

// Download fetches a whole file within the size cap and returns it
// base64-encoded with a detected MIME type. Directories and oversize files
// are rejected before any transfer.
func (e *Engine) Download(ctx context.Context, p string, maxSize int64) DownloadResult {
	start := time.Now()
	res := e.download(ctx, p, maxSize)
	metrics.RecordOperation("download_log_file", time.Since(start), res.Error == "")
	return res
}

func (e *Engine) download(ctx context.Context, p string, maxSize int64) DownloadResult {
	if maxSize <= 0 {
		maxSize = defaultDownloadSize
	}
	if maxSize > maxDownloadSize {
		maxSize = maxDownloadSize
	}

	if err := e.gate.ValidatePath(p); err != nil {
		metrics.RecordSecurityRejection("path")
		return DownloadResult{Path: p, Error: fmt.Sprintf("%v: %v", ErrSecurityRejected, err)}
	}

	r, err := e.acquire(ctx)
	if err != nil {
		return DownloadResult{Path: p, Error: err.Error()}
	}

	fi, err := e.statCached(r, p)
	if err != nil {
		return DownloadResult{Path: p, Error: err.Error()}
	}
	if fi.IsDir {
		return DownloadResult{Path: p, Error: fmt.Sprintf("%s is a directory", p)}
	}
	if fi.Size > maxSize {
		return DownloadResult{Path: p,
			Error: fmt.Sprintf("%v: %s is %d bytes, cap %d", ErrTooLarge, p, fi.Size, maxSize)}
	}

	data, err := r.ReadAt(p, 0, int(fi.Size))
	if err != nil {
		return DownloadResult{Path: p, Error: fmt.Sprintf("read %s: %v", p, err)}
	}
	// All or nothing: a short read means the file changed underneath us.
	if int64(len(data)) != fi.Size {
		return DownloadResult{Path: p,
			Error: fmt.Sprintf("read %s: got %d of %d bytes", p, len(data), fi.Size)}
	}
	metrics.RecordRemoteBytesRead(int64(len(data)))

	mime, ok := e.probeMIME(ctx, r, p)
	if !ok {
		mime = mimetype.Detect(data).String()
	}

	return DownloadResult{
		Path:     p,
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: mime,
		Size:     fi.Size,
	}
}
